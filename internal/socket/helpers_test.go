package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn records frames written to it.
type fakeConn struct {
	mu       sync.Mutex
	frames   []Frame
	failSend bool
	closed   bool
	reason   string
	onSend   func(event string, data json.RawMessage)
}

func (c *fakeConn) Send(_ context.Context, event string, data json.RawMessage) error {
	c.mu.Lock()
	if c.failSend || c.closed {
		c.mu.Unlock()
		return errors.New("write on closed conn")
	}
	c.frames = append(c.frames, Frame{Event: event, Data: data})
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(event, data)
	}
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed, c.reason = true, reason
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Event)
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Event == event {
			return c.frames[i], true
		}
	}
	return Frame{}, false
}

func (c *fakeConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.reason
}

// fakeStore records identity state changes and deletions.
type fakeStore struct {
	mu        sync.Mutex
	connected map[string]bool
	deleted   []string
	gate      chan struct{} // when set, disconnect writes block until closed
}

func newFakeStore() *fakeStore { return &fakeStore{connected: map[string]bool{}} }

func (s *fakeStore) SetConnected(_ context.Context, id string, connected bool) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil && !connected {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[id] = connected
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	delete(s.connected, id)
	return nil
}

func (s *fakeStore) isConnected(id string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.connected[id]
	return v, ok
}

func (s *fakeStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// fakeTerminator records cleanup calls. during, when set, runs inside
// CleanupFor.
type fakeTerminator struct {
	mu     sync.Mutex
	calls  []string
	during func(id string)
}

func (f *fakeTerminator) CleanupFor(_ context.Context, id string) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during(id)
	}
}

func (f *fakeTerminator) cleaned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestRegistry(t *testing.T, opt Options) (*Registry, *fakeStore, *fakeTerminator) {
	t.Helper()
	if opt.RequestTimeout == 0 {
		opt.RequestTimeout = time.Second
	}
	if opt.GracePeriod == 0 {
		opt.GracePeriod = time.Hour
	}
	opt.Logger = zerolog.Nop()
	r := NewRegistry(opt)
	store, term := newFakeStore(), &fakeTerminator{}
	r.SetHooks(term, store)
	t.Cleanup(r.Close)
	return r, store, term
}

func mustRegister(t *testing.T, r *Registry, id string, c Conn) *Session {
	t.Helper()
	s, err := r.Register(context.Background(), id, c)
	if err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	return s
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func respond(t *testing.T, s *Session, id string, accepted bool) {
	t.Helper()
	data, _ := json.Marshal(ResponsePayload{CorrelationID: id, Accepted: accepted})
	s.Dispatch(context.Background(), EventResponse, data)
}

// isOpen reports whether id is still pending in t.
func isOpen(t *PendingTable, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reqs[id]
	return ok
}
