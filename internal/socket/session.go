package socket

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is a Session's lifecycle phase.
type State int

const (
	// StateActive: transport open.
	StateActive State = iota
	// StateGracePeriod: transport closed, timer running, pending requests kept.
	StateGracePeriod
	// StateTerminated: removed from the registry, resources released.
	StateTerminated
	// StateReplaced: superseded by a newer session that took over its table.
	StateReplaced
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateGracePeriod:
		return "grace"
	case StateTerminated:
		return "terminated"
	case StateReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Listener receives inbound frames for an event.
type Listener func(ctx context.Context, data json.RawMessage)

// ListenerID identifies an injected listener for removal.
type ListenerID uint64

// Session binds one identity to one transport connection. It owns the
// identity's PendingTable until a reconnect hands the table to a successor.
//
// Lock order is Registry.mu before Session.mu.
type Session struct {
	id  string
	gen uint64
	reg *Registry
	log zerolog.Logger

	mu        sync.Mutex
	conn      Conn
	state     State
	pending   *PendingTable
	grace     *time.Timer
	listeners map[string]map[ListenerID]Listener
	nextID    ListenerID
}

func newSession(reg *Registry, id string, conn Conn, pending *PendingTable, gen uint64) *Session {
	return &Session{
		id:        id,
		gen:       gen,
		reg:       reg,
		log:       reg.log.With().Str("identity_id", id).Logger(),
		conn:      conn,
		state:     StateActive,
		pending:   pending,
		listeners: make(map[string]map[ListenerID]Listener),
	}
}

// ID returns the identity id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the session's request table.
func (s *Session) Pending() *PendingTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Emit sends event to this session. It returns false when the transport is
// not open or the write fails, and true without sending when the session's
// own identity is excluded.
func (s *Session) Emit(ctx context.Context, event string, data json.RawMessage, exclude ...string) bool {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()

	if state != StateActive || conn == nil {
		return false
	}
	if slices.Contains(exclude, s.id) {
		return true
	}
	if err := conn.Send(ctx, event, data); err != nil {
		s.log.Debug().Err(err).Str("event", event).Msg("socket write failed")
		return false
	}
	eventsTotal.WithLabelValues("out", event).Inc()
	return true
}

// InjectListener subscribes fn to inbound frames named event.
func (s *Session) InjectListener(event string, fn Listener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[ListenerID]Listener)
	}
	s.listeners[event][id] = fn
	return id
}

// RemoveListener unsubscribes a listener. Unknown ids are ignored.
func (s *Session) RemoveListener(event string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.listeners[event]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.listeners, event)
		}
	}
}

// OpenRequest registers req in the pending table and then emits the request
// event to this session. If the event cannot be written the entry is
// withdrawn and ErrDeliveryFailed is returned.
func (s *Session) OpenRequest(ctx context.Context, req Request) (*PendingRequest, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	data, err := Marshal(req.payload())
	if err != nil {
		return nil, err
	}

	table := s.Pending()
	if table == nil {
		return nil, ErrSessionClosed
	}
	p, err := table.add(req)
	if err != nil {
		return nil, err
	}
	if !s.Emit(ctx, EventRequest, data) {
		table.withdraw(p.ID)
		return nil, ErrDeliveryFailed
	}
	s.log.Debug().Str("request_id", p.ID).Str("kind", req.Kind).Msg("request opened")
	return p, nil
}

// CloseRequest withdraws a pending request. It is idempotent.
func (s *Session) CloseRequest(correlationID string) {
	if t := s.Pending(); t != nil {
		t.Close(correlationID)
	}
}

// Dispatch handles one inbound frame from this session's transport. Frames
// arriving after the session stopped being active are dropped.
func (s *Session) Dispatch(ctx context.Context, event string, data json.RawMessage) {
	if s.State() != StateActive {
		return
	}
	eventsTotal.WithLabelValues("in", inboundLabel(event)).Inc()

	switch event {
	case EventResponse:
		var resp ResponsePayload
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID() == "" {
			s.log.Debug().Msg("ignoring malformed response")
			break
		}
		v := Declined
		if resp.Accepted {
			v = Accepted
		}
		if t := s.Pending(); t == nil || !t.Resolve(resp.ID(), v) {
			s.log.Debug().Str("request_id", resp.ID()).Msg("response for unknown or resolved request")
		}
	case EventGeolocationUpdated:
		s.reg.Broadcast(ctx, EventNearbyGeolocation, nil, s.id)
	}

	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners[event]))
	for _, fn := range s.listeners[event] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ctx, data)
	}
}

// Disconnected moves an active session into its grace period. It is called
// once the transport's read loop ends. Sessions that were replaced or
// terminated in the meantime ignore the call.
func (s *Session) Disconnected(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateGracePeriod
	s.conn = nil
	s.grace = time.AfterFunc(s.reg.grace, s.expire)
	s.mu.Unlock()

	s.reg.setState(ctx, s.id, s.gen, false)

	s.log.Info().Dur("grace", s.reg.grace).Msg("session disconnected")
	s.reg.observe()
	s.reg.Broadcast(ctx, EventNearbyIP, nil, s.id)
	s.reg.Broadcast(ctx, EventNearbyGeolocation, nil, s.id)
}

// handOff marks s as replaced and returns its table and, if it was still
// active, its connection. Caller holds Registry.mu.
func (s *Session) handOff() (*PendingTable, Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	var conn Conn
	if s.state == StateActive {
		conn = s.conn
	}
	s.state = StateReplaced
	s.conn = nil
	table := s.pending
	s.pending = nil
	return table, conn
}

// terminate marks s terminated and returns what the caller must release.
// Caller holds Registry.mu.
func (s *Session) terminate() (*PendingTable, Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	var conn Conn
	if s.state == StateActive {
		conn = s.conn
	}
	s.state = StateTerminated
	s.conn = nil
	return s.pending, conn
}

// expire runs when the grace timer fires. A reconnect that took the registry
// lock first leaves s replaced, which turns this into a no-op.
func (s *Session) expire() {
	r := s.reg
	r.mu.Lock()
	if r.sessions[s.id] != s {
		r.mu.Unlock()
		return
	}
	s.mu.Lock()
	if s.state != StateGracePeriod {
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	s.mu.Unlock()
	table, _ := s.terminate()
	delete(r.sessions, s.id)
	r.terminating[s.id]++
	r.mu.Unlock()

	s.log.Info().Msg("grace period expired")
	r.finish(context.Background(), s.id, table)
}
