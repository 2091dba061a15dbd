package socket

import (
	"context"
	"sync"
	"time"
)

// Verdict is how a pending request ended.
type Verdict int

const (
	Accepted Verdict = iota + 1
	Declined
	TimedOut
	// Closed means the request was withdrawn without an answer: the target
	// identity was terminated or the registry shut down.
	Closed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Request describes a negotiation to open on a target session.
type Request struct {
	// CorrelationID identifies the request on the wire. Generated when empty.
	CorrelationID string
	FromID        string
	ToID          string
	Kind          string
	FromName      string
	File          *FileMeta
}

// FileMeta is the file description shown to the target before it decides.
type FileMeta struct {
	OriginalName string
	MimeType     string
	Size         int64
}

func (r Request) payload() RequestPayload {
	p := RequestPayload{
		CorrelationID: r.CorrelationID,
		Kind:          r.Kind,
		FromName:      r.FromName,
	}
	if r.File != nil {
		p.FileOriginalName = r.File.OriginalName
		p.FileMimeType = r.File.MimeType
		p.FileSize = r.File.Size
	}
	return p
}

// PendingRequest is an open request awaiting its single verdict.
type PendingRequest struct {
	ID     string
	FromID string
	ToID   string

	done  chan Verdict // cap 1, written once by whoever removes the entry
	timer *time.Timer
}

// Done yields the verdict exactly once.
func (p *PendingRequest) Done() <-chan Verdict { return p.done }

// Wait blocks until the request resolves or ctx ends.
func (p *PendingRequest) Wait(ctx context.Context) (Verdict, error) {
	select {
	case v := <-p.done:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// PendingTable maps correlation id to an open request for one identity.
// Removal from the map under mu is the only way a request resolves, so a
// response racing its own timeout can never deliver twice.
type PendingTable struct {
	timeout time.Duration

	mu   sync.Mutex
	reqs map[string]*PendingRequest
}

// NewPendingTable returns an empty table whose requests time out after d.
func NewPendingTable(d time.Duration) *PendingTable {
	return &PendingTable{timeout: d, reqs: make(map[string]*PendingRequest)}
}

// add registers req and arms its timeout. The entry exists before the caller
// emits anything, so a fast response always finds it.
func (t *PendingTable) add(req Request) (*PendingRequest, error) {
	p := &PendingRequest{
		ID:     req.CorrelationID,
		FromID: req.FromID,
		ToID:   req.ToID,
		done:   make(chan Verdict, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.reqs[p.ID]; dup {
		return nil, ErrDuplicateRequest
	}
	t.reqs[p.ID] = p
	if t.timeout > 0 {
		id := p.ID
		p.timer = time.AfterFunc(t.timeout, func() { t.Resolve(id, TimedOut) })
	}
	return p, nil
}

// take removes and returns the entry for id, stopping its timer.
func (t *PendingTable) take(id string) *PendingRequest {
	t.mu.Lock()
	p, ok := t.reqs[id]
	if ok {
		delete(t.reqs, id)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// Resolve ends the request with v. It reports false when id is unknown or
// was already resolved; such late resolutions are dropped silently.
func (t *PendingTable) Resolve(id string, v Verdict) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	p.done <- v
	requestsTotal.WithLabelValues(v.String()).Inc()
	return true
}

// Close withdraws id. Calling it again, or after the request resolved, is a
// no-op.
func (t *PendingTable) Close(id string) bool { return t.Resolve(id, Closed) }

// withdraw drops id without delivering a verdict. Used when the request
// event never reached the target.
func (t *PendingTable) withdraw(id string) { t.take(id) }

// CloseAll resolves every open request as Closed.
func (t *PendingTable) CloseAll() int {
	t.mu.Lock()
	ids := make([]string, 0, len(t.reqs))
	for id := range t.reqs {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	n := 0
	for _, id := range ids {
		if t.Close(id) {
			n++
		}
	}
	return n
}

// Len returns the number of open requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}
