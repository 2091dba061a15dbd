package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Terminator releases everything staged for an identity when it terminates.
type Terminator interface {
	CleanupFor(ctx context.Context, identityID string)
}

// IdentityStore is the slice of identity persistence the registry drives.
type IdentityStore interface {
	SetConnected(ctx context.Context, identityID string, connected bool) error
	Delete(ctx context.Context, identityID string) error
}

// Options configures a Registry.
type Options struct {
	// RequestTimeout bounds each pending request. Zero disables the timeout.
	RequestTimeout time.Duration
	// GracePeriod is how long a disconnected identity is kept before it is
	// terminated. Zero terminates on the next timer tick, which still runs
	// through the grace state.
	GracePeriod time.Duration
	// MaxConnections caps registered sessions. Zero means unlimited.
	MaxConnections int
	Logger         zerolog.Logger
}

// Registry maps identity id to its one Session.
type Registry struct {
	timeout  time.Duration
	grace    time.Duration
	maxConns int
	log      zerolog.Logger

	hookMu sync.RWMutex
	term   Terminator
	store  IdentityStore

	mu          sync.Mutex
	sessions    map[string]*Session
	terminating map[string]int // ids whose release sequence is still running
	gen         uint64

	stateMu  sync.Mutex
	presence map[string]*presence
}

// presence serializes state writes for one identity. gen is the newest
// session generation written.
type presence struct {
	mu  sync.Mutex
	gen uint64
}

// NewRegistry returns an empty registry.
func NewRegistry(opt Options) *Registry {
	return &Registry{
		timeout:     opt.RequestTimeout,
		grace:       opt.GracePeriod,
		maxConns:    opt.MaxConnections,
		log:         opt.Logger.With().Str("component", "socket").Logger(),
		sessions:    make(map[string]*Session),
		terminating: make(map[string]int),
		presence:    make(map[string]*presence),
	}
}

// SetHooks installs the termination and identity collaborators. Either may be
// nil. It is meant to be called once during startup, before any Register.
func (r *Registry) SetHooks(term Terminator, store IdentityStore) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.term, r.store = term, store
}

func (r *Registry) hooks() (Terminator, IdentityStore) {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return r.term, r.store
}

// Register binds conn to identityID. A predecessor in its grace period has
// its timer cancelled and its pending requests carried over; an active
// predecessor is closed as superseded and likewise handed over. While the
// identity is being terminated Register fails with ErrTerminating.
func (r *Registry) Register(ctx context.Context, identityID string, conn Conn) (*Session, error) {
	r.mu.Lock()
	if r.terminating[identityID] > 0 {
		r.mu.Unlock()
		return nil, ErrTerminating
	}
	prev := r.sessions[identityID]
	if prev == nil && r.maxConns > 0 && len(r.sessions) >= r.maxConns {
		r.mu.Unlock()
		return nil, ErrTooManyConnections
	}

	var (
		table    *PendingTable
		prevConn Conn
	)
	if prev != nil {
		table, prevConn = prev.handOff()
	}
	resumed := table != nil
	if table == nil {
		table = NewPendingTable(r.timeout)
	}
	r.gen++
	s := newSession(r, identityID, conn, table, r.gen)
	r.sessions[identityID] = s
	r.mu.Unlock()

	if prevConn != nil {
		_ = prevConn.Close("superseded")
	}
	r.setState(ctx, identityID, s.gen, true)
	r.observe()

	s.log.Info().Bool("resumed", resumed).Int("pending", table.Len()).Msg("session registered")
	r.Broadcast(ctx, EventNearbyIP, nil, identityID)
	return s, nil
}

// Lookup returns the registered session for identityID, if any.
func (r *Registry) Lookup(identityID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[identityID]
	return s, ok
}

// Emit sends to one identity. It returns false when the identity has no
// active session.
func (r *Registry) Emit(ctx context.Context, identityID, event string, data json.RawMessage) bool {
	s, ok := r.Lookup(identityID)
	if !ok {
		return false
	}
	return s.Emit(ctx, event, data)
}

// Terminate ends identityID immediately: the live connection, if any, is
// closed and the same release sequence as grace expiry runs. It is used when
// an identity is deleted explicitly and works for identities that never
// connected.
func (r *Registry) Terminate(ctx context.Context, identityID string) {
	var (
		table *PendingTable
		conn  Conn
	)
	r.mu.Lock()
	if s, ok := r.sessions[identityID]; ok {
		table, conn = s.terminate()
		delete(r.sessions, identityID)
	}
	r.terminating[identityID]++
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close("terminated")
	}
	r.finish(ctx, identityID, table)
}

// finish releases everything owned by a terminated identity. The caller has
// already marked identityID as terminating; finish clears the mark once the
// identity row is gone.
func (r *Registry) finish(ctx context.Context, identityID string, table *PendingTable) {
	if table != nil {
		if n := table.CloseAll(); n > 0 {
			r.log.Debug().Str("identity_id", identityID).Int("closed", n).Msg("closed pending requests")
		}
	}
	term, store := r.hooks()
	if term != nil {
		term.CleanupFor(ctx, identityID)
	}
	if store != nil {
		if err := store.Delete(ctx, identityID); err != nil {
			r.log.Error().Err(err).Str("identity_id", identityID).Msg("delete identity")
		}
	}

	r.stateMu.Lock()
	delete(r.presence, identityID)
	r.stateMu.Unlock()

	r.mu.Lock()
	if r.terminating[identityID]--; r.terminating[identityID] <= 0 {
		delete(r.terminating, identityID)
	}
	r.mu.Unlock()

	terminationsTotal.Inc()
	r.observe()
	r.log.Info().Str("identity_id", identityID).Msg("identity terminated")

	r.Broadcast(ctx, EventNearbyIP, nil, identityID)
	r.Broadcast(ctx, EventNearbyGeolocation, nil, identityID)
}

// Broadcast emits to every registered session except the excluded ids and
// returns how many received it. Sessions in their grace period are skipped.
func (r *Registry) Broadcast(ctx context.Context, event string, data json.RawMessage, exclude ...string) int {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range targets {
		if s.Emit(ctx, event, data, exclude...) {
			n++
		}
	}
	return n
}

// Len returns the number of registered sessions, grace periods included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close shuts the registry down: connections are closed, grace timers are
// stopped and pending requests are resolved as Closed. Identities are not
// deleted; ResetConnectionState handles them on the next start.
func (r *Registry) Close() {
	r.mu.Lock()
	type release struct {
		table *PendingTable
		conn  Conn
	}
	rel := make([]release, 0, len(r.sessions))
	for id, s := range r.sessions {
		t, c := s.terminate()
		rel = append(rel, release{t, c})
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, x := range rel {
		if x.conn != nil {
			_ = x.conn.Close("server shutdown")
		}
		if x.table != nil {
			x.table.CloseAll()
		}
	}
	r.observe()
}

// setState writes presence for the session generation gen. Writes for one
// identity are serialized and a write from an older session than the last
// one written is dropped, so a slow disconnect never overwrites the state of
// the reconnect that replaced it. Identities no longer registered are
// skipped; termination deletes their row.
func (r *Registry) setState(ctx context.Context, identityID string, gen uint64, connected bool) {
	_, store := r.hooks()
	if store == nil {
		return
	}
	p := r.presenceFor(identityID)
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen < p.gen {
		return
	}
	p.gen = gen
	if err := store.SetConnected(ctx, identityID, connected); err != nil {
		r.log.Warn().Err(err).Str("identity_id", identityID).Bool("connected", connected).Msg("update identity state")
	}
}

// presenceFor returns the write lock for a registered identity, or nil.
// Lock order is stateMu before mu.
func (r *Registry) presenceFor(identityID string) *presence {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.mu.Lock()
	_, registered := r.sessions[identityID]
	r.mu.Unlock()
	if !registered {
		return nil
	}
	p := r.presence[identityID]
	if p == nil {
		p = &presence{}
		r.presence[identityID] = p
	}
	return p
}

// observe refreshes the session gauges.
func (r *Registry) observe() {
	var active, grace int
	r.mu.Lock()
	for _, s := range r.sessions {
		switch s.State() {
		case StateActive:
			active++
		case StateGracePeriod:
			grace++
		}
	}
	r.mu.Unlock()
	sessionsGauge.WithLabelValues("active").Set(float64(active))
	sessionsGauge.WithLabelValues("grace").Set(float64(grace))
}
