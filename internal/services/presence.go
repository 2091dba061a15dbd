package services

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/socket"
)

// Presence is the live-session surface the services depend on.
// *socket.Registry implements it.
type Presence interface {
	Lookup(identityID string) (*socket.Session, bool)
	Emit(ctx context.Context, identityID, event string, data json.RawMessage) bool
	Broadcast(ctx context.Context, event string, data json.RawMessage, exclude ...string) int
	Terminate(ctx context.Context, identityID string)
}

// PresenceStore persists what the registry learns about identities. It
// implements socket.IdentityStore.
type PresenceStore struct {
	DB *gorm.DB
}

// SetConnected records the identity's connection state.
func (p PresenceStore) SetConnected(ctx context.Context, identityID string, connected bool) error {
	state := domain.StateDisconnected
	if connected {
		state = domain.StateConnected
	}
	return repo.SetIdentityState(ctx, p.DB, identityID, state)
}

// Delete removes the identity row.
func (p PresenceStore) Delete(ctx context.Context, identityID string) error {
	return repo.DeleteIdentity(ctx, p.DB, identityID)
}

// emitJSON marshals v and emits it to one identity through p.
func emitJSON(ctx context.Context, p Presence, identityID, event string, v any) bool {
	data, err := socket.Marshal(v)
	if err != nil {
		return false
	}
	return p.Emit(ctx, identityID, event, data)
}
