// Package services – IdentityService
//
// IdentityService owns anonymous identities: creation with a unique
// generated display name, lookup, geolocation updates and explicit deletion.
// Deletion goes through the presence registry so a live connection is closed
// and staged transmissions are released exactly as on grace expiry.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/names"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/socket"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IdentityService manages identity rows.
type IdentityService struct {
	DB       *gorm.DB
	Names    *names.Generator
	Presence Presence

	// NameAttempts bounds how many random names are tried before a numeric
	// suffix is appended.
	NameAttempts int
}

// NewIdentityService constructs an IdentityService with default name retries.
func NewIdentityService(db *gorm.DB, gen *names.Generator, p Presence) *IdentityService {
	return &IdentityService{DB: db, Names: gen, Presence: p, NameAttempts: 20}
}

// Create makes a new identity for a client at ip.
func (s *IdentityService) Create(ctx context.Context, ip string) (*domain.Identity, error) {
	ctx, span := otel.Tracer("services/IdentityService").Start(ctx, "Create")
	defer span.End()

	attempts := s.NameAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; ; i++ {
		name := s.Names.Generate()
		if i >= attempts {
			name = fmt.Sprintf("%s %d", name, i)
		}
		id := &domain.Identity{ID: uuid.NewString(), Name: name, IP: ip}
		err := repo.CreateIdentity(ctx, s.DB, id)
		if err == nil {
			span.SetAttributes(attribute.String("identity.id", id.ID))
			return id, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) || i >= attempts+10 {
			return nil, err
		}
	}
}

// Get returns the identity with the given id.
func (s *IdentityService) Get(ctx context.Context, id string) (*domain.Identity, error) {
	out, err := repo.GetIdentity(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	return out, err
}

// GetByName returns the identity with the given display name.
func (s *IdentityService) GetByName(ctx context.Context, name string) (*domain.Identity, error) {
	out, err := repo.GetIdentityByName(ctx, s.DB, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	return out, err
}

// UpdateGeolocation stores coordinates and tells other sessions to refresh
// their geolocation proximity views.
func (s *IdentityService) UpdateGeolocation(ctx context.Context, id string, lon, lat float64) error {
	ctx, span := otel.Tracer("services/IdentityService").Start(ctx, "UpdateGeolocation",
		trace.WithAttributes(attribute.String("identity.id", id)),
	)
	defer span.End()

	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return ErrInvalidGeolocation
	}
	if err := repo.SetIdentityGeolocation(ctx, s.DB, id, lon, lat); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return err
	}
	if s.Presence != nil {
		s.Presence.Broadcast(ctx, socket.EventNearbyGeolocation, nil, id)
	}
	return nil
}

// Delete terminates the identity: its connection is closed, staged
// transmissions addressed to it are removed and the row is deleted.
func (s *IdentityService) Delete(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("services/IdentityService").Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("identity.id", id)),
	)
	defer span.End()

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if s.Presence != nil {
		s.Presence.Terminate(ctx, id)
		return nil
	}
	return repo.DeleteIdentity(ctx, s.DB, id)
}
