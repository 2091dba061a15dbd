// Package handlers implements the public HTTP API: identities, proximity,
// transmissions and the websocket endpoint.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// IdentityService manages anonymous identities.
type IdentityService interface {
	Create(ctx context.Context, ip string) (*domain.Identity, error)
	Get(ctx context.Context, id string) (*domain.Identity, error)
	GetByName(ctx context.Context, name string) (*domain.Identity, error)
	UpdateGeolocation(ctx context.Context, id string, lon, lat float64) error
	Delete(ctx context.Context, id string) error
}

// NearbyService lists peers close to an identity.
type NearbyService interface {
	ByIP(ctx context.Context, identityID string) ([]services.Nearby, error)
	ByGeolocation(ctx context.Context, identityID string) ([]services.Nearby, error)
}

// TransmissionService stages, negotiates and hands out transmissions.
type TransmissionService interface {
	SendMessage(ctx context.Context, from *domain.Identity, toName, text string) (string, error)
	Upload(ctx context.Context, originalName string, r io.Reader) (*services.UploadedFile, error)
	DiscardUpload(ctx context.Context, up *services.UploadedFile)
	SendFile(ctx context.Context, from *domain.Identity, toName string, up *services.UploadedFile) (string, error)
	RetrieveMessage(ctx context.Context, identityID, id string) (*domain.MessageTransmission, error)
	RetrieveFile(ctx context.Context, identityID, id string) (*services.Retrieval, error)
}

// IdempotencyStore records completed sends for Idempotency-Key replays.
type IdempotencyStore interface {
	Remember(ctx context.Context, identityID, scope, key, requestID string, status int) error
}

//
// Handler wiring
//

// Handlers groups the REST endpoints.
type Handlers struct {
	ids    IdentityService
	nearby NearbyService
	tx     TransmissionService
	idem   IdempotencyStore

	// MaxUploadBytes caps the raw multipart body of a file send. The file
	// itself is capped by the transmission service.
	MaxUploadBytes int64
	// DownloadTimeout bounds a single file download; zero leaves the server
	// write timeout in charge.
	DownloadTimeout time.Duration
}

// New constructs Handlers. idem may be nil to disable Idempotency-Key support.
func New(ids IdentityService, nearby NearbyService, tx TransmissionService, idem IdempotencyStore) *Handlers {
	return &Handlers{ids: ids, nearby: nearby, tx: tx, idem: idem}
}
