package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/repo"
)

// IdempotencyService remembers which request uuid a send produced for an
// (identity, route, Idempotency-Key) triple, so a retried POST replays the
// answer instead of staging the payload again.
type IdempotencyService struct {
	DB  *gorm.DB
	TTL time.Duration
}

// Lookup returns the recorded request uuid and status, if unexpired.
func (s *IdempotencyService) Lookup(ctx context.Context, identityID, scope, key string, now time.Time) (string, int, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, identityID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return rec.RequestID, rec.Status, true, nil
}

// Remember records a completed send. A concurrent duplicate is not an error:
// the first record wins.
func (s *IdempotencyService) Remember(ctx context.Context, identityID, scope, key, requestID string, status int) error {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_, err := repo.CreateIdempotency(ctx, s.DB, identityID, scope, key, requestID, status, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Purge drops expired records and returns how many were removed.
func (s *IdempotencyService) Purge(ctx context.Context, now time.Time) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, now)
}
