// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Identity
// model.
//
// All functions are context-aware and accept a *gorm.DB handle. Missing rows
// surface as ErrNotFound; a name collision on insert surfaces as ErrDuplicate
// so callers can retry with another generated name.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateIdentity inserts a new identity row. It returns ErrDuplicate when the
// display name is already taken.
func CreateIdentity(ctx context.Context, db *gorm.DB, id *domain.Identity) error {
	now := time.Now().UTC()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	id.UpdatedAt = now
	if id.State == "" {
		id.State = domain.StateDisconnected
	}
	if err := db.WithContext(ctx).Create(id).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetIdentity fetches an identity by UUID, or ErrNotFound.
func GetIdentity(ctx context.Context, db *gorm.DB, id string) (*domain.Identity, error) {
	var out domain.Identity
	if err := db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIdentityByName fetches an identity by its display name, or ErrNotFound.
func GetIdentityByName(ctx context.Context, db *gorm.DB, name string) (*domain.Identity, error) {
	var out domain.Identity
	if err := db.WithContext(ctx).First(&out, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// SetIdentityState updates the connection state. A missing row is not an
// error: the identity may already have been deleted by termination.
func SetIdentityState(ctx context.Context, db *gorm.DB, id string, state domain.IdentityState) error {
	return db.WithContext(ctx).
		Model(&domain.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": state, "updated_at": time.Now().UTC()}).Error
}

// SetIdentityGeolocation stores the caller's coordinates. It returns
// ErrNotFound when no row matched.
func SetIdentityGeolocation(ctx context.Context, db *gorm.DB, id string, lon, lat float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"longitude": lon, "latitude": lat, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdentity hard-deletes an identity row. Deleting a missing row is a no-op.
func DeleteIdentity(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Delete(&domain.Identity{}, "id = ?", id).Error
}

// ListConnectedByIP returns connected identities sharing ip, excluding one id.
func ListConnectedByIP(ctx context.Context, db *gorm.DB, ip, excludeID string) ([]domain.Identity, error) {
	var out []domain.Identity
	err := db.WithContext(ctx).
		Where("ip = ? AND state = ? AND id <> ?", ip, domain.StateConnected, excludeID).
		Order("name ASC").
		Find(&out).Error
	return out, err
}

// ListConnectedWithGeolocation returns connected identities that have
// coordinates, excluding one id. Distance filtering is done by the caller.
func ListConnectedWithGeolocation(ctx context.Context, db *gorm.DB, excludeID string) ([]domain.Identity, error) {
	var out []domain.Identity
	err := db.WithContext(ctx).
		Where("state = ? AND id <> ? AND longitude IS NOT NULL AND latitude IS NOT NULL",
			domain.StateConnected, excludeID).
		Find(&out).Error
	return out, err
}

// isUniqueViolation matches unique-constraint failures across drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
