// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for staged message
// and file transmissions.
//
// Rows are addressed three ways: by their own UUID (pull retrieval), by the
// negotiation request UUID (outcome cleanup), and by recipient identity
// (termination cleanup). Deletes report whether a row was actually removed
// so callers can tell a first delete from a repeated one.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
)

// CreateMessageTransmission stages a message payload.
func CreateMessageTransmission(ctx context.Context, db *gorm.DB, fromID, toID, message string) (*domain.MessageTransmission, error) {
	m := &domain.MessageTransmission{
		ID:        uuid.NewString(),
		RequestID: uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessageTransmission fetches a staged message by UUID, or ErrNotFound.
func GetMessageTransmission(ctx context.Context, db *gorm.DB, id string) (*domain.MessageTransmission, error) {
	var out domain.MessageTransmission
	if err := db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessageTransmission removes a staged message by UUID and reports
// whether a row was deleted.
func DeleteMessageTransmission(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).Delete(&domain.MessageTransmission{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// DeleteMessageTransmissionByRequest removes the staged message tied to a
// negotiation request.
func DeleteMessageTransmissionByRequest(ctx context.Context, db *gorm.DB, requestID string) (bool, error) {
	res := db.WithContext(ctx).Delete(&domain.MessageTransmission{}, "request_id = ?", requestID)
	return res.RowsAffected > 0, res.Error
}

// ListMessageTransmissionsTo returns every staged message addressed to toID.
func ListMessageTransmissionsTo(ctx context.Context, db *gorm.DB, toID string) ([]domain.MessageTransmission, error) {
	var out []domain.MessageTransmission
	err := db.WithContext(ctx).Where("to_id = ?", toID).Order("created_at ASC").Find(&out).Error
	return out, err
}

// CreateFileTransmission stages a file payload whose bytes are already in the
// file store under f.FileKey. ID, RequestID and CreatedAt are filled in when
// empty.
func CreateFileTransmission(ctx context.Context, db *gorm.DB, f *domain.FileTransmission) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.RequestID == "" {
		f.RequestID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(f).Error
}

// GetFileTransmission fetches a staged file by UUID, or ErrNotFound.
func GetFileTransmission(ctx context.Context, db *gorm.DB, id string) (*domain.FileTransmission, error) {
	var out domain.FileTransmission
	if err := db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFileTransmissionByRequest fetches the staged file tied to a negotiation
// request, or ErrNotFound.
func GetFileTransmissionByRequest(ctx context.Context, db *gorm.DB, requestID string) (*domain.FileTransmission, error) {
	var out domain.FileTransmission
	if err := db.WithContext(ctx).First(&out, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteFileTransmission removes a staged file row by UUID. The stored object
// is the caller's responsibility.
func DeleteFileTransmission(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).Delete(&domain.FileTransmission{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// ListFileTransmissionsTo returns every staged file addressed to toID.
func ListFileTransmissionsTo(ctx context.Context, db *gorm.DB, toID string) ([]domain.FileTransmission, error) {
	var out []domain.FileTransmission
	err := db.WithContext(ctx).Where("to_id = ?", toID).Order("created_at ASC").Find(&out).Error
	return out, err
}
