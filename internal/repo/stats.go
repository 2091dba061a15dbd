package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/domain"
)

// Stats is a snapshot of stored state, reported by the health endpoint.
type Stats struct {
	Identities     int64 `json:"identities"`
	Connected      int64 `json:"connected"`
	StagedMessages int64 `json:"stagedMessages"`
	StagedFiles    int64 `json:"stagedFiles"`
}

// CollectStats counts identities by presence and the staged transmissions
// still waiting to be pulled. Any failing query aborts the snapshot, which
// also makes it a cheap database readiness probe.
func CollectStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var s Stats
	q := db.WithContext(ctx)

	if err := q.Model(&domain.Identity{}).Count(&s.Identities).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.Identity{}).
		Where("state = ?", domain.StateConnected).
		Count(&s.Connected).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.MessageTransmission{}).Count(&s.StagedMessages).Error; err != nil {
		return Stats{}, err
	}
	if err := q.Model(&domain.FileTransmission{}).Count(&s.StagedFiles).Error; err != nil {
		return Stats{}, err
	}
	return s, nil
}
