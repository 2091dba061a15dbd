// Package domain defines the persistence models for identities and staged
// transmissions. These types are mapped with GORM and form the core data
// layer of the drop service.
package domain

import "time"

// IdentityState is the connection state recorded on an Identity row.
type IdentityState string

const (
	// StateConnected marks an identity with a live websocket session.
	StateConnected IdentityState = "connected"
	// StateDisconnected marks an identity whose session is in its grace period
	// or that never connected.
	StateDisconnected IdentityState = "disconnected"
)

// Identity is an anonymous, ephemeral actor. It is created over HTTP, bound
// to a websocket session, and deleted when that session terminates.
//
// Fields:
//   - ID: UUID primary key, doubles as the bearer token.
//   - Name: generated "Adjective Animal" display name, unique.
//   - IP: client network address used for same-network discovery.
//   - Longitude / Latitude: optional coordinates for proximity discovery.
//   - State: connected|disconnected.
//
// Rows are hard-deleted; there is no soft deletion for identities.
type Identity struct {
	ID        string        `json:"uuid"                gorm:"type:char(36);primaryKey"`
	Name      string        `json:"name"                gorm:"type:varchar(64);not null;uniqueIndex:ux_identity_name"`
	IP        string        `json:"-"                   gorm:"type:varchar(64);not null;index:idx_identity_ip"`
	Longitude *float64      `json:"longitude,omitempty"`
	Latitude  *float64      `json:"latitude,omitempty"`
	State     IdentityState `json:"state"               gorm:"type:varchar(16);not null;default:'disconnected';index:idx_identity_state"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Identity.
func (Identity) TableName() string { return "identities" }

// HasGeolocation reports whether both coordinates are set.
func (i *Identity) HasGeolocation() bool {
	return i != nil && i.Longitude != nil && i.Latitude != nil
}

// MessageTransmission is a staged text payload awaiting negotiation or a
// single pull by its recipient.
type MessageTransmission struct {
	ID        string    `json:"uuid"       gorm:"type:char(36);primaryKey"`
	RequestID string    `json:"-"          gorm:"type:char(36);not null;uniqueIndex:ux_message_request"`
	FromID    string    `json:"-"          gorm:"type:char(36);not null;index:idx_message_from"`
	ToID      string    `json:"-"          gorm:"type:char(36);not null;index:idx_message_to"`
	Message   string    `json:"message"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for MessageTransmission.
func (MessageTransmission) TableName() string { return "message_transmissions" }

// FileTransmission is a staged upload. It owns exactly one object in the file
// store, addressed by FileKey; row and object are deleted together.
type FileTransmission struct {
	ID           string    `json:"uuid"              gorm:"type:char(36);primaryKey"`
	RequestID    string    `json:"-"                 gorm:"type:char(36);not null;uniqueIndex:ux_file_request"`
	FromID       string    `json:"-"                 gorm:"type:char(36);not null;index:idx_file_from"`
	ToID         string    `json:"-"                 gorm:"type:char(36);not null;index:idx_file_to"`
	FileKey      string    `json:"-"                 gorm:"type:varchar(128);not null"`
	OriginalName string    `json:"file_original_name" gorm:"type:varchar(255);not null"`
	MimeType     string    `json:"file_mime_type"    gorm:"type:varchar(255);not null"`
	Size         int64     `json:"file_size"         gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for FileTransmission.
func (FileTransmission) TableName() string { return "file_transmissions" }
