// Package services holds the business logic for identities, proximity and
// transmissions. This file centralizes the service-level error values so
// handlers can map them to HTTP results with errors.Is.
package services

import (
	"errors"

	"github.com/tbourn/go-drop-backend/internal/socket"
)

// Identity errors.
var (
	// ErrIdentityNotFound indicates that no identity matches the given id or name.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrInvalidGeolocation is returned for coordinates outside the valid
	// longitude/latitude ranges.
	ErrInvalidGeolocation = errors.New("invalid geolocation")

	// ErrNoGeolocation is returned by geolocation proximity lookups when the
	// caller has not shared coordinates yet.
	ErrNoGeolocation = errors.New("identity has no geolocation")
)

// Transmission errors.
var (
	// ErrNotConnected means the target identity has no live session.
	ErrNotConnected = errors.New("target identity is not connected")

	// ErrDeliveryFailed means the request could not be written to the
	// target's connection. It is the socket sentinel so either can be matched.
	ErrDeliveryFailed = socket.ErrDeliveryFailed

	// ErrNoPayload is returned when a file transmission carries no file.
	ErrNoPayload = errors.New("request has no attached file")

	// ErrNotFound is returned when a staged transmission does not exist, is
	// not addressed to the caller, or is already being retrieved.
	ErrNotFound = errors.New("transmission not found")

	// ErrInvalidMessage is returned for empty or over-long message text.
	ErrInvalidMessage = errors.New("message must be 1-256 characters")

	// ErrTargetIsSelf is returned when an identity addresses itself.
	ErrTargetIsSelf = errors.New("cannot send to yourself")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrUnsupportedMedia is returned when the sniffed content type is not
	// on the allowlist.
	ErrUnsupportedMedia = errors.New("file type is not supported")
)
