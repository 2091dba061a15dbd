// Package socket implements presence over persistent websocket connections:
// the Registry of live sessions, the per-session grace period that survives
// short disconnects, and the PendingTable that correlates an outbound
// "request" event with the peer's asynchronous "response".
//
// Frames on the wire are JSON objects of the form
//
//	{"event": "request", "data": {...}}
//
// where data is optional and event is one of the constants below.
package socket

import "encoding/json"

// Wire events.
const (
	// client -> server
	EventIdentify           = "identify"
	EventResponse           = "response"
	EventGeolocationUpdated = "updated:geolocation"

	// server -> client
	EventRequest             = "request"
	EventRequestTimeout      = "request:timeout"
	EventRequestRetracted    = "request:retracted"
	EventTransmissionMessage = "transmission:message"
	EventTransmissionFile    = "transmission:file"
	EventNearbyIP            = "update:nearby-ip"
	EventNearbyGeolocation   = "update:nearby-geolocation"
	EventError               = "error"
)

// Transmission kinds carried in RequestPayload.Kind.
const (
	KindMessage = "message"
	KindFile    = "file"
)

// Frame is one websocket message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IdentifyPayload is the first frame a client must send.
type IdentifyPayload struct {
	UUID string `json:"uuid"`
}

// RequestPayload is what the target of a negotiation sees. It never carries
// identity ids or the staged transmission uuid.
type RequestPayload struct {
	CorrelationID    string `json:"correlationId"`
	Kind             string `json:"kind"`
	FromName         string `json:"fromName"`
	FileOriginalName string `json:"fileOriginalName,omitempty"`
	FileMimeType     string `json:"fileMimeType,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty"`
}

// ResponsePayload is the target's verdict, and is echoed back to the requester.
// Older clients send the correlation id as requestUuid.
type ResponsePayload struct {
	CorrelationID string `json:"correlationId"`
	RequestUUID   string `json:"requestUuid,omitempty"`
	Accepted      bool   `json:"accepted"`
}

// ID returns the correlation id, honoring the legacy field name.
func (p ResponsePayload) ID() string {
	if p.CorrelationID != "" {
		return p.CorrelationID
	}
	return p.RequestUUID
}

// CorrelationPayload is sent with request:timeout and request:retracted.
type CorrelationPayload struct {
	CorrelationID string `json:"correlationId"`
}

// ErrorPayload accompanies EventError before the server closes a connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Marshal encodes v for use as Frame.Data. A nil v yields nil data.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
