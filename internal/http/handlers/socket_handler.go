// Websocket handler.
//
// GET /socket upgrades the connection. The client must send
//
//	{"event": "identify", "data": {"uuid": "<identity uuid>"}}
//
// within the identify timeout; afterwards every frame is dispatched to the
// identity's presence session until the peer goes away.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/services"
	"github.com/tbourn/go-drop-backend/internal/socket"
)

// Registrar binds a live connection to an identity.
type Registrar interface {
	Register(ctx context.Context, identityID string, conn socket.Conn) (*socket.Session, error)
}

// Socket error codes sent in an "error" event before the server closes.
const (
	SocketCodeIdentifyRequired = "identify_required"
	SocketCodeUnknownIdentity  = "unknown_identity"
	SocketCodeTooManySessions  = "too_many_connections"
)

// SocketHandler serves the presence websocket.
type SocketHandler struct {
	Identities IdentityService
	Registry   Registrar

	OriginPatterns  []string
	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
	ReadLimit       int64 // max inbound frame size; 0 keeps the library default
}

// Serve godoc
// @ID          socket
// @Summary     Presence websocket
// @Description Upgrades to a websocket. The first frame must be an identify event carrying the identity uuid.
// @Tags        Presence
// @Success     101  {string}  string  "Switching Protocols"
// @Router      /socket [get]
func (h *SocketHandler) Serve(c *gin.Context) {
	log := middleware.LoggerFrom(c)

	// Hijacked connections keep the server's deadlines otherwise.
	rc := http.NewResponseController(c.Writer)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:     h.OriginPatterns,
		InsecureSkipVerify: allowsAnyOrigin(h.OriginPatterns),
	})
	if err != nil {
		// Accept has already written the HTTP error.
		log.Debug().Err(err).Msg("websocket upgrade rejected")
		c.Abort()
		return
	}
	if h.ReadLimit > 0 {
		ws.SetReadLimit(h.ReadLimit)
	}
	conn := socket.NewWSConn(ws, h.WriteTimeout)
	ctx := c.Request.Context()

	identityID, err := h.identify(ctx, conn)
	if err != nil {
		log.Debug().Err(err).Msg("websocket identify failed")
		return
	}

	sess, err := h.Registry.Register(ctx, identityID, conn)
	if err != nil {
		switch {
		case errors.Is(err, socket.ErrTooManyConnections):
			reject(ctx, conn, SocketCodeTooManySessions, "server is at capacity, retry later")
		case errors.Is(err, socket.ErrTerminating):
			reject(ctx, conn, SocketCodeUnknownIdentity, "identity has expired")
		default:
			reject(ctx, conn, ErrCodeInternal, "could not register session")
			log.Error().Err(err).Msg("register session")
		}
		return
	}

	for {
		f, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, socket.ErrBadFrame) {
				continue
			}
			if !socket.IsClosedError(err) {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}
		sess.Dispatch(ctx, f.Event, f.Data)
	}
	sess.Disconnected(context.WithoutCancel(ctx))
}

var errIdentify = errors.New("identify failed")

func (h *SocketHandler) identify(ctx context.Context, conn *socket.WSConn) (string, error) {
	idCtx := ctx
	if h.IdentifyTimeout > 0 {
		var cancel context.CancelFunc
		idCtx, cancel = context.WithTimeout(ctx, h.IdentifyTimeout)
		defer cancel()
	}

	f, err := conn.Read(idCtx)
	if err != nil {
		// An expired read context closes the websocket itself.
		reject(ctx, conn, SocketCodeIdentifyRequired, "identify event expected")
		return "", err
	}
	var p socket.IdentifyPayload
	if f.Event != socket.EventIdentify || json.Unmarshal(f.Data, &p) != nil {
		reject(ctx, conn, SocketCodeIdentifyRequired, "identify event expected")
		return "", errIdentify
	}
	if _, err := uuid.Parse(p.UUID); err != nil {
		reject(ctx, conn, SocketCodeUnknownIdentity, "unknown identity")
		return "", errIdentify
	}
	if _, err := h.Identities.Get(ctx, p.UUID); err != nil {
		if errors.Is(err, services.ErrIdentityNotFound) {
			reject(ctx, conn, SocketCodeUnknownIdentity, "unknown identity")
		} else {
			reject(ctx, conn, ErrCodeInternal, "identity lookup failed")
		}
		return "", errors.Join(errIdentify, err)
	}
	return p.UUID, nil
}

// reject sends a best-effort error event and closes the connection.
func reject(ctx context.Context, conn socket.Conn, code, msg string) {
	if data, err := socket.Marshal(socket.ErrorPayload{Code: code, Message: msg}); err == nil {
		_ = conn.Send(ctx, socket.EventError, data)
	}
	_ = conn.Close(code)
}

func allowsAnyOrigin(patterns []string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
	}
	return false
}
