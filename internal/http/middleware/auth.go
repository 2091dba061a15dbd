// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer authentication. Identities are anonymous; the
// bearer token is the identity uuid handed out by POST /identities. Auth
// resolves it to the stored identity and stashes both the id and the row in
// the Gin context for handlers, the rate limiter and the idempotency check.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-drop-backend/internal/domain"
)

const (
	ctxKeyIdentityID = "userID"
	ctxKeyIdentity   = "identity"
)

// ErrUnknownIdentity is what an IdentityLookup returns for ids that do not
// resolve. Any other error is treated as a server failure.
var ErrUnknownIdentity = errors.New("unknown identity")

// IdentityLookup loads an identity by uuid.
type IdentityLookup func(ctx context.Context, id string) (*domain.Identity, error)

// Auth requires "Authorization: Bearer <uuid>" naming an existing identity.
func Auth(lookup IdentityLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if _, err := uuid.Parse(token); err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "malformed bearer token")
			return
		}
		id, err := lookup(c.Request.Context(), token)
		switch {
		case errors.Is(err, ErrUnknownIdentity):
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "unknown identity")
			return
		case err != nil:
			LoggerFrom(c).Error().Err(err).Msg("identity lookup")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		c.Set(ctxKeyIdentityID, id.ID)
		c.Set(ctxKeyIdentity, id)
		scoped := LoggerFrom(c).With().Str("identity", id.Name).Logger()
		c.Set(ctxKeyLogger, &scoped)
		c.Next()
	}
}

// IdentityFrom returns the identity resolved by Auth.
func IdentityFrom(c *gin.Context) (*domain.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return nil, false
	}
	id, ok := v.(*domain.Identity)
	return id, ok && id != nil
}

// IdentityID returns the authenticated identity uuid, or "".
func IdentityID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyIdentityID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerToken(h string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// abortJSON writes the standard error envelope. Handlers have their own copy
// (handlers.Fail); middleware cannot import that package.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
