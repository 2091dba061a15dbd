// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for the send endpoints. It
// validates an Idempotency-Key request header and, when a lookup is given,
// checks whether the same identity already completed the same route with
// that key. A hit is stashed in the context so the handler can answer with
// the original request uuid instead of staging and negotiating again, and so
// the rate limiter lets the replay through.
//
// The middleware must run after Auth: records are scoped to the identity.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // string: request uuid of the earlier send
	ctxKeyIdemStatus = "idem.status" // int: status of the earlier send
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Replay returns the request uuid and status recorded for this key, if the
// request repeats an earlier completed send.
func Replay(c *gin.Context) (requestID string, status int, ok bool) {
	v, found := c.Get(ctxKeyIdemReplay)
	if !found {
		return "", 0, false
	}
	requestID, _ = v.(string)
	status = c.GetInt(ctxKeyIdemStatus)
	return requestID, status, requestID != ""
}

// IdempotencyScope names the record scope for a request: the matched route.
func IdempotencyScope(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return c.Request.Method + " " + p
	}
	return c.Request.Method + " " + c.Request.URL.Path
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil uses ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the request uuid and status of an unexpired
// record for (identityID, scope, key). found=false with a nil error means no
// record. Errors never block the request.
type IdempotencyLookup func(ctx context.Context, identityID, scope, key string, now time.Time) (requestID string, status int, found bool, err error)

// IdempotencyValidator validates and stashes the Idempotency-Key header and
// marks replays.
//
//   - header absent: no-op
//   - header invalid: 400 bad_idempotency_key
//   - lookup hit: Replay(c) reports the earlier request uuid
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			reqID, status, found, err := lookup(c.Request.Context(), IdentityID(c), IdempotencyScope(c), key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup")
			}
			if found {
				c.Set(ctxKeyIdemReplay, reqID)
				c.Set(ctxKeyIdemStatus, status)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
