// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, idempotency, and rate limiting.
//
// @title                      go-drop-backend API
// @version                    1.0
// @description                Anonymous nearby file and message drops negotiated over websockets.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/config"
	"github.com/tbourn/go-drop-backend/internal/docs"
	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/http/handlers"
	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/names"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/services"
	"github.com/tbourn/go-drop-backend/internal/socket"
	"github.com/tbourn/go-drop-backend/internal/storage"
)

// uploadSlack is what a multipart body may carry on top of the file itself
// (boundaries, part headers, the toName field).
const uploadSlack = 1 << 20

// Services bundles the application services the routes are bound to.
type Services struct {
	Identities    *services.IdentityService
	Nearby        *services.NearbyService
	Transmissions *services.TransmissionService
	Idempotency   *services.IdempotencyService
	Registry      *socket.Registry
	DB            *gorm.DB
}

// NewServices builds the presence registry and the services on top of it,
// and installs the registry's termination hooks.
func NewServices(db *gorm.DB, files storage.Store, cfg config.Config, log zerolog.Logger) *Services {
	reg := socket.NewRegistry(socket.Options{
		RequestTimeout: cfg.Socket.RequestTimeout,
		GracePeriod:    cfg.Socket.GracePeriod,
		MaxConnections: cfg.Socket.MaxConnections,
		Logger:         log,
	})

	tx := services.NewTransmissionService(db, files, reg, log)
	tx.MaxFileSize = cfg.Storage.MaxSize
	reg.SetHooks(tx, services.PresenceStore{DB: db})

	return &Services{
		Identities:    services.NewIdentityService(db, names.New(), reg),
		Nearby:        &services.NearbyService{DB: db, RadiusKM: cfg.NearbyRadiusKM},
		Transmissions: tx,
		Idempotency:   &services.IdempotencyService{DB: db, TTL: cfg.IdempotencyTTL},
		Registry:      reg,
		DB:            db,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with uuid scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. CORS and security headers
//  7. Compression (never on the websocket or file downloads)
//
// Per route: body limits, Auth, then the idempotency validator, then the
// rate limiter so replays bypass it.
func RegisterRoutes(r *gin.Engine, svcs *Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// 7) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/socket", "/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`/transmissions/file/[^/]+$`}),
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		stats, err := repo.CollectStats(c.Request.Context(), svcs.DB)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "sessions": svcs.Registry.Len()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": svcs.Registry.Len(), "stats": stats})
	})

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIdentityOrIP())
	jsonBody := limitBody(cfg.MaxBodyBytes)

	// Presence websocket
	sh := &handlers.SocketHandler{
		Identities:      svcs.Identities,
		Registry:        svcs.Registry,
		OriginPatterns:  cfg.Socket.AllowedOrigins,
		IdentifyTimeout: cfg.Socket.IdentifyTimeout,
		WriteTimeout:    cfg.Socket.WriteTimeout,
		ReadLimit:       32 << 10,
	}
	r.GET("/socket", rl.Handler(), sh.Serve)

	h := handlers.New(svcs.Identities, svcs.Nearby, svcs.Transmissions, svcs.Idempotency)
	h.MaxUploadBytes = cfg.Storage.MaxSize + uploadSlack

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	api.POST("/identities", rl.Handler(), jsonBody, h.CreateIdentity)

	authed := api.Group("",
		middleware.Auth(identityLookup(svcs.Identities)),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, svcs.Idempotency.Lookup),
		rl.Handler(),
	)
	{
		// Identities
		authed.GET("/identities/:name", h.GetIdentity)
		authed.PATCH("/identities/geolocation", jsonBody, h.UpdateGeolocation)
		authed.DELETE("/identities", h.DeleteIdentity)

		// Nearby
		authed.GET("/nearby", h.NearbyByIP)
		authed.GET("/nearby/geolocation", h.NearbyByGeolocation)

		// Transmissions; the file route caps its own body.
		authed.POST("/transmissions/message", jsonBody, h.SendMessage)
		authed.POST("/transmissions/file", h.SendFile)
		authed.GET("/transmissions/message/:uuid", h.RetrieveMessage)
		authed.GET("/transmissions/file/:uuid", h.RetrieveFile)
	}
}

// identityLookup adapts IdentityService.Get to the Auth middleware.
func identityLookup(ids *services.IdentityService) middleware.IdentityLookup {
	return func(ctx context.Context, id string) (*domain.Identity, error) {
		i, err := ids.Get(ctx, id)
		if errors.Is(err, services.ErrIdentityNotFound) {
			return nil, middleware.ErrUnknownIdentity
		}
		return i, err
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition", "Idempotent-Replay"},
		AllowCredentials: false, // must remain false with AllowAllOrigins
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		conf.AllowAllOrigins = true
	} else {
		conf.AllowOrigins = origins
	}
	return cors.New(conf)
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Reads past the cap fail; JSON binding then reports a bad request.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
