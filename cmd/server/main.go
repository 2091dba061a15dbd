// Command server runs the go-drop backend: ephemeral identities, websocket
// presence and negotiated message/file transmissions.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/config"
	httpapi "github.com/tbourn/go-drop-backend/internal/http"
	"github.com/tbourn/go-drop-backend/internal/observability"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/services"
	"github.com/tbourn/go-drop-backend/internal/storage"
	"github.com/tbourn/go-drop-backend/internal/sysutil"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = 10 * time.Minute
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	log := sysutil.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if envErr != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}
	gin.SetMode(cfg.GinMode)

	version := sysutil.Version()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, log)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry setup failed")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database setup failed")
	}

	files, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("file storage setup failed")
	}

	svcs := httpapi.NewServices(db, files, cfg, log)
	r := gin.New()
	httpapi.RegisterRoutes(r, svcs, cfg)

	go purgeIdempotency(ctx, svcs.Idempotency, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db", cfg.DBDriver).
			Str("storage", cfg.Storage.Driver).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// Websocket connections are hijacked, so Shutdown does not wait for them.
	svcs.Registry.Close()
	svcs.Transmissions.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown")
	}
	log.Info().Msg("server stopped")
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	// Nobody is connected yet; clear presence left over from a previous run.
	if err := repo.ResetConnectionState(db); err != nil {
		return nil, err
	}
	return db, nil
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "s3":
		s3cfg := cfg.Storage.S3
		return storage.NewS3(ctx, storage.S3Options{
			Bucket:    s3cfg.Bucket,
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
		})
	default:
		return storage.NewDisk(cfg.Storage.Dir)
	}
}

func purgeIdempotency(ctx context.Context, idem *services.IdempotencyService, log zerolog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := idem.Purge(ctx, now)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("idempotency purge")
			}
		}
	}
}
