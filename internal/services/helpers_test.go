package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/repo"
	"github.com/tbourn/go-drop-backend/internal/socket"
	"github.com/tbourn/go-drop-backend/internal/storage"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedIdentity(t *testing.T, db *gorm.DB, name, ip string) *domain.Identity {
	t.Helper()
	id := &domain.Identity{ID: uuid.NewString(), Name: name, IP: ip}
	if err := repo.CreateIdentity(context.Background(), db, id); err != nil {
		t.Fatalf("seed identity %s: %v", name, err)
	}
	return id
}

// wireConn records frames sent to one identity.
type wireConn struct {
	mu       sync.Mutex
	frames   []socket.Frame
	failSend bool
}

func (c *wireConn) Send(_ context.Context, event string, data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, socket.Frame{Event: event, Data: data})
	return nil
}

func (c *wireConn) Close(string) error { return nil }

func (c *wireConn) find(event string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].Event == event {
			return c.frames[i].Data, true
		}
	}
	return nil, false
}

func (c *wireConn) has(event string) bool {
	_, ok := c.find(event)
	return ok
}

// harness wires a registry, a disk store and the services over one DB.
type harness struct {
	db    *gorm.DB
	reg   *socket.Registry
	files *storage.Disk
	tx    *TransmissionService
}

func newHarness(t *testing.T, opt socket.Options) *harness {
	t.Helper()
	db := newSvcDB(t)
	if opt.RequestTimeout == 0 {
		opt.RequestTimeout = 5 * time.Second
	}
	if opt.GracePeriod == 0 {
		opt.GracePeriod = time.Hour
	}
	opt.Logger = zerolog.Nop()
	reg := socket.NewRegistry(opt)
	files, err := storage.NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("disk: %v", err)
	}
	tx := NewTransmissionService(db, files, reg, zerolog.Nop())
	tx.MaxFileSize = 1 << 20
	reg.SetHooks(tx, PresenceStore{DB: db})
	t.Cleanup(func() {
		reg.Close()
		tx.Wait()
	})
	return &harness{db: db, reg: reg, files: files, tx: tx}
}

func (h *harness) connect(t *testing.T, id *domain.Identity) (*socket.Session, *wireConn) {
	t.Helper()
	c := &wireConn{}
	s, err := h.reg.Register(context.Background(), id.ID, c)
	if err != nil {
		t.Fatalf("register %s: %v", id.Name, err)
	}
	return s, c
}

// requestOn returns the correlation id of the last request written to c.
func requestOn(t *testing.T, c *wireConn) socket.RequestPayload {
	t.Helper()
	data, ok := c.find(socket.EventRequest)
	if !ok {
		t.Fatalf("no request event delivered")
	}
	var p socket.RequestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return p
}

func answer(s *socket.Session, correlationID string, accepted bool) {
	data, _ := json.Marshal(socket.ResponsePayload{CorrelationID: correlationID, Accepted: accepted})
	s.Dispatch(context.Background(), socket.EventResponse, data)
}

func awaitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatalf("negotiation did not settle")
		return Outcome{}
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
