package handlers

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-drop-backend/internal/domain"
	"github.com/tbourn/go-drop-backend/internal/http/middleware"
	"github.com/tbourn/go-drop-backend/internal/services"
)

const (
	aliceID = "0b6a1c3e-5f43-4e8b-9d2a-1f7c2b9e4a10"
	bobID   = "8d2e7f10-3c5b-4a9e-b1d4-6e0f2a7c9b33"
)

// fakeIdentities is an in-memory IdentityService.
type fakeIdentities struct {
	mu       sync.Mutex
	byID     map[string]*domain.Identity
	createIP string
	deleted  []string
	geoErr   error
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byID: map[string]*domain.Identity{
		aliceID: {ID: aliceID, Name: "Agile Albatross", IP: "192.0.2.1"},
		bobID:   {ID: bobID, Name: "Bold Lynx", IP: "192.0.2.1"},
	}}
}

func (f *fakeIdentities) Create(_ context.Context, ip string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createIP = ip
	id := &domain.Identity{ID: "5e0c2a8b-1111-4d2c-9e77-0a1b2c3d4e5f", Name: "Calm Heron", IP: ip}
	f.byID[id.ID] = id
	return id, nil
}

func (f *fakeIdentities) Get(_ context.Context, id string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.byID[id]; ok {
		return i, nil
	}
	return nil, services.ErrIdentityNotFound
}

func (f *fakeIdentities) GetByName(_ context.Context, name string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.byID {
		if i.Name == name {
			return i, nil
		}
	}
	return nil, services.ErrIdentityNotFound
}

func (f *fakeIdentities) UpdateGeolocation(_ context.Context, id string, lon, lat float64) error {
	if f.geoErr != nil {
		return f.geoErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.byID[id]
	i.Longitude, i.Latitude = &lon, &lat
	return nil
}

func (f *fakeIdentities) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return services.ErrIdentityNotFound
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// lookup adapts Get for middleware.Auth.
func (f *fakeIdentities) lookup(ctx context.Context, id string) (*domain.Identity, error) {
	i, err := f.Get(ctx, id)
	if err != nil {
		return nil, middleware.ErrUnknownIdentity
	}
	return i, nil
}

type fakeNearby struct {
	list []services.Nearby
	err  error
}

func (f *fakeNearby) ByIP(context.Context, string) ([]services.Nearby, error) {
	return f.list, f.err
}

func (f *fakeNearby) ByGeolocation(context.Context, string) ([]services.Nearby, error) {
	return f.list, f.err
}

// fakeTx records calls and hands back canned results.
type fakeTx struct {
	mu sync.Mutex

	sendErr   error
	uploadErr error
	sends     int
	lastTo    string
	lastText  string
	uploaded  []byte
	upName    string
	discarded int

	message *domain.MessageTransmission
	file    *domain.FileTransmission
	body    *closeTracker
	getErr  error
}

func (f *fakeTx) SendMessage(_ context.Context, _ *domain.Identity, toName, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.lastTo, f.lastText = toName, text
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "req-1", nil
}

func (f *fakeTx) Upload(_ context.Context, name string, r io.Reader) (*services.UploadedFile, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded, f.upName = b, name
	return &services.UploadedFile{Key: "k.pdf", OriginalName: name, MimeType: "application/pdf", Size: int64(len(b))}, nil
}

func (f *fakeTx) DiscardUpload(_ context.Context, up *services.UploadedFile) {
	if up == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded++
}

func (f *fakeTx) SendFile(ctx context.Context, _ *domain.Identity, toName string, up *services.UploadedFile) (string, error) {
	f.mu.Lock()
	f.sends++
	f.lastTo = toName
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		f.DiscardUpload(ctx, up)
		return "", err
	}
	return "req-file", nil
}

func (f *fakeTx) RetrieveMessage(context.Context, string, string) (*domain.MessageTransmission, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.message, nil
}

func (f *fakeTx) RetrieveFile(context.Context, string, string) (*services.Retrieval, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &services.Retrieval{File: f.file, Body: f.body, Size: int64(f.body.Len())}, nil
}

type closeTracker struct {
	*bytes.Reader
	closed int
}

func (c *closeTracker) Close() error { c.closed++; return nil }

// memIdem is an in-memory idempotency store.
type memIdem struct {
	mu   sync.Mutex
	recs map[string]string
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]string{}} }

func (m *memIdem) Remember(_ context.Context, identityID, scope, key, requestID string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[identityID+"|"+scope+"|"+key] = requestID
	return nil
}

func (m *memIdem) Lookup(_ context.Context, identityID, scope, key string, _ time.Time) (string, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.recs[identityID+"|"+scope+"|"+key]
	return id, 200, ok, nil
}

type testEnv struct {
	ids    *fakeIdentities
	nearby *fakeNearby
	tx     *fakeTx
	idem   *memIdem
	h      *Handlers
	r      *gin.Engine
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)
	e := &testEnv{
		ids:    newFakeIdentities(),
		nearby: &fakeNearby{},
		tx:     &fakeTx{},
		idem:   newMemIdem(),
	}
	e.h = New(e.ids, e.nearby, e.tx, e.idem)

	r := gin.New()
	r.POST("/identities", e.h.CreateIdentity)
	authed := r.Group("",
		middleware.Auth(e.ids.lookup),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, e.idem.Lookup),
	)
	authed.GET("/identities/:name", e.h.GetIdentity)
	authed.PATCH("/identities/geolocation", e.h.UpdateGeolocation)
	authed.DELETE("/identities", e.h.DeleteIdentity)
	authed.GET("/nearby", e.h.NearbyByIP)
	authed.GET("/nearby/geolocation", e.h.NearbyByGeolocation)
	authed.POST("/transmissions/message", e.h.SendMessage)
	authed.POST("/transmissions/file", e.h.SendFile)
	authed.GET("/transmissions/message/:uuid", e.h.RetrieveMessage)
	authed.GET("/transmissions/file/:uuid", e.h.RetrieveFile)
	e.r = r
	return e
}
