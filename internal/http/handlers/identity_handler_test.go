package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tbourn/go-drop-backend/internal/services"
)

func (e *testEnv) do(method, path, identity string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+identity)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

func TestCreateIdentity_UsesClientIP(t *testing.T) {
	e := newTestEnv()
	w := e.do(http.MethodPost, "/identities", "", nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got CreateIdentityResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.UUID == "" || got.Name != "Calm Heron" {
		t.Fatalf("unexpected body: %+v", got)
	}
	// httptest requests come from 192.0.2.1.
	if e.ids.createIP != "192.0.2.1" {
		t.Fatalf("ip=%q", e.ids.createIP)
	}
}

func TestGetIdentity(t *testing.T) {
	e := newTestEnv()

	w := e.do(http.MethodGet, "/identities/Bold%20Lynx", aliceID, nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"Bold Lynx"`) {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	// The lookup must not disclose the uuid.
	if strings.Contains(w.Body.String(), bobID) {
		t.Fatalf("uuid leaked: %s", w.Body.String())
	}

	w = e.do(http.MethodGet, "/identities/Nobody", aliceID, nil, nil)
	if w.Code != http.StatusNotFound || decodeErr(t, w).Code != ErrCodeNotFound {
		t.Fatalf("missing: status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/identities/Bold%20Lynx", "", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status=%d", w.Code)
	}
}

func TestUpdateGeolocation(t *testing.T) {
	e := newTestEnv()

	w := e.do(http.MethodPatch, "/identities/geolocation", aliceID,
		strings.NewReader(`{"geolocation":{"longitude":23.7275,"latitude":37.9838}}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got UpdateGeolocationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if *got.Data.Longitude != 23.7275 || *got.Data.Latitude != 37.9838 {
		t.Fatalf("unexpected echo: %s", w.Body.String())
	}
	if a := e.ids.byID[aliceID]; !a.HasGeolocation() || *a.Latitude != 37.9838 {
		t.Fatalf("coordinates not stored")
	}

	for _, body := range []string{`{}`, `{"geolocation":{"longitude":1}}`, `not json`} {
		w = e.do(http.MethodPatch, "/identities/geolocation", aliceID, strings.NewReader(body), nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status=%d", body, w.Code)
		}
	}

	e.ids.geoErr = services.ErrInvalidGeolocation
	w = e.do(http.MethodPatch, "/identities/geolocation", aliceID,
		strings.NewReader(`{"geolocation":{"longitude":200,"latitude":0}}`), nil)
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("out of range: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteIdentity(t *testing.T) {
	e := newTestEnv()
	w := e.do(http.MethodDelete, "/identities", aliceID, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(e.ids.deleted) != 1 || e.ids.deleted[0] != aliceID {
		t.Fatalf("deleted=%v", e.ids.deleted)
	}
	// The uuid no longer authenticates.
	w = e.do(http.MethodDelete, "/identities", aliceID, nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("second delete: status=%d", w.Code)
	}
}

func TestNearby_LimitAndErrors(t *testing.T) {
	e := newTestEnv()
	e.nearby.list = []services.Nearby{
		{Name: "Bold Lynx", Distance: "0.40 km"},
		{Name: "Calm Heron", Distance: "2.22 km"},
	}

	w := e.do(http.MethodGet, "/nearby/geolocation?limit=1", aliceID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got NearbyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(got.NearbyIdentities) != 1 || got.NearbyIdentities[0].Name != "Bold Lynx" {
		t.Fatalf("unexpected list: %+v", got)
	}

	e.nearby.list = nil
	w = e.do(http.MethodGet, "/nearby", aliceID, nil, nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"nearbyIdentities":[]}` {
		t.Fatalf("empty list: status=%d body=%s", w.Code, w.Body.String())
	}

	e.nearby.err = services.ErrNoGeolocation
	w = e.do(http.MethodGet, "/nearby/geolocation", aliceID, nil, nil)
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Code != ErrCodeNoGeolocation {
		t.Fatalf("no geolocation: status=%d body=%s", w.Code, w.Body.String())
	}
}
