package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Pairing/internal/app"
	"github.com/dkeye/Pairing/internal/app/orch"
	"github.com/dkeye/Pairing/internal/clock"
	"github.com/dkeye/Pairing/internal/config"
	"github.com/dkeye/Pairing/internal/core"
	"github.com/dkeye/Pairing/internal/domain"
	"github.com/dkeye/Pairing/internal/metrics"
	"github.com/dkeye/Pairing/internal/protocol"
	"github.com/dkeye/Pairing/internal/store"
	"github.com/gin-gonic/gin"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func testRouter(t *testing.T) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fc := clock.NewFake(time.Unix(1700000000, 0))
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "s",
		CodeTTL:    time.Hour,
		SendBuffer: 8,
		Metrics:    config.Metrics{Enabled: true, Path: "/metrics"},
		ICEServers: []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
	o := orch.New(app.NewRoomManager(fc), app.SimplePolicy{}, metrics.New(), fc)
	r := SetupRouter(context.Background(), cfg, Deps{Orch: o, Store: store.NewMemory(fc), Metrics: o.Metrics})
	return r, o
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSessionEndpoints(t *testing.T) {
	r, o := testRouter(t)

	w := do(r, http.MethodPost, "/api/sessions")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var created CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !created.Code.Valid() {
		t.Fatalf("code = %q", created.Code)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), clientTokenCookie+"=") {
		t.Fatal("client token cookie not set")
	}

	w = do(r, http.MethodGet, "/api/sessions/"+strings.ToLower(string(created.Code)))
	if w.Code != http.StatusOK {
		t.Fatalf("get reserved status = %d", w.Code)
	}

	o.Registry.BindSignal("s1", nopConn{}, func() {})
	if _, err := o.Join("s1", joinReq(created.Code)); err != nil {
		t.Fatal(err)
	}
	w = do(r, http.MethodGet, "/api/sessions/"+string(created.Code))
	var got SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Active || len(got.Participants) != 1 || got.Participants[0].UserID != "m" {
		t.Fatalf("session = %+v", got)
	}

	w = do(r, http.MethodGet, "/api/sessions")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), string(created.Code)) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodDelete, "/api/sessions/"+string(created.Code))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"evicted":1`) {
		t.Fatalf("evict = %d %s", w.Code, w.Body.String())
	}
	if w = do(r, http.MethodGet, "/api/sessions/"+string(created.Code)); w.Code != http.StatusNotFound {
		t.Fatalf("get after evict = %d", w.Code)
	}
}

func joinReq(code domain.SessionCode) protocol.JoinRequest {
	return protocol.JoinRequest{SessionCode: string(code), UserID: "m", UserName: "Mentor", Role: domain.RoleMentor}
}

func TestSessionEndpointErrors(t *testing.T) {
	r, _ := testRouter(t)
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"bad code", http.MethodGet, "/api/sessions/x", http.StatusBadRequest},
		{"unknown code", http.MethodGet, "/api/sessions/ZZZZZZ", http.StatusNotFound},
		{"evict unknown", http.MethodDelete, "/api/sessions/ZZZZZZ", http.StatusNotFound},
		{"evict bad code", http.MethodDelete, "/api/sessions/-", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, tt.method, tt.path); w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAmbientEndpoints(t *testing.T) {
	r, _ := testRouter(t)

	if w := do(r, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/api/ice-servers")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "stun:stun.example.org:3478") {
		t.Fatalf("ice servers = %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pairing_sessions_active") {
		t.Fatalf("metrics = %d", w.Code)
	}
}
