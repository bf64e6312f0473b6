package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/t-ogura/prospector-zmk-module-sub000/internal/config"
	"github.com/t-ogura/prospector-zmk-module-sub000/internal/scanner"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/crypto"
	"github.com/t-ogura/prospector-zmk-module-sub000/pkg/prospector"
)

const testPassword = "display-unit"

func testAddr(last byte) prospector.Addr {
	return prospector.Addr{MAC: [6]byte{last, 0x55, 0x44, 0x33, 0x22, 0xA1}}
}

func legacyPayload(s prospector.Status) []byte {
	raw := prospector.BuildLegacy(s)
	out := []byte{byte(1 + len(raw)), 0xFF}
	return append(out, raw[:]...)
}

// newTestServer builds an API server over a live engine and returns both.
func newTestServer(t *testing.T) (*Server, *scanner.Engine) {
	t.Helper()

	hash, err := crypto.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.PasswordHash = hash

	eng := scanner.New(cfg.Scanner, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return NewServer(cfg, eng), eng
}

func ingestFrame(t *testing.T, eng *scanner.Engine, a prospector.Addr, s prospector.Status) {
	t.Helper()
	eng.Receiver().OnAdvertisement(a, -50, false, legacyPayload(s))
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := eng.EntryByAddress(a); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("frame never ingested")
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid JSON response: %v", err)
		}
	}
	return rec, out
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %v", rec.Code, body)
	}
	return body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
}

func TestListKeyboards(t *testing.T) {
	s, eng := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/keyboards", "", nil)
	if rec.Code != http.StatusOK || body["total"].(float64) != 0 {
		t.Fatalf("empty list = %d %v", rec.Code, body)
	}

	ingestFrame(t, eng, testAddr(1), prospector.Status{KeyboardName: "ErgoBoard", BatteryPrimary: 90})

	rec, body = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/keyboards", "", nil)
	if rec.Code != http.StatusOK || body["total"].(float64) != 1 {
		t.Fatalf("list = %d %v", rec.Code, body)
	}
	kb := body["keyboards"].([]interface{})[0].(map[string]interface{})
	if kb["display_name"] != "Unknown" {
		t.Errorf("display_name = %v", kb["display_name"])
	}
}

func TestGetKeyboard(t *testing.T) {
	s, eng := newTestServer(t)
	a := testAddr(6)
	ingestFrame(t, eng, a, prospector.Status{BatteryPrimary: 42})

	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/keyboards/"+a.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d %v", rec.Code, body)
	}
	if body["addr"] != a.String() {
		t.Errorf("addr = %v, want %s", body["addr"], a)
	}

	rec, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/keyboards/"+testAddr(7).String(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown addr = %d, want 404", rec.Code)
	}

	rec, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/keyboards/nonsense", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad addr = %d, want 400", rec.Code)
	}
}

func TestStatusCounters(t *testing.T) {
	s, eng := newTestServer(t)
	ingestFrame(t, eng, testAddr(1), prospector.Status{})

	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["active"].(float64) != 1 || body["selected"].(float64) != -1 {
		t.Errorf("status = %v", body)
	}
	if body["sync_state"] != "none" {
		t.Errorf("sync_state = %v", body["sync_state"])
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login = %d, want 401", rec.Code)
	}
}

func TestSelectionRequiresAuth(t *testing.T) {
	s, eng := newTestServer(t)
	ingestFrame(t, eng, testAddr(1), prospector.Status{})

	rec, _ := doJSON(t, s.Handler(), http.MethodPut, "/api/v1/selection", "", map[string]int{"index": 0})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated selection = %d, want 401", rec.Code)
	}

	token := login(t, s.Handler())
	rec, body := doJSON(t, s.Handler(), http.MethodPut, "/api/v1/selection", token, map[string]int{"index": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("selection = %d %v", rec.Code, body)
	}
	if body["selected"].(float64) != 0 {
		t.Errorf("selected = %v", body["selected"])
	}

	// An empty slot is not selectable.
	rec, _ = doJSON(t, s.Handler(), http.MethodPut, "/api/v1/selection", token, map[string]int{"index": 2})
	if rec.Code != http.StatusConflict {
		t.Errorf("invalid selection = %d, want 409", rec.Code)
	}

	// Clearing the selection.
	rec, body = doJSON(t, s.Handler(), http.MethodPut, "/api/v1/selection", token, map[string]int{"index": -1})
	if rec.Code != http.StatusOK || body["selected"].(float64) != -1 {
		t.Errorf("clear selection = %d %v", rec.Code, body)
	}
}

func TestRefreshToken(t *testing.T) {
	s, _ := newTestServer(t)

	_, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"password": testPassword,
	})
	refresh := body["refresh_token"].(string)

	rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	if rec.Code != http.StatusOK || body["access_token"] == "" {
		t.Errorf("refresh = %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": "garbage",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad refresh = %d, want 401", rec.Code)
	}
}

func TestResetRequiresAuth(t *testing.T) {
	s, eng := newTestServer(t)
	ingestFrame(t, eng, testAddr(1), prospector.Status{})

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/reset", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated reset = %d, want 401", rec.Code)
	}

	token := login(t, s.Handler())
	rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/reset", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d", rec.Code)
	}
	if eng.ActiveCount() != 0 {
		t.Error("entries survived reset")
	}
}

func TestEventStream(t *testing.T) {
	s, eng := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ingestFrame(t, eng, testAddr(1), prospector.Status{KeyboardName: "ErgoBoard"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev scanner.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != scanner.EventFound || ev.Index != 0 {
		t.Errorf("event = %+v, want Found at 0", ev)
	}
}
