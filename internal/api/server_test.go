package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/persistence"
)

const (
	testAdminKey = "admin-secret"
	testRelayKey = "relay-secret"
)

func newTestServer(t *testing.T, withDB bool) (*Server, http.Handler) {
	t.Helper()
	sim, err := engine.New(engine.Options{
		Seed:   17,
		Agents: 120,
		Params: engine.DefaultParams(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := &Server{
		Eng:       engine.NewEngine(sim),
		AdminKey:  testAdminKey,
		RelayKey:  testRelayKey,
		AdminRate: 100,
	}
	if withDB {
		db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		srv.DB = db
		srv.Config = []byte("simulation:\n  seed: 17\n")
	}
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAndSnapshot(t *testing.T) {
	srv, h := newTestServer(t, false)
	srv.Eng.Step()
	srv.Eng.Step()

	rec := do(t, h, http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status struct {
		Status engine.Status `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status.Tick != 2 || status.Status.Seed != 17 {
		t.Errorf("status = %+v", status.Status)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/snapshot", "", "")
	var snap engine.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 2 {
		t.Errorf("snapshot tick = %d, want 2", snap.Tick)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/status", "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status code = %d", rec.Code)
	}
}

func TestAdminAuthAndErrors(t *testing.T) {
	_, h := newTestServer(t, false)
	run := `{"type":"force_bank_run","bank_id":"commercial_bank_1"}`

	tests := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"no token", "", run, http.StatusUnauthorized},
		{"wrong token", "nope", run, http.StatusUnauthorized},
		{"accepted", testAdminKey, run, http.StatusOK},
		{"duplicate run", testAdminKey, run, http.StatusConflict},
		{"unknown bank", testAdminKey, `{"type":"force_bank_run","bank_id":"nowhere"}`, http.StatusNotFound},
		{"unknown command", testAdminKey, `{"type":"summon_dragon"}`, http.StatusBadRequest},
		{"bad json", testAdminKey, `{`, http.StatusBadRequest},
		{"bad indicator value", testAdminKey, `{"type":"set_indicator","indicator":"systemic_risk","value":2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/admin", tt.key, tt.body)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv, _ := newTestServer(t, false)
	srv.AdminKey = ""
	rec := do(t, srv.Handler(), http.MethodPost, "/api/v1/admin", "anything", `{"type":"reset"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403", rec.Code)
	}
}

func TestEventsAndAlerts(t *testing.T) {
	srv, h := newTestServer(t, false)
	if rec := do(t, h, http.MethodPost, "/api/v1/admin", testAdminKey,
		`{"type":"set_indicator","indicator":"systemic_risk","value":0.95}`); rec.Code != http.StatusOK {
		t.Fatalf("set_indicator code = %d", rec.Code)
	}
	for i := 0; i < 5; i++ {
		srv.Eng.Step()
	}

	rec := do(t, h, http.MethodGet, "/api/v1/events?kind="+engine.EventIndicatorSet, "", "")
	var events []engine.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != engine.EventIndicatorSet {
		t.Errorf("indicator_set events = %+v", events)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/events?limit=3", "", "")
	events = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) > 3 {
		t.Errorf("limit ignored: got %d events", len(events))
	}

	rec = do(t, h, http.MethodGet, "/api/v1/alerts", "", "")
	var body struct {
		RiskLevel string         `json:"risk_level"`
		Alerts    []engine.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Alerts) == 0 {
		t.Error("expected alerts after pinning systemic risk")
	}
	if body.RiskLevel == "" {
		t.Error("missing risk level")
	}
}

func TestSpeed(t *testing.T) {
	srv, h := newTestServer(t, false)
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", testAdminKey, `{"speed":4}`); rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if srv.Eng.Speed() != 4 {
		t.Errorf("speed = %v, want 4", srv.Eng.Speed())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/speed", testAdminKey, `{"speed":-1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative speed code = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/speed", "", ""); !strings.Contains(rec.Body.String(), `"speed": 4`) {
		t.Errorf("GET speed body = %s", rec.Body.String())
	}
}

func TestSaveAndStoredSnapshot(t *testing.T) {
	srv, h := newTestServer(t, true)
	srv.Eng.Step()
	srv.Eng.Step()
	srv.Eng.Step()

	if rec := do(t, h, http.MethodPost, "/api/v1/save", testAdminKey, ""); rec.Code != http.StatusOK {
		t.Fatalf("save code = %d (%s)", rec.Code, rec.Body.String())
	}
	srv.Eng.Step()

	rec := do(t, h, http.MethodGet, "/api/v1/snapshot?tick=3", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stored snapshot code = %d", rec.Code)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 3 {
		t.Errorf("stored tick = %d, want 3", snap.Tick)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/snapshot?tick=99", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing tick code = %d", rec.Code)
	}
}

func TestSaveWithoutDB(t *testing.T) {
	_, h := newTestServer(t, false)
	if rec := do(t, h, http.MethodPost, "/api/v1/save", testAdminKey, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestAdminRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, false)
	srv.AdminRate = 2
	h := srv.Handler()
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodGet, "/api/v1/speed", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d code = %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/api/v1/speed", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }
	if !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("expected one request per window")
	}
	if !rl.Allow("b") {
		t.Error("clients share a bucket")
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("window did not reset")
	}
}

func TestStreamRequiresRelayKey(t *testing.T) {
	_, h := newTestServer(t, false)
	if rec := do(t, h, http.MethodGet, "/api/v1/stream", testAdminKey, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("admin key on stream code = %d, want 401", rec.Code)
	}
}

func TestStreamCatchUp(t *testing.T) {
	srv, h := newTestServer(t, false)
	if _, err := srv.Eng.Admin(engine.ForceBankRun{BankID: "commercial_bank_3"}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream", nil)
	req.Header.Set("Authorization", "Bearer "+testRelayKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: "+engine.EventBankRunTriggered {
			return
		}
	}
	t.Fatalf("stream ended without the bank run event: %v", scanner.Err())
}
