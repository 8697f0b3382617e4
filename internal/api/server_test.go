package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/swim-mobility/internal/engine"
	"github.com/talgya/swim-mobility/internal/geom"
	"github.com/talgya/swim-mobility/internal/locations"
	"github.com/talgya/swim-mobility/internal/mobility"
	"github.com/talgya/swim-mobility/internal/occupancy"
	"github.com/talgya/swim-mobility/internal/persistence"
	"github.com/talgya/swim-mobility/internal/rng"
)

func testServer(t *testing.T, withDB bool) *Server {
	t.Helper()
	model, err := mobility.NewModel(mobility.Params{
		Speed:                       1,
		Alpha:                       0.5,
		Radius:                      2,
		PopularityDecisionThreshold: 5,
		NeighbourLocationLimit:      80,
		ReturnHomePercentage:        0,
		Area:                        geom.Area{X: 200, Y: 200},
		Population:                  3,
		WaitTime:                    rng.Distribution{Kind: rng.DistConstant, Value: 10},
	})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	streams := rng.NewStreams(5)
	reg := locations.NewRegistry([]locations.Location{
		{Position: geom.Coord{X: 20, Y: 20}},
		{Position: geom.Coord{X: 120, Y: 60}, Occupancy: 2},
	})
	sim := engine.NewSimulation(model, reg, engine.NewSpawner(streams, model).Spawn(3), nil)
	sim.RunID = "run-test"

	s := &Server{Sim: sim, Sched: engine.NewScheduler(), AdminKey: "secret"}
	if withDB {
		db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
		if err != nil {
			t.Fatalf("open db: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		s.DB = db
	}
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	s := testServer(t, false)
	rec := get(t, s.Handler(), "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["run_id"] != "run-test" || body["nodes"] != float64(3) || body["locations"] != float64(2) {
		t.Fatalf("unexpected status %v", body)
	}
}

func TestStatusWhileSchedulerRuns(t *testing.T) {
	s := testServer(t, false)
	s.Sim.Attach(s.Sched)
	h := s.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Sched.Run(ctx, 1e6) }()

	var wg sync.WaitGroup
	codes := make(chan int, 200)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
				codes <- rec.Code
			}
		}()
	}
	wg.Wait()
	close(codes)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("expected 200 while running, got %d", code)
		}
	}
	if n := s.Sched.Len(); n != 3 {
		t.Fatalf("expected one pending event per node after stop, got %d", n)
	}
}

func TestLocationsFilter(t *testing.T) {
	s := testServer(t, false)
	h := s.Handler()

	var all, occupied []locations.Location
	json.Unmarshal(get(t, h, "/api/v1/locations").Body.Bytes(), &all)
	json.Unmarshal(get(t, h, "/api/v1/locations?occupied=true").Body.Bytes(), &occupied)
	if len(all) != 2 || len(occupied) != 1 || occupied[0].Occupancy != 2 {
		t.Fatalf("unexpected locations all=%v occupied=%v", all, occupied)
	}
}

func TestNodes(t *testing.T) {
	s := testServer(t, false)
	h := s.Handler()

	var views []engine.NodeView
	json.Unmarshal(get(t, h, "/api/v1/nodes").Body.Bytes(), &views)
	if len(views) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(views))
	}

	var one engine.NodeView
	rec := get(t, h, "/api/v1/nodes?id=1")
	json.Unmarshal(rec.Body.Bytes(), &one)
	if rec.Code != http.StatusOK || one.ID != 1 {
		t.Fatalf("expected node 1, got %d %+v", rec.Code, one)
	}
	if rec := get(t, h, "/api/v1/nodes?id=99"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/v1/nodes?id=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEventsAfterSteps(t *testing.T) {
	s := testServer(t, false)
	for i := 0; i < 3; i++ {
		s.Sim.StepNode(i, 0)
	}
	var events []engine.Event
	json.Unmarshal(get(t, s.Handler(), "/api/v1/events?limit=2").Body.Bytes(), &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	var waits []engine.Event
	json.Unmarshal(get(t, s.Handler(), "/api/v1/events?kind=wait").Body.Bytes(), &waits)
	if len(waits) != 0 {
		t.Fatalf("expected no waits after first steps, got %v", waits)
	}
}

func TestDeltasRequireDB(t *testing.T) {
	s := testServer(t, false)
	if rec := get(t, s.Handler(), "/api/v1/deltas"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", rec.Code)
	}
}

func TestSnapshotAuth(t *testing.T) {
	s := testServer(t, true)
	h := s.Handler()

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshot", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := post("wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	if code := post("secret"); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if !s.DB.HasRunState() {
		t.Fatal("expected snapshot to store node state")
	}
	if rec := get(t, h, "/api/v1/snapshot"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestSnapshotDisabledWithoutKey(t *testing.T) {
	s := testServer(t, true)
	s.AdminKey = ""
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/snapshot", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected first two requests to pass")
	}
	if rl.Allow("a") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("expected other clients to be unaffected")
	}
	if ra := rl.RetryAfter("a"); ra != 61 {
		t.Fatalf("expected retry after 61s, got %d", ra)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("expected window reset")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if ip := clientIP(req); ip != "10.0.0.1" {
		t.Fatalf("expected host without port, got %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if ip := clientIP(req); ip != "1.2.3.4" {
		t.Fatalf("expected first forwarded hop, got %q", ip)
	}
}

func TestStreamForwardsDeltas(t *testing.T) {
	s := testServer(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the handshake, so keep publishing
	// until the client sees something.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		pos := geom.Coord{X: 20, Y: 20}
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				s.Sim.Broadcaster.Publish(occupancy.NewDelta(7, 1, pos, occupancy.Increment))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		X       float64 `json:"x"`
		NodeID  int     `json:"node_id"`
		Outcome string  `json:"outcome"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.NodeID != 7 || msg.X != 20 || msg.Outcome != "incremented" {
		t.Fatalf("unexpected stream message %+v", msg)
	}
}
