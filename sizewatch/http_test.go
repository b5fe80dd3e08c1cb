package sizewatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/dbopen"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/metrics"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/sink"
)

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestHTTP_AdminAPI(t *testing.T) {
	page := newFakePage()
	page.match("#hero", "s-0")
	page.match("nav a", "n-0", "n-1")
	w, _, _ := attached(t, page, page)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, _ := do(t, srv, "GET", "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}

	resp, body := do(t, srv, "GET", "/pages", nil)
	var pages []PageInfo
	if err := json.Unmarshal(body, &pages); err != nil || resp.StatusCode != 200 || len(pages) != 1 {
		t.Fatalf("pages: %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, srv, "POST", "/pages/home/watch", WatchSpec{Selector: "nav a", Properties: []string{"left"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("watch: %d %s", resp.StatusCode, body)
	}
	var watched struct {
		Targets []Target `json:"targets"`
	}
	json.Unmarshal(body, &watched)
	if len(watched.Targets) != 2 || watched.Targets[1] != geometry.Element("nav a", "n-1") {
		t.Fatalf("watch targets: %s", body)
	}

	resp, body = do(t, srv, "GET", "/pages/home/targets", nil)
	var views []TargetView
	json.Unmarshal(body, &views)
	if resp.StatusCode != 200 || len(views) != 3 {
		t.Fatalf("targets: %d %s", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, "POST", "/pages/home/refresh", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d", resp.StatusCode)
	}

	resp, body = do(t, srv, "GET", "/pages/home/stats", nil)
	var stats PageStats
	json.Unmarshal(body, &stats)
	if resp.StatusCode != 200 || stats.Targets != 3 || stats.Restarts < 2 {
		t.Fatalf("stats: %d %s", resp.StatusCode, body)
	}
}

func TestHTTP_Errors(t *testing.T) {
	page := newFakePage()
	page.match("#hero", "s-0")
	w, _, _ := attached(t, page, page)
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	tests := []struct {
		method, path string
		body         any
		want         int
	}{
		{"GET", "/pages/nope/targets", nil, http.StatusNotFound},
		{"POST", "/pages/nope/refresh", nil, http.StatusNotFound},
		{"POST", "/pages/home/watch", WatchSpec{Kind: "element"}, http.StatusBadRequest},
		{"POST", "/pages/home/viewport", ViewportRequest{Width: 800, Height: 600}, http.StatusConflict},
		{"GET", "/pages/home/changes", nil, http.StatusNotFound},
		{"GET", "/metrics", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := do(t, srv, tt.method, tt.path, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s: got %d, want %d (%s)", tt.method, tt.path, resp.StatusCode, tt.want, body)
		}
	}
}

func TestHTTP_ChangesFromStore(t *testing.T) {
	db := dbopen.OpenMemory(t)
	store, err := sink.NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}

	page := newFakePage()
	page.match("#hero", "s-0")
	page.set(hero, geometry.Self, "clientHeight", "100")

	clock := &manualClock{}
	w := New(nil, nil, []Sink{store}, WithClock(clock), WithChangeStore(store))
	t.Cleanup(w.Stop)
	pc := PageConfig{ID: "home", URL: "https://example.com", Watches: []WatchConfig{{Selector: "#hero", Properties: []string{"height"}}}}
	if err := w.Attach(t.Context(), pc, page, page); err != nil {
		t.Fatal(err)
	}
	page.set(hero, geometry.Self, "clientHeight", "120")
	clock.fire()

	srv := httptest.NewServer(w.Handler())
	defer srv.Close()
	resp, body := do(t, srv, "GET", "/pages/home/changes?limit=10", nil)
	var evs []Event
	json.Unmarshal(body, &evs)
	if resp.StatusCode != 200 || len(evs) != 1 || evs[0].Current != "120;" {
		t.Fatalf("changes: %d %s", resp.StatusCode, body)
	}
}

func TestHTTP_MetricsEndpoint(t *testing.T) {
	db := dbopen.OpenMemory(t)
	rec, err := metrics.New(db, metrics.Options{FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { rec.Close() })

	page := newFakePage()
	page.match("#hero", "s-0")
	w := New(nil, nil, nil, WithClock(&manualClock{}), WithMetrics(rec, time.Minute))
	t.Cleanup(w.Stop)
	pc := PageConfig{ID: "home", URL: "https://example.com", Watches: []WatchConfig{{Selector: "#hero"}}}
	if err := w.Attach(t.Context(), pc, page, page); err != nil {
		t.Fatal(err)
	}
	w.SampleMetrics()
	rec.Flush()

	srv := httptest.NewServer(w.Handler())
	defer srv.Close()
	resp, body := do(t, srv, "GET", "/metrics?name=targets_count&page=home", nil)
	var pts []MetricPoint
	json.Unmarshal(body, &pts)
	if resp.StatusCode != 200 || len(pts) != 1 || pts[0].Value != 1 {
		t.Fatalf("metrics: %d %s", resp.StatusCode, body)
	}
}

func TestOpenChangeStore_File(t *testing.T) {
	store, err := OpenChangeStore(filepath.Join(t.TempDir(), "data", "changes.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	ev := change.Event{ID: change.NewID(), PageID: "home", Seq: 1, Target: hero, Current: "1;", Timestamp: 1}
	if err := store.Send(ctx, ev); err != nil {
		t.Fatal(err)
	}
	got, err := store.Recent(ctx, "home", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("Recent: got %+v", got)
	}
}
