package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/sizewatch/sizewatch/change"
	"github.com/hazyhaar/sizewatch/sizewatch/geometry"
	"github.com/hazyhaar/sizewatch/sizewatch/internal/dbopen"
)

func testEvent(seq uint64) change.Event {
	return change.Event{
		ID:         change.NewID(),
		PageID:     "home",
		PageURL:    "https://example.com",
		Seq:        seq,
		Target:     geometry.Element("#hero", "s-1"),
		Properties: geometry.DefaultProperties(),
		Previous:   "100;40;",
		Current:    "150;40;",
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestStdout_WritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), testEvent(1)); err != nil {
		t.Fatal(err)
	}

	var env struct {
		Type string       `json:"type"`
		Data change.Event `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("output is not one JSON line: %v (%q)", err, buf.String())
	}
	if env.Type != "change" || env.Data.PageID != "home" {
		t.Errorf("envelope: %+v", env)
	}
}

func TestCallback_NilFunc(t *testing.T) {
	if err := NewCallback(nil).Send(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("nil callback: %v", err)
	}
}

func TestRouter_FanOutContinuesPastErrors(t *testing.T) {
	boom := errors.New("boom")
	var got atomic.Int32
	failing := NewCallback(func(context.Context, change.Event) error { return boom })
	ok := NewCallback(func(context.Context, change.Event) error { got.Add(1); return nil })

	r := NewRouter(nil, failing, ok)
	err := r.Send(context.Background(), testEvent(1))
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error, got %v", err)
	}
	if got.Load() != 1 {
		t.Fatalf("second sink not reached: %d", got.Load())
	}
	if r.Len() != 2 {
		t.Errorf("Len: got %d, want 2", r.Len())
	}
}

func TestWebhook_Success(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	if err := w.Send(context.Background(), testEvent(1)); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits: got %d, want 1", hits.Load())
	}
}

func TestWebhook_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(2), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), testEvent(1)); err == nil {
		t.Fatal("expected error after retries")
	}
	if hits.Load() != 3 {
		t.Errorf("attempts: got %d, want 3", hits.Load())
	}
}

func TestWebhook_RecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestSQLite_SendAndRecent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		if err := s.Send(ctx, testEvent(i)); err != nil {
			t.Fatal(err)
		}
	}
	other := testEvent(9)
	other.PageID = "other"
	if err := s.Send(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, "home", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent: got %d events, want 2", len(got))
	}
	if got[0].Seq != 3 || got[1].Seq != 2 {
		t.Errorf("order: got seq %d,%d, want 3,2", got[0].Seq, got[1].Seq)
	}
	if got[0].Target != geometry.Element("#hero", "s-1") {
		t.Errorf("Target: got %+v", got[0].Target)
	}
	if len(got[0].Properties) != 2 {
		t.Errorf("Properties: got %v", got[0].Properties)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLite_DuplicateIDRejected(t *testing.T) {
	s, err := NewSQLite(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ev := testEvent(1)
	ctx := context.Background()
	if err := s.Send(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, ev); err == nil {
		t.Fatal("expected primary key violation")
	}
}
