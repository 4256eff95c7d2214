package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pearl-sniper/internal/market"
	"pearl-sniper/internal/safety"
	"pearl-sniper/internal/session"
)

func testLease(t *testing.T) *session.Handle {
	t.Helper()
	h := session.NewHandle(session.Options{
		File:   filepath.Join(t.TempDir(), "lease.json"),
		MaxAge: time.Hour,
	}, zerolog.Nop())
	if err := h.Replace(session.Lease{
		Cookie:            "session=abc",
		UserAgent:         "test-agent",
		VerificationToken: "token123",
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	return h
}

func testEvent() market.ChangeEvent {
	entry := market.CatalogEntry{
		Key:       market.EntryKey{Partition: market.PartitionID{Main: 55, Sub: 1}, ItemID: 42},
		Name:      "outfit",
		UnitPrice: 1_500_000_000,
		Quantity:  1,
	}
	return market.ChangeEvent{Key: entry.Key, Kind: market.EventAppeared, Quantity: 1, Entry: entry}
}

func newTestExecutor(t *testing.T, baseURL string, authFatal bool) (*Executor, *session.Handle, *safety.Log) {
	t.Helper()
	lease := testLease(t)
	log := safety.NewLog()
	e := New(Options{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		AuthFatal: authFatal,
	}, lease, log, zerolog.Nop())
	return e, lease, log
}

func TestExecuteSuccess(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Home/Buy" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 0, "resultMsg": "ok"})
	}))
	defer srv.Close()

	e, lease, log := newTestExecutor(t, srv.URL, true)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", record.Outcome)
	}
	if form.Get("mainKey") != "42" || form.Get("pricePerOne") != "1500000000" || form.Get("count") != "1" {
		t.Fatalf("request form wrong: %v", form)
	}
	if form.Get("__RequestVerificationToken") != "token123" {
		t.Fatalf("verification token missing: %v", form)
	}
	if log.Len() != 1 {
		t.Fatalf("log should hold one record, got %d", log.Len())
	}
	if !lease.Valid() {
		t.Fatal("success must not invalidate the lease")
	}

	spent, _ := e.Stats()
	if spent != 1_500_000_000 {
		t.Fatalf("spent = %d, want unit price", spent)
	}
}

func TestExecuteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 8, "resultMsg": "already sold"})
	}))
	defer srv.Close()

	e, _, log := newTestExecutor(t, srv.URL, true)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", record.Outcome)
	}
	if record.RemoteCode != 8 || record.RemoteMessage != "already sold" {
		t.Fatalf("remote fields wrong: %+v", record)
	}
	// Rejected attempts are still recorded; they count toward the rate limit.
	if log.Len() != 1 {
		t.Fatalf("log should hold one record, got %d", log.Len())
	}

	spent, _ := e.Stats()
	if spent != 0 {
		t.Fatalf("rejected attempt must not debit spend, got %d", spent)
	}
}

func TestExecuteAuthFailureInvalidatesLease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, lease, log := newTestExecutor(t, srv.URL, true)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeError {
		t.Fatalf("outcome = %s, want error", record.Outcome)
	}
	if record.RemoteCode != http.StatusUnauthorized {
		t.Fatalf("remote code = %d, want 401", record.RemoteCode)
	}
	if lease.Valid() {
		t.Fatal("401 on a purchase must invalidate the lease")
	}
	if log.Len() != 1 {
		t.Fatalf("failed attempt must still be recorded, got %d", log.Len())
	}
}

func TestExecuteAuthFailureNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e, lease, _ := newTestExecutor(t, srv.URL, false)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeError {
		t.Fatalf("outcome = %s, want error", record.Outcome)
	}
	if !lease.Valid() {
		t.Fatal("auth fatality disabled; lease must stay valid")
	}
}

func TestExecuteTransportErrorIsRecorded(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e, _, log := newTestExecutor(t, srv.URL, true)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeError {
		t.Fatalf("outcome = %s, want error", record.Outcome)
	}
	if log.Len() != 1 {
		t.Fatalf("ambiguous attempt must be recorded, got %d", log.Len())
	}
}

func TestExecuteSingleCallNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _, _ := newTestExecutor(t, srv.URL, true)
	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})

	if record.Outcome != market.OutcomeError {
		t.Fatalf("outcome = %s, want error", record.Outcome)
	}
	if calls != 1 {
		t.Fatalf("purchase dispatched %d times, must be exactly once", calls)
	}
}

func TestExecuteNotCancelledMidFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 0})
	}))
	defer srv.Close()

	e, _, _ := newTestExecutor(t, srv.URL, true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	record := e.Execute(ctx, testEvent(), market.Verdict{Qualifies: true})
	if record.Outcome != market.OutcomeSuccess {
		t.Fatalf("in-flight purchase must survive caller cancellation, got %s", record.Outcome)
	}
}

func TestExecuteDryRun(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	lease := testLease(t)
	log := safety.NewLog()
	e := New(Options{BaseURL: srv.URL, Timeout: time.Second, DryRun: true}, lease, log, zerolog.Nop())

	record := e.Execute(context.Background(), testEvent(), market.Verdict{Qualifies: true})
	if record.Outcome != market.OutcomeSuccess {
		t.Fatalf("dry run outcome = %s, want success", record.Outcome)
	}
	if !record.DryRun {
		t.Fatal("dry run record must be marked so it is never persisted")
	}
	if calls != 0 {
		t.Fatal("dry run must not hit the network")
	}
	// Dry runs are not real attempts; they never enter the shared log.
	if log.Len() != 0 {
		t.Fatalf("dry run must not be recorded, got %d records", log.Len())
	}
}
