package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pearl-sniper/internal/market"
)

func opportunityNote() Notification {
	entry := market.CatalogEntry{
		Key:       market.EntryKey{Partition: market.PartitionID{Main: 55, Sub: 1}, ItemID: 40001},
		Name:      "Kibelius Outfit",
		UnitPrice: 1_500_000_000,
		Quantity:  2,
	}
	return Notification{
		Kind: KindOpportunity,
		Event: market.ChangeEvent{
			Key:        entry.Key,
			Kind:       market.EventAppeared,
			Quantity:   2,
			Entry:      entry,
			ObservedAt: time.Now(),
		},
		Verdict: market.Verdict{
			Key:       entry.Key,
			NetValue:  500_000_000,
			Margin:    decimal.NewFromFloat(0.09),
			Qualifies: true,
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), opportunityNote()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id wrong: %#v", received)
	}
	if !strings.Contains(received["text"], "Kibelius Outfit") {
		t.Fatalf("message text missing item name: %q", received["text"])
	}
	if !strings.Contains(received["text"], "1,500,000,000") {
		t.Fatalf("message text missing grouped price: %q", received["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), opportunityNote()); err == nil {
		t.Fatal("ok=false must error")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	note := opportunityNote()
	note.Denial = "rate-limited"

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.Contains(payload["content"], "rate-limited") {
		t.Fatalf("webhook content missing denial reason: %q", payload["content"])
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), opportunityNote()); err == nil {
		t.Fatal("5xx must error")
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, Notification) error {
	r.calls++
	return r.err
}

func TestMultiNotifierFansOutPastFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}

	multi := NewMultiNotifier(zerolog.Nop(), failing, ok)
	err := multi.Notify(context.Background(), opportunityNote())

	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want first channel error", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("all channels must run: %d/%d", failing.calls, ok.calls)
	}
}

func TestRenderPurchaseMessage(t *testing.T) {
	attempt := &market.AttemptRecord{
		Key:           market.EntryKey{Partition: market.PartitionID{Main: 55, Sub: 1}, ItemID: 40001},
		Name:          "Kibelius Outfit",
		AttemptedAt:   time.Now(),
		UnitPrice:     1_500_000_000,
		Quantity:      1,
		Outcome:       market.OutcomeRejected,
		RemoteMessage: "already sold",
	}

	msg := renderMessage(Notification{Kind: KindPurchase, Attempt: attempt})
	for _, want := range []string{"Purchase attempt", "Kibelius Outfit", "rejected", "already sold"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestFormatSilver(t *testing.T) {
	cases := map[int64]string{
		0:             "0",
		999:           "999",
		1_000:         "1,000",
		1_500_000_000: "1,500,000,000",
		-2_500_000:    "-2,500,000",
	}
	for in, want := range cases {
		if got := formatSilver(in); got != want {
			t.Fatalf("formatSilver(%d) = %q, want %q", in, got, want)
		}
	}
}
