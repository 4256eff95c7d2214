package evaluator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMarketRefFetchesBothMaterials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Home/GetWorldMarketSubList" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		switch r.PostForm.Get("mainKey") {
		case "16004":
			_, _ = w.Write([]byte(`{"detailList":[{"pricePerOne":3000000}]}`))
		case "16003":
			_, _ = w.Write([]byte(`{"detailList":[{"pricePerOne":9000000}]}`))
		default:
			t.Fatalf("unexpected mainKey %s", r.PostForm.Get("mainKey"))
		}
	}))
	defer srv.Close()

	ref := NewMarketRef(MarketRefOptions{BaseURL: srv.URL, TTL: time.Minute}, zerolog.Nop())
	prices, err := ref.Prices(context.Background())
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if prices.CronStone != 3_000_000 || prices.ValksCry != 9_000_000 {
		t.Fatalf("prices = %+v", prices)
	}
	if prices.FetchedAt.IsZero() {
		t.Fatal("FetchedAt must be stamped")
	}
}

func TestMarketRefCachesWithinTTL(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"detailList":[{"pricePerOne":3000000}]}`))
	}))
	defer srv.Close()

	ref := NewMarketRef(MarketRefOptions{BaseURL: srv.URL, TTL: time.Minute}, zerolog.Nop())
	if _, err := ref.Prices(context.Background()); err != nil {
		t.Fatalf("first Prices: %v", err)
	}
	if _, err := ref.Prices(context.Background()); err != nil {
		t.Fatalf("second Prices: %v", err)
	}

	// One call per material, once: the second read is served from cache.
	if got := calls.Load(); got != 2 {
		t.Fatalf("server hit %d times, want 2", got)
	}
}

func TestMarketRefFallsBackToStaleSnapshot(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"detailList":[{"pricePerOne":3000000}]}`))
	}))
	defer srv.Close()

	// TTL short enough that the second read refreshes.
	ref := NewMarketRef(MarketRefOptions{BaseURL: srv.URL, TTL: time.Nanosecond}, zerolog.Nop())
	first, err := ref.Prices(context.Background())
	if err != nil {
		t.Fatalf("first Prices: %v", err)
	}

	fail.Store(true)
	time.Sleep(time.Millisecond)

	second, err := ref.Prices(context.Background())
	if err != nil {
		t.Fatalf("stale fallback must not error: %v", err)
	}
	if second.CronStone != first.CronStone || !second.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("expected stale snapshot, got %+v", second)
	}
}

func TestMarketRefNoSnapshotPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ref := NewMarketRef(MarketRefOptions{BaseURL: srv.URL, TTL: time.Minute}, zerolog.Nop())
	if _, err := ref.Prices(context.Background()); err == nil {
		t.Fatal("first refresh failure with no snapshot must error")
	}
}
