package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testHandle(t *testing.T, maxAge time.Duration) *Handle {
	t.Helper()
	file := filepath.Join(t.TempDir(), "lease.json")
	return NewHandle(Options{File: file, MaxAge: maxAge}, zerolog.Nop())
}

func TestHandleLoadMissingFile(t *testing.T) {
	h := testHandle(t, time.Hour)
	if err := h.Load(); !errors.Is(err, ErrNoLease) {
		t.Fatalf("Load on missing file = %v, want ErrNoLease", err)
	}
	if h.Valid() {
		t.Fatal("handle must start invalid")
	}
}

func TestHandleReplaceAndReload(t *testing.T) {
	h := testHandle(t, time.Hour)

	lease := Lease{
		Cookie:            "session=abc",
		UserAgent:         "test-agent",
		VerificationToken: "token123",
	}
	if err := h.Replace(lease); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !h.Valid() {
		t.Fatal("replaced lease must be valid")
	}

	// A second handle over the same file sees the persisted lease.
	reloaded := NewHandle(h.opts, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reloaded.Valid() {
		t.Fatal("persisted lease must load valid")
	}

	got, valid := reloaded.Snapshot()
	if !valid || got.Cookie != "session=abc" || got.VerificationToken != "token123" {
		t.Fatalf("Snapshot = %+v/%t", got, valid)
	}
	if got.IssuedAt.IsZero() {
		t.Fatal("Replace must fill IssuedAt")
	}
}

func TestHandleLoadExpiredLease(t *testing.T) {
	h := testHandle(t, time.Hour)
	if err := h.Replace(Lease{Cookie: "c", VerificationToken: "t", IssuedAt: time.Now().Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	reloaded := NewHandle(h.opts, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Valid() {
		t.Fatal("expired lease must load invalid")
	}
}

func TestHandleInvalidateIsPermanent(t *testing.T) {
	h := testHandle(t, time.Hour)
	if err := h.Replace(Lease{Cookie: "c", VerificationToken: "t"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	h.Invalidate("auth failure")
	if h.Valid() {
		t.Fatal("lease must stay invalid after Invalidate")
	}

	// Credentials are still handed out for reads, flagged invalid.
	creds, valid := h.Current()
	if valid {
		t.Fatal("credentials must be flagged invalid")
	}
	if creds.Cookie != "c" {
		t.Fatalf("credentials lost after invalidation: %+v", creds)
	}

	// Only a full replace restores validity.
	if err := h.Replace(Lease{Cookie: "c2", VerificationToken: "t2"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !h.Valid() {
		t.Fatal("replace must restore validity")
	}
}

func TestHandleCurrentWithoutLease(t *testing.T) {
	h := testHandle(t, time.Hour)
	if _, ok := h.Current(); ok {
		t.Fatal("empty handle must expose no credentials")
	}
}
