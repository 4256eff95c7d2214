package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pearl-sniper/internal/market"
)

// ErrNoLease indicates no lease file exists yet.
var ErrNoLease = errors.New("session: no lease stored")

// Lease is the revocable authentication credential for privileged calls plus
// its validity window. Replaced as a whole object on re-issue, never patched.
type Lease struct {
	Cookie            string    `json:"cookie"`
	UserAgent         string    `json:"user_agent"`
	VerificationToken string    `json:"request_verification_token"`
	UserNo            string    `json:"user_no,omitempty"`
	IssuedAt          time.Time `json:"issued_at"`
	LastValidatedAt   time.Time `json:"last_validated_at"`
}

// Options tune lease storage.
type Options struct {
	File   string
	MaxAge time.Duration
}

// Handle guards the process-wide lease. Read-mostly: every privileged call
// checks Valid; only an external re-issue or an auth failure writes.
type Handle struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	lease Lease
	valid bool
}

// NewHandle constructs an empty (invalid) lease handle.
func NewHandle(opts Options, logger zerolog.Logger) *Handle {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	return &Handle{
		opts:   opts,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Load reads the lease file from disk. A lease older than MaxAge loads as
// invalid; the caller must re-issue before purchasing.
func (h *Handle) Load() error {
	if h.opts.File == "" {
		return ErrNoLease
	}

	data, err := os.ReadFile(h.opts.File)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoLease
		}
		return fmt.Errorf("read lease file: %w", err)
	}

	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return fmt.Errorf("parse lease file: %w", err)
	}

	age := time.Since(lease.IssuedAt)

	h.mu.Lock()
	h.lease = lease
	h.valid = age <= h.opts.MaxAge
	valid := h.valid
	h.mu.Unlock()

	if !valid {
		h.logger.Warn().Dur("age", age).Msg("stored lease expired; re-issue required")
	} else {
		h.logger.Info().Time("issued_at", lease.IssuedAt).Msg("lease loaded")
	}
	return nil
}

// Replace installs a whole new lease object, marks it valid, and persists it.
// This is the only path that restores validity.
func (h *Handle) Replace(lease Lease) error {
	if lease.IssuedAt.IsZero() {
		lease.IssuedAt = time.Now().UTC()
	}
	lease.LastValidatedAt = lease.IssuedAt

	h.mu.Lock()
	h.lease = lease
	h.valid = true
	h.mu.Unlock()

	return h.save(lease)
}

// Invalidate flips the lease invalid. Permanent: no privileged call may be
// attempted again until Replace installs a fresh lease.
func (h *Handle) Invalidate(reason string) {
	h.mu.Lock()
	wasValid := h.valid
	h.valid = false
	h.mu.Unlock()

	if wasValid {
		h.logger.Error().Str("reason", reason).Msg("session lease invalidated; purchasing disabled until re-issue")
	}
}

// Valid reports whether the lease may back a privileged call.
func (h *Handle) Valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.valid
}

// Snapshot returns a copy of the current lease and its validity.
func (h *Handle) Snapshot() (Lease, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lease, h.valid
}

// Current implements market.CredentialSource. Credentials are handed out for
// read calls even when the lease is invalid; only purchases require validity.
func (h *Handle) Current() (market.Credentials, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lease.Cookie == "" && h.lease.VerificationToken == "" {
		return market.Credentials{}, false
	}
	return market.Credentials{
		Cookie:    h.lease.Cookie,
		UserAgent: h.lease.UserAgent,
		Token:     h.lease.VerificationToken,
	}, h.valid
}

func (h *Handle) save(lease Lease) error {
	if h.opts.File == "" {
		return nil
	}

	if dir := filepath.Dir(h.opts.File); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create lease dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(lease, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	if err := os.WriteFile(h.opts.File, data, 0o600); err != nil {
		return fmt.Errorf("write lease file: %w", err)
	}

	h.logger.Info().Str("file", h.opts.File).Msg("lease saved")
	return nil
}

var _ market.CredentialSource = (*Handle)(nil)
