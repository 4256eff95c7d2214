package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"pearl-sniper/internal/session"
)

// ImportSessionOptions carry the credential material for a fresh lease.
type ImportSessionOptions struct {
	Cookie            string
	UserAgent         string
	VerificationToken string
	UserNo            string
}

// ImportSession stores a freshly captured session lease. Replacing the lease
// is the only way to restore validity after an auth failure.
func (a *App) ImportSession(opts ImportSessionOptions) error {
	if opts.Cookie == "" {
		return errors.New("--cookie is required")
	}
	if opts.VerificationToken == "" {
		return errors.New("--token is required")
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = a.Config.Market.UserAgent
	}

	now := time.Now().UTC()
	lease := session.Lease{
		Cookie:            opts.Cookie,
		UserAgent:         userAgent,
		VerificationToken: opts.VerificationToken,
		UserNo:            opts.UserNo,
		IssuedAt:          now,
		LastValidatedAt:   now,
	}

	handle := a.newLease()
	if err := handle.Replace(lease); err != nil {
		return err
	}

	a.Logger.Info().Str("file", a.Config.Session.File).Msg("session lease stored")
	return nil
}

// ShowSession prints the stored lease with the secret material masked.
func (a *App) ShowSession() error {
	handle := a.newLease()
	err := handle.Load()
	if errors.Is(err, session.ErrNoLease) {
		fmt.Fprintln(os.Stdout, "no session lease stored")
		return nil
	}
	if err != nil {
		return err
	}

	lease, valid := handle.Snapshot()
	fmt.Fprintf(os.Stdout, "file:       %s\n", a.Config.Session.File)
	fmt.Fprintf(os.Stdout, "cookie:     %s\n", mask(lease.Cookie))
	fmt.Fprintf(os.Stdout, "token:      %s\n", mask(lease.VerificationToken))
	fmt.Fprintf(os.Stdout, "user agent: %s\n", lease.UserAgent)
	fmt.Fprintf(os.Stdout, "issued at:  %s\n", lease.IssuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "valid:      %t\n", valid)
	return nil
}

func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
