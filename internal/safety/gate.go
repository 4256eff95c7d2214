package safety

import (
	"time"

	"pearl-sniper/internal/market"
)

// DenialReason names the first failing check of an authorization. The reason
// is required output: it is the primary debugging signal when the system sees
// opportunities but never acts.
type DenialReason string

const (
	DenyNotProfitable DenialReason = "not-profitable"
	DenyPriceCeiling  DenialReason = "price-ceiling"
	DenyRateLimited   DenialReason = "rate-limited"
	DenyCooldown      DenialReason = "cooldown-active"
	DenyNoSession     DenialReason = "no-session"
)

// Decision is the outcome of one authorization. A denial is the expected
// steady state, not an error.
type Decision struct {
	Allowed bool
	Reason  DenialReason
}

func approved() Decision {
	return Decision{Allowed: true}
}

func denied(reason DenialReason) Decision {
	return Decision{Reason: reason}
}

// CooldownScope selects whether the cooldown applies across all keys or per
// key. Global is the default: it prevents purchase storms even across
// different items.
type CooldownScope string

const (
	CooldownGlobal CooldownScope = "global"
	CooldownPerKey CooldownScope = "per_key"
)

// LeaseChecker reports whether the session lease may back a privileged call.
type LeaseChecker interface {
	Valid() bool
}

// GateOptions are the immutable purchase policy limits.
type GateOptions struct {
	PriceCeiling  int64
	MaxPerWindow  int
	RateWindow    time.Duration
	Cooldown      time.Duration
	CooldownScope CooldownScope
}

// Gate is the sole authority permitted to approve a purchase attempt. All
// checks are cheap and I/O free; rate and cooldown state is read from the
// attempt log, never from a parallel counter.
type Gate struct {
	opts  GateOptions
	log   *Log
	lease LeaseChecker
}

// NewGate constructs a Gate over the shared attempt log.
func NewGate(opts GateOptions, log *Log, lease LeaseChecker) *Gate {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Hour
	}
	if opts.CooldownScope == "" {
		opts.CooldownScope = CooldownGlobal
	}
	return &Gate{opts: opts, log: log, lease: lease}
}

// Authorize runs the policy ladder in order, cheapest and most disqualifying
// first, and returns the first failing reason. Pure for a fixed log and now.
func (g *Gate) Authorize(verdict market.Verdict, entry market.CatalogEntry, now time.Time) Decision {
	if !verdict.Qualifies {
		return denied(DenyNotProfitable)
	}

	if g.opts.PriceCeiling > 0 && entry.UnitPrice > g.opts.PriceCeiling {
		return denied(DenyPriceCeiling)
	}

	if g.opts.MaxPerWindow > 0 && g.log.CountSince(now, g.opts.RateWindow) >= g.opts.MaxPerWindow {
		return denied(DenyRateLimited)
	}

	if g.opts.Cooldown > 0 {
		last, ok := g.lastAttempt(entry.Key)
		if ok && now.Sub(last) < g.opts.Cooldown {
			return denied(DenyCooldown)
		}
	}

	if g.lease == nil || !g.lease.Valid() {
		return denied(DenyNoSession)
	}

	return approved()
}

func (g *Gate) lastAttempt(key market.EntryKey) (time.Time, bool) {
	if g.opts.CooldownScope == CooldownPerKey {
		return g.log.LastAttemptAtKey(key)
	}
	return g.log.LastAttemptAt()
}
