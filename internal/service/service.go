package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pearl-sniper/internal/alerting"
	"pearl-sniper/internal/market"
	"pearl-sniper/internal/poller"
	"pearl-sniper/internal/safety"
	"pearl-sniper/internal/session"
	"pearl-sniper/internal/storage"
)

// Scorer evaluates a catalog entry's profitability.
type Scorer interface {
	Score(ctx context.Context, entry market.CatalogEntry) (market.Verdict, error)
}

// Purchaser executes one authorized purchase attempt.
type Purchaser interface {
	Execute(ctx context.Context, event market.ChangeEvent, verdict market.Verdict) market.AttemptRecord
}

// Options tune the driver loop.
type Options struct {
	Partitions    []market.Partition
	FetchTimeout  time.Duration
	AutoBuy       bool
	ReadAuthFatal bool
	RateWindow    time.Duration
	LockKey       int64
}

// Stats are the operator-facing run counters.
type Stats struct {
	Cycles         int64
	FetchFailures  int64
	EventsByKind   map[market.EventKind]int64
	Qualified      int64
	Approved       int64
	DeniedByReason map[safety.DenialReason]int64
}

// Service drives the detection and execution cycle: adaptive sleep, partition
// fan-out, diff, evaluate, gate, execute. Purchase attempts serialize so the
// gate always observes a consistent attempt log.
type Service struct {
	opts     Options
	fetcher  market.SnapshotFetcher
	differ   *poller.Differ
	interval *poller.IntervalController
	scorer   Scorer
	gate     *safety.Gate
	buyer    Purchaser
	lease    *session.Handle
	log      *safety.Log
	store    storage.AttemptStore
	locker   storage.AdvisoryLocker
	notifier alerting.Notifier
	logger   zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New constructs the sniper service.
func New(
	opts Options,
	fetcher market.SnapshotFetcher,
	differ *poller.Differ,
	interval *poller.IntervalController,
	scorer Scorer,
	gate *safety.Gate,
	buyer Purchaser,
	lease *session.Handle,
	log *safety.Log,
	store storage.AttemptStore,
	locker storage.AdvisoryLocker,
	notifier alerting.Notifier,
	logger zerolog.Logger,
) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Hour
	}
	return &Service{
		opts:     opts,
		fetcher:  fetcher,
		differ:   differ,
		interval: interval,
		scorer:   scorer,
		gate:     gate,
		buyer:    buyer,
		lease:    lease,
		log:      log,
		store:    store,
		locker:   locker,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		stats: Stats{
			EventsByKind:   make(map[market.EventKind]int64),
			DeniedByReason: make(map[safety.DenialReason]int64),
		},
	}
}

// Run drives cycles until the context is cancelled. Cancellation is honored
// between cycles and during fetch waits, never mid-purchase.
func (s *Service) Run(ctx context.Context) error {
	if s.locker != nil && s.opts.LockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			return errors.New("another runner holds the advisory lock")
		}
		defer unlock()
	}

	if err := s.reloadAttempts(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("could not reload attempt history; starting with empty log")
	}

	s.logger.Info().Int("partitions", len(s.opts.Partitions)).Bool("auto_buy", s.opts.AutoBuy).Msg("sniper loop starting")

	for {
		delay := s.interval.Interval(time.Now())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			stats := s.Snapshot()
			s.logger.Info().
				Int64("cycles", stats.Cycles).
				Int64("fetch_failures", stats.FetchFailures).
				Int64("qualified", stats.Qualified).
				Int64("approved", stats.Approved).
				Msg("sniper loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.RunCycle(ctx)
	}
}

// reloadAttempts seeds the in-memory log with the trailing rate-limit window
// so gate accounting survives restarts.
func (s *Service) reloadAttempts(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	records, err := s.store.ListAttemptsSince(ctx, time.Now().Add(-s.opts.RateWindow))
	if err != nil {
		return err
	}
	if len(records) > 0 {
		s.log.Seed(records)
		s.logger.Info().Int("records", len(records)).Msg("attempt history reloaded from store")
	}
	return nil
}

type fetchResult struct {
	partition market.Partition
	entries   []market.CatalogEntry
	err       error
}

// RunCycle performs one full observe-diff-act cycle.
func (s *Service) RunCycle(ctx context.Context) {
	s.mu.Lock()
	s.stats.Cycles++
	s.mu.Unlock()

	results := s.fetchAll(ctx)
	observedAt := time.Now().UTC()

	events := make([]market.ChangeEvent, 0)
	for _, result := range results {
		if result.err != nil {
			s.handleFetchFailure(result)
			continue
		}
		events = append(events, s.differ.Diff(result.partition.ID, result.entries, observedAt)...)
	}

	if len(events) > 0 {
		s.processEvents(ctx, events)
	}
}

// fetchAll issues one read per partition concurrently and joins before any
// diffing starts. One partition's failure never aborts the others.
func (s *Service) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.opts.Partitions))

	var group errgroup.Group
	for i, partition := range s.opts.Partitions {
		i, partition := i, partition
		group.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
			defer cancel()

			entries, err := s.fetcher.FetchPartition(fetchCtx, partition.ID)
			results[i] = fetchResult{partition: partition, entries: entries, err: err}
			return nil
		})
	}
	_ = group.Wait()

	return results
}

func (s *Service) handleFetchFailure(result fetchResult) {
	s.mu.Lock()
	s.stats.FetchFailures++
	s.mu.Unlock()

	var authErr *market.AuthError
	if errors.As(result.err, &authErr) {
		if s.opts.ReadAuthFatal {
			s.lease.Invalidate(fmt.Sprintf("read call returned %d", authErr.StatusCode))
		} else {
			s.logger.Warn().Int("status", authErr.StatusCode).
				Str("partition", result.partition.ID.String()).
				Msg("read auth failure; lease kept (read access may be unprivileged)")
		}
		return
	}

	s.logger.Warn().Err(result.err).Str("partition", result.partition.ID.String()).
		Msg("partition fetch failed; prior state untouched")
}

// processEvents scores and, when enabled, executes the cycle's events. Gate
// and executor run strictly sequentially, one event at a time.
func (s *Service) processEvents(ctx context.Context, events []market.ChangeEvent) {
	for _, event := range events {
		s.mu.Lock()
		s.stats.EventsByKind[event.Kind]++
		s.mu.Unlock()

		if !event.Kind.Actionable() {
			s.logger.Debug().Str("key", event.Key.String()).Str("kind", string(event.Kind)).
				Int64("prev_quantity", event.PrevQuantity).Msg("listing gone")
			continue
		}

		s.interval.RecordActivity(event.ObservedAt)

		s.logger.Info().Str("key", event.Key.String()).Str("name", event.Entry.Name).
			Str("kind", string(event.Kind)).
			Int64("price", event.Entry.UnitPrice).
			Int64("quantity", event.Quantity).
			Msg("change detected")

		verdict, err := s.scorer.Score(ctx, event.Entry)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", event.Key.String()).Msg("evaluation failed; skipping event")
			continue
		}

		if verdict.Qualifies {
			s.mu.Lock()
			s.stats.Qualified++
			s.mu.Unlock()
		}

		if !s.opts.AutoBuy {
			if verdict.Qualifies {
				s.notify(ctx, alerting.Notification{Kind: alerting.KindOpportunity, Event: event, Verdict: verdict})
			}
			continue
		}

		decision := s.gate.Authorize(verdict, event.Entry, time.Now())
		if !decision.Allowed {
			s.recordDenial(decision.Reason, event)
			if verdict.Qualifies {
				s.notify(ctx, alerting.Notification{
					Kind:    alerting.KindOpportunity,
					Event:   event,
					Verdict: verdict,
					Denial:  string(decision.Reason),
				})
			}
			if s.leaseInvalid() {
				// No further attempt can succeed this cycle; the operator
				// has already been told loudly by the lease handle.
				return
			}
			continue
		}

		s.mu.Lock()
		s.stats.Approved++
		s.mu.Unlock()

		record := s.buyer.Execute(ctx, event, verdict)
		s.persistAttempt(ctx, record)
		s.notify(ctx, alerting.Notification{Kind: alerting.KindPurchase, Event: event, Verdict: verdict, Attempt: &record})

		if s.leaseInvalid() {
			s.logger.Error().Msg("session lease invalidated mid-cycle; aborting remaining attempts")
			return
		}
	}
}

func (s *Service) recordDenial(reason safety.DenialReason, event market.ChangeEvent) {
	s.mu.Lock()
	s.stats.DeniedByReason[reason]++
	s.mu.Unlock()

	// The denial reason is the primary debugging signal when the sniper
	// sees opportunities but never buys; no-session additionally means
	// purchasing is silently off, which must never look like steady state.
	if reason == safety.DenyNoSession {
		s.logger.Error().Str("key", event.Key.String()).Str("reason", string(reason)).
			Msg("purchase denied: no valid session lease")
		return
	}
	s.logger.Debug().Str("key", event.Key.String()).Str("reason", string(reason)).Msg("purchase denied")
}

func (s *Service) leaseInvalid() bool {
	return s.lease != nil && !s.lease.Valid()
}

func (s *Service) persistAttempt(ctx context.Context, record market.AttemptRecord) {
	if s.store == nil || record.DryRun {
		return
	}
	if err := s.store.InsertAttempt(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("key", record.Key.String()).Msg("failed to persist attempt record")
	}
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch notification")
	}
}

// Snapshot returns a copy of the run counters.
func (s *Service) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Cycles:         s.stats.Cycles,
		FetchFailures:  s.stats.FetchFailures,
		Qualified:      s.stats.Qualified,
		Approved:       s.stats.Approved,
		EventsByKind:   make(map[market.EventKind]int64, len(s.stats.EventsByKind)),
		DeniedByReason: make(map[safety.DenialReason]int64, len(s.stats.DeniedByReason)),
	}
	for kind, count := range s.stats.EventsByKind {
		stats.EventsByKind[kind] = count
	}
	for reason, count := range s.stats.DeniedByReason {
		stats.DeniedByReason[reason] = count
	}
	return stats
}
