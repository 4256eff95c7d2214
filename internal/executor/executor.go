package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pearl-sniper/internal/market"
	"pearl-sniper/internal/safety"
	"pearl-sniper/internal/session"
)

const buyPath = "/Home/Buy"

// Options tune the purchase executor.
type Options struct {
	BaseURL string
	// Timeout bounds the privileged call. Must be shorter than the gate
	// cooldown so a stuck call cannot stall future cycles.
	Timeout   time.Duration
	DryRun    bool
	AuthFatal bool
	// Budget, when positive, enables the operator-facing spend counter.
	Budget int64
}

// Executor issues privileged purchase calls. Exactly one network call per
// authorized attempt; never retried, even on ambiguous failure, because a
// retry on a purchase risks double-buying.
type Executor struct {
	opts   Options
	client *http.Client
	lease  *session.Handle
	log    *safety.Log
	logger zerolog.Logger

	mu        sync.Mutex
	remaining int64
	spent     int64
}

// New constructs an Executor.
func New(opts Options, lease *session.Handle, log *safety.Log, logger zerolog.Logger) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{
		opts:      opts,
		client:    &http.Client{Timeout: timeout},
		lease:     lease,
		log:       log,
		logger:    logger.With().Str("component", "executor").Logger(),
		remaining: opts.Budget,
	}
}

// Execute dispatches one purchase attempt for an authorized event and
// records the outcome. The record is appended for every real attempt
// regardless of outcome, so rate limiting counts attempted purchases.
func (e *Executor) Execute(ctx context.Context, event market.ChangeEvent, verdict market.Verdict) market.AttemptRecord {
	entry := event.Entry
	record := market.AttemptRecord{
		Key:         entry.Key,
		Name:        entry.Name,
		AttemptedAt: time.Now().UTC(),
		UnitPrice:   entry.UnitPrice,
		Quantity:    1,
	}

	if e.opts.DryRun {
		record.Outcome = market.OutcomeSuccess
		record.RemoteMessage = "dry run"
		record.DryRun = true
		e.logger.Info().Str("key", entry.Key.String()).Str("name", entry.Name).
			Int64("price", entry.UnitPrice).Msg("dry run: purchase skipped")
		return record
	}

	outcome, code, message := e.dispatch(ctx, entry)
	record.Outcome = outcome
	record.RemoteCode = code
	record.RemoteMessage = message

	e.log.Append(record)

	logEvent := e.logger.Info()
	if outcome != market.OutcomeSuccess {
		logEvent = e.logger.Warn()
	}
	logEvent.Str("key", entry.Key.String()).Str("name", entry.Name).
		Int64("price", entry.UnitPrice).Str("outcome", string(outcome)).
		Int("remote_code", code).Str("remote_message", message).
		Int64("net_value", verdict.NetValue).Msg("purchase attempt recorded")

	if outcome == market.OutcomeSuccess {
		e.debit(entry.UnitPrice)
	}
	return record
}

// dispatch performs the single privileged call and interprets the response.
func (e *Executor) dispatch(ctx context.Context, entry market.CatalogEntry) (market.Outcome, int, string) {
	lease, valid := e.lease.Snapshot()
	if !valid {
		return market.OutcomeError, 0, "session lease invalid"
	}

	form := url.Values{}
	form.Set("__RequestVerificationToken", lease.VerificationToken)
	form.Set("mainKey", strconv.FormatInt(entry.Key.ItemID, 10))
	form.Set("subKey", strconv.FormatInt(entry.Key.SubID, 10))
	form.Set("pricePerOne", strconv.FormatInt(entry.UnitPrice, 10))
	form.Set("count", "1")

	// Once dispatched the call must not be cancelled: a cancelled purchase
	// leaves the remote-side effect unknown. Only the hard timeout applies.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.client.Timeout)
	defer cancel()

	baseURL := strings.TrimRight(e.opts.BaseURL, "/")
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, baseURL+buyPath, strings.NewReader(form.Encode()))
	if err != nil {
		return market.OutcomeError, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", baseURL)
	req.Header.Set("Referer", fmt.Sprintf("%s/Home/list/%s", baseURL, entry.Key.Partition))
	if lease.UserAgent != "" {
		req.Header.Set("User-Agent", lease.UserAgent)
	}
	if lease.Cookie != "" {
		req.Header.Set("Cookie", lease.Cookie)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return market.OutcomeError, 0, fmt.Sprintf("transport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if e.opts.AuthFatal {
			e.lease.Invalidate(fmt.Sprintf("purchase call returned %d", resp.StatusCode))
		}
		return market.OutcomeError, resp.StatusCode, fmt.Sprintf("auth failed (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return market.OutcomeError, resp.StatusCode, fmt.Sprintf("http %d", resp.StatusCode)
	}

	var payload struct {
		ResultCode int    `json:"resultCode"`
		ResultMsg  string `json:"resultMsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return market.OutcomeError, 0, fmt.Sprintf("decode response: %v", err)
	}

	if payload.ResultCode == 0 {
		return market.OutcomeSuccess, 0, payload.ResultMsg
	}
	// A non-zero result code means the remote declined; the opportunity is
	// gone, so the attempt is rejected and never retried.
	return market.OutcomeRejected, payload.ResultCode, payload.ResultMsg
}

func (e *Executor) debit(amount int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spent += amount
	if e.opts.Budget > 0 {
		e.remaining -= amount
	}
}

// Stats returns the spend counters, for operator-facing statistics only.
// Gate decisions never read these.
func (e *Executor) Stats() (spent, remaining int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spent, e.remaining
}
