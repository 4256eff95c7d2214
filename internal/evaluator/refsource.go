package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const subListPath = "/Home/GetWorldMarketSubList"

// Material item ids on the central market.
const (
	CronStoneID int64 = 16004
	ValksCryID  int64 = 16003
)

// MaterialPrices is one snapshot of the extraction material prices, in
// silver per unit.
type MaterialPrices struct {
	CronStone int64
	ValksCry  int64
	FetchedAt time.Time
}

// RefSource supplies the current material prices. Implementations refresh on
// their own schedule; callers treat the result as read-only input.
type RefSource interface {
	Prices(ctx context.Context) (MaterialPrices, error)
}

// StaticRefSource returns fixed prices. Used by simulate and tests.
type StaticRefSource struct {
	Snapshot MaterialPrices
}

func (s *StaticRefSource) Prices(context.Context) (MaterialPrices, error) {
	return s.Snapshot, nil
}

// MarketRefOptions parameterise the market-backed reference source.
type MarketRefOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	TTL       time.Duration

	// CronItemID and ValksItemID default to the live market ids. Overridable
	// for regions that renumber the materials.
	CronItemID  int64
	ValksItemID int64
}

// MarketRef reads cron stone and valks' cry prices from the market sub-list
// endpoint and caches them for a TTL, so evaluation never fetches per entry.
type MarketRef struct {
	opts   MarketRefOptions
	client *http.Client
	logger zerolog.Logger

	mu     sync.Mutex
	cached MaterialPrices
}

// NewMarketRef constructs a market-backed reference source.
func NewMarketRef(opts MarketRefOptions, logger zerolog.Logger) *MarketRef {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.CronItemID <= 0 {
		opts.CronItemID = CronStoneID
	}
	if opts.ValksItemID <= 0 {
		opts.ValksItemID = ValksCryID
	}
	return &MarketRef{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "ref_prices").Logger(),
	}
}

// Prices returns the cached material prices, refreshing when stale. A failed
// refresh falls back to the previous snapshot if one exists.
func (m *MarketRef) Prices(ctx context.Context) (MaterialPrices, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cached.FetchedAt.IsZero() && time.Since(m.cached.FetchedAt) < m.opts.TTL {
		return m.cached, nil
	}

	cron, err := m.fetchPrice(ctx, m.opts.CronItemID)
	if err != nil {
		return m.fallback(err)
	}
	valks, err := m.fetchPrice(ctx, m.opts.ValksItemID)
	if err != nil {
		return m.fallback(err)
	}

	m.cached = MaterialPrices{CronStone: cron, ValksCry: valks, FetchedAt: time.Now().UTC()}
	m.logger.Debug().Int64("cron", cron).Int64("valks", valks).Msg("material prices refreshed")
	return m.cached, nil
}

func (m *MarketRef) fallback(err error) (MaterialPrices, error) {
	if !m.cached.FetchedAt.IsZero() {
		m.logger.Warn().Err(err).Time("stale_since", m.cached.FetchedAt).Msg("using stale material prices")
		return m.cached, nil
	}
	return MaterialPrices{}, err
}

func (m *MarketRef) fetchPrice(ctx context.Context, itemID int64) (int64, error) {
	form := url.Values{}
	form.Set("mainKey", strconv.FormatInt(itemID, 10))
	form.Set("usingCleint", "0")

	endpoint := strings.TrimRight(m.opts.BaseURL, "/") + subListPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if m.opts.UserAgent != "" {
		req.Header.Set("User-Agent", m.opts.UserAgent)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch material %d: %w", itemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch material %d: status %d", itemID, resp.StatusCode)
	}

	var payload struct {
		DetailList []struct {
			PricePerOne int64 `json:"pricePerOne"`
		} `json:"detailList"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode material %d: %w", itemID, err)
	}
	if len(payload.DetailList) == 0 {
		return 0, errors.New("empty material detail list")
	}

	price := payload.DetailList[0].PricePerOne
	if price <= 0 {
		return 0, fmt.Errorf("material %d returned non-positive price", itemID)
	}
	return price, nil
}

var _ RefSource = (*MarketRef)(nil)
var _ RefSource = (*StaticRefSource)(nil)
