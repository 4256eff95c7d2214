package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const listPath = "/Home/GetWorldMarketList"

// RegionBaseURLs maps the supported market regions to their trade endpoints.
var RegionBaseURLs = map[string]string{
	"eu": "https://eu-trade.naeu.playblackdesert.com",
	"na": "https://na-trade.naeu.playblackdesert.com",
	"kr": "https://trade.kr.playblackdesert.com",
	"sa": "https://sa-trade.tr.playblackdesert.com",
}

// AuthError marks a 401/403-class response. Whether it is fatal to the
// session lease depends on the call class and configuration.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("market auth failed (%d)", e.StatusCode)
}

// StatusError carries a non-auth HTTP failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("market api error (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("market api error (%d)", e.StatusCode)
}

// ResultError carries a non-zero resultCode from an otherwise-OK response.
// The remote signals failure in-band this way; such a response must never
// read as an empty catalog.
type ResultError struct {
	Code int
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("market result code %d", e.Code)
}

// Retryable reports whether an error is a transient transport failure that a
// read call may retry. Auth failures, 4xx responses, and in-band result
// failures are never retryable; the next poll cycle observes again anyway.
func Retryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var resultErr *ResultError
	if errors.As(err, &resultErr) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}

// Credentials carries the headers and verification token for a market call.
type Credentials struct {
	Cookie    string
	UserAgent string
	Token     string
}

// CredentialSource supplies the current credentials, if any. Read calls work
// without credentials on deployments where list access is public.
type CredentialSource interface {
	Current() (Credentials, bool)
}

// SnapshotFetcher retrieves one partition's full current entry set.
type SnapshotFetcher interface {
	FetchPartition(ctx context.Context, p PartitionID) ([]CatalogEntry, error)
}

// ClientOptions parameterise the market read client.
type ClientOptions struct {
	BaseURL           string
	Region            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	MaxRetries        int
}

// Client fetches partition snapshots over one shared, connection-reused
// HTTP client. Reads retry transient failures with bounded backoff; the
// retry policy lives here and nowhere else.
type Client struct {
	opts    ClientOptions
	baseURL string
	creds   CredentialSource
	client  *http.Client
	limiter *rate.Limiter
	reads   failsafe.Executor[[]CatalogEntry]
	logger  zerolog.Logger
}

// NewClient constructs a market read client.
func NewClient(opts ClientOptions, creds CredentialSource, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		region := strings.ToLower(opts.Region)
		if u, ok := RegionBaseURLs[region]; ok {
			baseURL = u
		} else {
			baseURL = RegionBaseURLs["eu"]
		}
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 2
	}

	retryPolicy := retrypolicy.NewBuilder[[]CatalogEntry]().
		HandleIf(func(_ []CatalogEntry, err error) bool {
			return Retryable(err)
		}).
		WithBackoff(250*time.Millisecond, 2*time.Second).
		WithMaxRetries(maxRetries).
		Build()

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		opts:    opts,
		baseURL: baseURL,
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		reads:   failsafe.With[[]CatalogEntry](retryPolicy),
		logger:  logger.With().Str("component", "market_client").Logger(),
	}
}

// BaseURL exposes the resolved endpoint, shared with the purchase path.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchPartition retrieves the full current entry set of one partition.
func (c *Client) FetchPartition(ctx context.Context, p PartitionID) ([]CatalogEntry, error) {
	return c.reads.WithContext(ctx).GetWithExecution(func(_ failsafe.Execution[[]CatalogEntry]) ([]CatalogEntry, error) {
		return c.fetchOnce(ctx, p)
	})
}

func (c *Client) fetchOnce(ctx context.Context, p PartitionID) ([]CatalogEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("mainCategory", strconv.Itoa(p.Main))
	form.Set("subCategory", strconv.Itoa(p.Sub))

	var creds Credentials
	if c.creds != nil {
		creds, _ = c.creds.Current()
	}
	if creds.Token != "" {
		form.Set("__RequestVerificationToken", creds.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+listPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, creds, p)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch partition %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", p, err)
	}
	if payload.ResultCode != 0 {
		return nil, &ResultError{Code: payload.ResultCode}
	}

	return c.parseEntries(p, payload.MarketList), nil
}

func (c *Client) setHeaders(req *http.Request, creds Credentials, p PartitionID) {
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", fmt.Sprintf("%s/Home/list/%s", c.baseURL, p))

	ua := creds.UserAgent
	if ua == "" {
		ua = c.opts.UserAgent
	}
	if ua == "" {
		ua = "pearlsniper/1.0"
	}
	req.Header.Set("User-Agent", ua)

	if creds.Cookie != "" {
		req.Header.Set("Cookie", creds.Cookie)
	}
}

// parseEntries converts raw listings to CatalogEntry values. A malformed
// entry is skipped at entry granularity; it never aborts the partition.
func (c *Client) parseEntries(p PartitionID, raw []json.RawMessage) []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(raw))
	for _, msg := range raw {
		var item listItem
		if err := json.Unmarshal(msg, &item); err != nil {
			c.logger.Warn().Err(err).Str("partition", p.String()).Msg("skipping malformed entry")
			continue
		}
		if item.MainKey <= 0 {
			c.logger.Warn().Str("partition", p.String()).RawJSON("entry", msg).Msg("skipping entry without item id")
			continue
		}
		entries = append(entries, CatalogEntry{
			Key:       EntryKey{Partition: p, ItemID: item.MainKey, SubID: item.SubKey},
			Name:      item.Name,
			UnitPrice: item.PricePerOne,
			Quantity:  item.SumCount,
			Raw:       msg,
		})
	}
	return entries
}

type listResponse struct {
	ResultCode int               `json:"resultCode"`
	MarketList []json.RawMessage `json:"marketList"`
}

type listItem struct {
	MainKey     int64  `json:"mainKey"`
	SubKey      int64  `json:"subKey"`
	Name        string `json:"name"`
	PricePerOne int64  `json:"pricePerOne"`
	SumCount    int64  `json:"sumCount"`
}

var _ SnapshotFetcher = (*Client)(nil)
