// Package upstream talks to the public price API (prices.runescape.wiki
// compatible). One client instance serializes access per endpoint so the
// process never exceeds the polite call budget, whatever the callers do.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/getools/gesniper/internal/domain"
)

var (
	// ErrUnavailable covers transport failures and non-2xx responses after
	// retries are exhausted.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrMalformed means the endpoint answered 2xx with an undecodable body.
	ErrMalformed = errors.New("upstream payload malformed")
	// ErrRateLimited means the local pacing budget for the endpoint is spent;
	// the caller should skip this cycle, not retry.
	ErrRateLimited = errors.New("upstream call rate limited")
)

// Prices above 2^48 gp cannot occur on the exchange; anything bigger is
// corrupt upstream data and is treated as absent.
const maxPlausiblePrice = int64(1) << 48

// LatestEntry is one item from /latest. Nil sides were not observed.
type LatestEntry struct {
	High     *int64 `json:"high"`
	HighTime *int64 `json:"highTime"`
	Low      *int64 `json:"low"`
	LowTime  *int64 `json:"lowTime"`
}

// WindowEntry is one item from the /5m and /1h window endpoints.
type WindowEntry struct {
	AvgHighPrice    *int64 `json:"avgHighPrice"`
	HighPriceVolume int64  `json:"highPriceVolume"`
	AvgLowPrice     *int64 `json:"avgLowPrice"`
	LowPriceVolume  int64  `json:"lowPriceVolume"`
}

// Volume is the combined traded units of both sides.
func (w WindowEntry) Volume() int64 {
	v := w.HighPriceVolume + w.LowPriceVolume
	if v < 0 {
		return 0
	}
	return v
}

type mappingEntry struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Members bool   `json:"members"`
	Limit   int    `json:"limit"`
	Examine string `json:"examine"`
	Icon    string `json:"icon"`
}

type latestResponse struct {
	Data map[string]LatestEntry `json:"data"`
}

type windowResponse struct {
	Data      map[string]WindowEntry `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	FallbackURL string
	UserAgent   string
	// IngestPeriod paces /latest; the window endpoints pace at their natural
	// five-minute cadence regardless.
	IngestPeriod time.Duration
	Logger       zerolog.Logger
}

// Client is a rate-limited, breaker-guarded reader of the price API.
type Client struct {
	http     *resty.Client
	fallback *resty.Client
	breaker  *gobreaker.CircuitBreaker

	latestLimit  *rate.Limiter
	fiveMinLimit *rate.Limiter
	hourLimit    *rate.Limiter
	mappingLimit *rate.Limiter
	historyLimit *rate.Limiter

	log zerolog.Logger
}

// New builds a Client. The per-endpoint limiters allow one call per period
// with a 10% tolerance so a drifting ticker never starves itself.
func New(opts Options) *Client {
	if opts.IngestPeriod <= 0 {
		opts.IngestPeriod = 60 * time.Second
	}
	c := &Client{
		http:         newRestyClient(opts.BaseURL, opts.UserAgent),
		latestLimit:  rate.NewLimiter(periodRate(opts.IngestPeriod), 1),
		fiveMinLimit: rate.NewLimiter(periodRate(5*time.Minute), 1),
		hourLimit:    rate.NewLimiter(periodRate(30*time.Minute), 1),
		mappingLimit: rate.NewLimiter(periodRate(time.Hour), 1),
		historyLimit: rate.NewLimiter(rate.Limit(1), 1),
		log:          opts.Logger.With().Str("component", "upstream").Logger(),
	}
	if opts.FallbackURL != "" {
		c.fallback = newRestyClient(opts.FallbackURL, opts.UserAgent)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 20 && ratio > 0.05
		},
	})
	return c
}

func newRestyClient(baseURL, userAgent string) *resty.Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Transport errors and 5xx retry; 4xx surfaces immediately.
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if userAgent != "" {
		rc.SetHeader("User-Agent", userAgent)
	}
	return rc
}

// periodRate converts "one call per period" into a limiter rate with a 10%
// tolerance.
func periodRate(p time.Duration) rate.Limit {
	return rate.Every(p * 9 / 10)
}

// FetchLatest returns the newest observed prices per item.
func (c *Client) FetchLatest(ctx context.Context) (map[domain.ItemID]LatestEntry, error) {
	if !c.latestLimit.Allow() {
		return nil, ErrRateLimited
	}
	var out latestResponse
	if err := c.getWithFallback(ctx, "/latest", nil, &out); err != nil {
		return nil, err
	}
	res := make(map[domain.ItemID]LatestEntry, len(out.Data))
	for key, entry := range out.Data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		entry.High = sanitizePrice(entry.High)
		entry.Low = sanitizePrice(entry.Low)
		res[domain.ItemID(id)] = entry
	}
	return res, nil
}

// Fetch5m returns the current five-minute trade windows plus the window
// timestamp (unix seconds). Callers may invoke it every tick; the limiter
// enforces the five-minute cadence and answers ErrRateLimited in between.
func (c *Client) Fetch5m(ctx context.Context) (map[domain.ItemID]WindowEntry, int64, error) {
	if !c.fiveMinLimit.Allow() {
		return nil, 0, ErrRateLimited
	}
	return c.fetchWindow(ctx, "/5m", nil)
}

// Fetch5mAt returns the five-minute window starting at ts. It paces on the
// slower history budget and is meant for the admin backfill path.
func (c *Client) Fetch5mAt(ctx context.Context, ts int64) (map[domain.ItemID]WindowEntry, int64, error) {
	if err := c.historyLimit.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("history pacing interrupted: %w", err)
	}
	return c.fetchWindow(ctx, "/5m", map[string]string{"timestamp": strconv.FormatInt(ts, 10)})
}

// Fetch1h returns the current one-hour trade windows, refreshed at most
// every half hour.
func (c *Client) Fetch1h(ctx context.Context) (map[domain.ItemID]WindowEntry, int64, error) {
	if !c.hourLimit.Allow() {
		return nil, 0, ErrRateLimited
	}
	return c.fetchWindow(ctx, "/1h", nil)
}

func (c *Client) fetchWindow(ctx context.Context, path string, query map[string]string) (map[domain.ItemID]WindowEntry, int64, error) {
	var out windowResponse
	if err := c.get(ctx, c.http, path, query, &out); err != nil {
		return nil, 0, err
	}
	res := make(map[domain.ItemID]WindowEntry, len(out.Data))
	for key, entry := range out.Data {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		entry.AvgHighPrice = sanitizePrice(entry.AvgHighPrice)
		entry.AvgLowPrice = sanitizePrice(entry.AvgLowPrice)
		if entry.HighPriceVolume < 0 {
			entry.HighPriceVolume = 0
		}
		if entry.LowPriceVolume < 0 {
			entry.LowPriceVolume = 0
		}
		res[domain.ItemID(id)] = entry
	}
	return res, out.Timestamp, nil
}

// FetchMapping returns the item catalog.
func (c *Client) FetchMapping(ctx context.Context) ([]domain.ItemMeta, error) {
	if !c.mappingLimit.Allow() {
		return nil, ErrRateLimited
	}
	var out []mappingEntry
	if err := c.getWithFallback(ctx, "/mapping", nil, &out); err != nil {
		return nil, err
	}
	metas := make([]domain.ItemMeta, 0, len(out))
	for _, e := range out {
		if e.ID <= 0 || e.Name == "" {
			continue
		}
		limit := e.Limit
		if limit < 0 {
			limit = 0
		}
		metas = append(metas, domain.ItemMeta{
			ID:       domain.ItemID(e.ID),
			Name:     e.Name,
			Members:  e.Members,
			BuyLimit: limit,
			Examine:  e.Examine,
			Icon:     e.Icon,
		})
	}
	return metas, nil
}

// getWithFallback retries the whole call against the fallback host when the
// primary fails. Only /latest and /mapping use it.
func (c *Client) getWithFallback(ctx context.Context, path string, query map[string]string, out any) error {
	err := c.get(ctx, c.http, path, query, out)
	if err == nil || c.fallback == nil || errors.Is(err, ErrMalformed) {
		return err
	}
	c.log.Warn().Str("path", path).Err(err).Msg("primary upstream failed, trying fallback")
	return c.get(ctx, c.fallback, path, query, out)
}

func (c *Client) get(ctx context.Context, rc *resty.Client, path string, query map[string]string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		req := rc.R().SetContext(ctx)
		if len(query) > 0 {
			req.SetQueryParams(query)
		}
		resp, err := req.Get(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: upstream returned 429", ErrRateLimited)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return err
	}
	return nil
}

// sanitizePrice drops values outside the plausible gp range.
func sanitizePrice(p *int64) *int64 {
	if p == nil || *p < 0 || *p > maxPlausiblePrice {
		return nil
	}
	return p
}
