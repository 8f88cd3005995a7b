// Package api is the HTTP JSON client for the VerusPulse backend routes.
// Every response is an Envelope; decoded payloads are validated before
// they reach callers, and failures are classified with package errs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// Defaults for the client.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultIdentityTTL = 2 * time.Minute
	DefaultIdentityLRU = 256
	maxBodyBytes       = 8 << 20
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http %d", e.Code)
}

// Client calls the backend. It is safe for concurrent use; identical GETs
// in flight at the same time share one request.
type Client struct {
	base      *url.URL
	http      *http.Client
	clock     clock.WithTicker
	log       *slog.Logger
	userAgent string

	group      singleflight.Group
	identities *expirable.LRU[string, VerusID]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithClock injects the clock used by WaitSync.
func WithClock(clk clock.WithTicker) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithIdentityCache sizes the in-memory identity lookup cache. A size of
// zero disables it.
func WithIdentityCache(size int, ttl time.Duration) ClientOption {
	return func(c *Client) {
		if size <= 0 {
			c.identities = nil
			return
		}
		c.identities = expirable.NewLRU[string, VerusID](size, nil, ttl)
	}
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:       u,
		http:       &http.Client{Timeout: DefaultTimeout},
		clock:      clock.RealClock{},
		log:        slog.New(slog.DiscardHandler),
		userAgent:  "veruspulse",
		identities: expirable.NewLRU[string, VerusID](DefaultIdentityLRU, nil, DefaultIdentityTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// LatestBlocks returns up to limit recent blocks, newest first.
func (c *Client) LatestBlocks(ctx context.Context, limit int) ([]Block, error) {
	var out []Block
	err := c.get(ctx, "latest blocks", "/api/blocks/latest", limitQuery(limit), &out)
	return out, err
}

// Mempool returns the current mempool summary.
func (c *Client) Mempool(ctx context.Context) (Mempool, error) {
	var out Mempool
	err := c.get(ctx, "mempool", "/api/mempool", nil, &out)
	return out, err
}

// Activity returns recent activity events, newest first.
func (c *Client) Activity(ctx context.Context, limit int) ([]ActivityEvent, error) {
	var out []ActivityEvent
	err := c.get(ctx, "activity", "/api/activity", limitQuery(limit), &out)
	return out, err
}

// Trending returns the trending identities by rank.
func (c *Client) Trending(ctx context.Context) ([]TrendingIdentity, error) {
	var out []TrendingIdentity
	err := c.get(ctx, "trending", "/api/trending", nil, &out)
	return out, err
}

// FeaturedIdentities returns the featured VerusIDs.
func (c *Client) FeaturedIdentities(ctx context.Context) ([]VerusID, error) {
	var out []VerusID
	err := c.get(ctx, "featured identities", "/api/verusids/featured", nil, &out)
	return out, err
}

// Identity looks up a VerusID by name. Successful lookups are cached in
// memory for a short time.
func (c *Client) Identity(ctx context.Context, name string) (VerusID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return VerusID{}, errs.Schemaf("identity", "empty identity name")
	}
	cacheKey := strings.ToLower(name)
	if c.identities != nil {
		if v, ok := c.identities.Get(cacheKey); ok {
			return v, nil
		}
	}

	var out VerusID
	if err := c.get(ctx, "identity", "/api/verusids/"+url.PathEscape(name), nil, &out); err != nil {
		return VerusID{}, err
	}
	if c.identities != nil {
		c.identities.Add(cacheKey, out)
	}
	return out, nil
}

// StakingLive returns the live staking view for an identity.
func (c *Client) StakingLive(ctx context.Context, id string) (StakingLive, error) {
	var out StakingLive
	err := c.get(ctx, "staking live", "/api/staking/"+url.PathEscape(id)+"/live", nil, &out)
	return out, err
}

// StakingHistorical returns the indexed staking history for an identity.
func (c *Client) StakingHistorical(ctx context.Context, id string) (StakingHistorical, error) {
	var out StakingHistorical
	err := c.get(ctx, "staking historical", "/api/staking/"+url.PathEscape(id)+"/historical", nil, &out)
	return out, err
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

// get fetches path and decodes the envelope data into out. Concurrent
// calls for the same URL share one request; each caller decodes its own
// copy of the payload. The shared request is detached from the caller
// that started it, so one caller giving up does not fail the others; it
// is bounded by the client timeout instead.
func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	u := c.endpoint(path, q)

	ch := c.group.DoChan(u, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		return c.fetch(fctx, op, http.MethodGet, u)
	})

	var data json.RawMessage
	select {
	case <-ctx.Done():
		return classifyContext(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		data = res.Val.(json.RawMessage)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errs.Schema(op, fmt.Errorf("decode data: %w", err))
	}
	if err := Check(out); err != nil {
		return errs.Schema(op, fmt.Errorf("validate: %w", err))
	}
	return nil
}

// flightTimeout bounds a shared request.
func (c *Client) flightTimeout() time.Duration {
	if c.http.Timeout > 0 {
		return c.http.Timeout
	}
	return DefaultTimeout
}

// endpoint joins the base URL with an already-escaped path.
func (c *Client) endpoint(escapedPath string, q url.Values) string {
	u := *c.base
	raw := strings.TrimRight(u.EscapedPath(), "/") + escapedPath
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = p, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// fetch performs one request and unwraps the envelope.
func (c *Client) fetch(ctx context.Context, op, method, u string) (json.RawMessage, error) {
	resp, err := c.do(ctx, op, method, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	env, err := readEnvelope(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if err == nil {
			se.Message = env.Error
		}
		return nil, errs.Network(op, se)
	}
	if err != nil {
		return nil, errs.Schema(op, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request unsuccessful"
		}
		return nil, errs.Schema(op, errors.New(msg))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, errs.Schema(op, errors.New("response has no data"))
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, op, method, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, classifyContext(op, ctx.Err())
		}
		return nil, errs.Network(op, err)
	}
	c.log.Debug("api request", "method", method, "url", u, "status", resp.StatusCode, "latency", c.clock.Since(start))
	return resp, nil
}

func readEnvelope(r io.Reader) (Envelope, error) {
	var env Envelope
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return env, fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func classifyContext(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeout(op, err)
	}
	return errs.New(errs.KindCancellation, op, err)
}
