// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gateway is the single chokepoint for outbound HTTP. Every
// external service (OCR, LLM, embeddings, metadata APIs) is reached
// through a per-service Client that applies rate limiting, retries with
// backoff, response caching, timeouts, and error classification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/thoth/internal/cache"
	"github.com/pdiddy/thoth/pkg/types"
)

// backoffBase controls the starting delay for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = 500 * time.Millisecond

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	errBodyLimit      = 512
)

// Gateway hands out per-service clients sharing one cache and logger.
type Gateway struct {
	configs map[string]types.ServiceConfig
	cache   *cache.Cache
	logger  *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// New builds a gateway from the services section of the configuration.
// The cache may be nil, which disables response caching.
func New(configs map[string]types.ServiceConfig, c *cache.Cache, logger *zap.Logger) *Gateway {
	return &Gateway{
		configs: configs,
		cache:   c,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Client returns the client for a service name. Unconfigured services get
// default policy: no rate limit, 30 s timeout, 3 retries, no caching.
func (g *Gateway) Client(service string) *Client {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[service]; ok {
		return c
	}
	c := newClient(service, g.configs[service], g.cache, g.logger)
	g.clients[service] = c
	return c
}

// Client applies one service's policy to every request sent through it.
type Client struct {
	service string
	cfg     types.ServiceConfig
	limiter *rate.Limiter
	httpc   *http.Client
	cache   *cache.Cache
	logger  *zap.Logger
}

func newClient(service string, cfg types.ServiceConfig, c *cache.Cache, logger *zap.Logger) *Client {
	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if burst <= 0 {
			burst = 1
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		service: service,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		httpc:   &http.Client{Timeout: timeout},
		cache:   c,
		logger:  logger,
	}
}

// Config exposes the service policy, letting callers read base URLs and
// API keys without holding the raw config tree.
func (c *Client) Config() types.ServiceConfig { return c.cfg }

// Do sends a request under the service policy. Retryable failures
// (network errors, 429, 5xx) are retried up to the configured attempt
// count; 429 honors Retry-After when present. The returned response always
// has status 2xx; every other outcome becomes a classified error.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.Errorf(types.KindCancelled, "waiting for %s rate limit: %w", c.service, err)
		}

		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
			attemptReq.Body = body
		}

		start := time.Now()
		resp, err := c.httpc.Do(attemptReq)
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return nil, types.Errorf(types.KindCancelled, "calling %s: %w", c.service, ctx.Err())
			}
			if attempt >= maxRetries {
				return nil, types.Errorf(types.KindTransient, "calling %s after %d attempts: %w", c.service, attempt+1, err)
			}
			c.logger.Warn("service call failed, retrying",
				zap.String("service", c.service),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if err := c.sleep(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.logger.Debug("service call",
				zap.String("service", c.service),
				zap.String("method", req.Method),
				zap.Int("status", resp.StatusCode),
				zap.Duration("elapsed", elapsed),
				zap.Int("attempt", attempt+1))
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait, ok := retryAfter(resp)
			if !ok {
				wait = backoff(attempt)
			}
			drain(resp)
			if attempt >= maxRetries {
				return nil, types.Errorf(types.KindRateLimited, "%s rate limited after %d attempts", c.service, attempt+1)
			}
			c.logger.Warn("service rate limited, backing off",
				zap.String("service", c.service),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			snippet := readErrBody(resp)
			if attempt >= maxRetries {
				return nil, types.Errorf(types.KindTransient, "%s returned %d after %d attempts: %s", c.service, resp.StatusCode, attempt+1, snippet)
			}
			c.logger.Warn("service error, retrying",
				zap.String("service", c.service),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			if err := c.sleep(ctx, backoff(attempt)); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusNotFound:
			drain(resp)
			return nil, types.Errorf(types.KindNotFound, "%s returned 404 for %s", c.service, req.URL.Path)

		default:
			snippet := readErrBody(resp)
			return nil, types.Errorf(types.KindUpstream4xx, "%s returned %d: %s", c.service, resp.StatusCode, snippet)
		}
	}
}

// GetJSON performs a GET and decodes the JSON response into out. When the
// service policy sets a cache TTL, responses are cached by URL.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	fetch := func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, types.Errorf(types.KindTransient, "reading %s response: %w", c.service, err)
		}
		return data, nil
	}

	var data []byte
	var err error
	if c.cache != nil && c.cfg.CacheTTL > 0 {
		key := cache.Key(cache.KindMetadata, c.service, url)
		data, err = c.cache.GetOrBuild(ctx, key, cache.KindMetadata, c.cfg.CacheTTL, fetch)
	} else {
		data, err = fetch(ctx)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.service, err)
	}
	return nil
}

// PostJSON marshals in, POSTs it, and decodes the JSON response into out.
// POSTs are never cached.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", c.service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		drainBody(resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", c.service, err)
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return types.Errorf(types.KindCancelled, "waiting to retry %s: %w", c.service, ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// backoff doubles from backoffBase per attempt with up to 50% jitter.
func backoff(attempt int) time.Duration {
	d := backoffBase << attempt
	return d + rand.N(d/2+1)
}

// retryAfter parses the Retry-After header as delay seconds or HTTP date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func drain(resp *http.Response) {
	drainBody(resp.Body)
}

func drainBody(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

func readErrBody(resp *http.Response) string {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	io.Copy(io.Discard, resp.Body)
	return string(bytes.TrimSpace(data))
}
