// Package client provides the rate-limited iNaturalist API client with
// cooperative cancellation and cached entity lookups.
package client

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

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for client operations.
var (
	inatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inat_requests_total",
		Help: "Total iNaturalist API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	inatRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inat_request_duration_seconds",
		Help:    "iNaturalist request duration in seconds by endpoint, including pacing waits",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	inatErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inat_errors_total",
		Help: "Total iNaturalist request errors by class",
	}, []string{"class"})

	inatEntityLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inat_entity_lookups_total",
		Help: "Entity lookups by type and where they were served from",
	}, []string{"type", "source"})
)

// Client is the iNaturalist API client. One instance owns one pacing
// interval: calls made through it never start less than Interval apart,
// however many goroutines use it.
type Client struct {
	http     *resty.Client
	limiter  *ratelimit.Limiter
	cache    cache.Store
	config   Config
	logger   zerolog.Logger
	entities singleflight.Group
}

// Config holds the client configuration.
type Config struct {
	// Cache stores entity lookups (REQUIRED)
	Cache cache.Store

	// BaseURL is the API root, e.g. https://api.inaturalist.org/v1
	BaseURL string

	// User-Agent header (REQUIRED)
	UserAgent string

	// Token is the default bearer token. Empty means unauthenticated.
	Token string

	// Interval is the minimum spacing between calls
	Interval time.Duration

	// Timeout bounds a single HTTP exchange
	Timeout time.Duration

	// Transport overrides the HTTP transport (for testing)
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(store cache.Store, userAgent string) Config {
	return Config{
		Cache:     store,
		BaseURL:   inat.DefaultBaseURL,
		UserAgent: userAgent,
		Interval:  ratelimit.DefaultInterval,
		Timeout:   30 * time.Second,
	}
}

// New creates a new iNaturalist client.
func New(cfg Config) (*Client, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = inat.DefaultBaseURL
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must be >= 0 (got %s)", cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = ratelimit.DefaultInterval
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "inat-client").Logger()
	limiter := ratelimit.NewLimiter(cfg.Interval, log.With().Str("component", "ratelimit").Logger())

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetTransport(limiter.Transport(cfg.Transport)).
		SetLogger(restyLogger{logger: logger})

	return &Client{
		http:    httpClient,
		limiter: limiter,
		cache:   cfg.Cache,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Cancel sets or clears the pending cancellation flag. The flag takes
// effect at the next check point and is cleared once observed.
func (c *Client) Cancel(flag bool) {
	c.limiter.Cancel(flag)
}

// CheckCancelled returns ErrQueryCancelled, clearing the flag, if a
// cancellation is pending.
func (c *Client) CheckCancelled() error {
	return c.limiter.CheckCancelled()
}

// FetchJSON performs a paced GET and returns the response body, which is
// guaranteed to be valid JSON. An empty token falls back to Config.Token.
//
// Failures are *TransportError and are not retried. A cancellation
// requested before the call, or while it waited for its slot, returns
// ErrQueryCancelled without touching the network.
func (c *Client) FetchJSON(ctx context.Context, rawURL, token string) (json.RawMessage, error) {
	endpoint := endpointLabel(rawURL)

	startTime := time.Now()
	defer func() {
		inatRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter.Throttle(ctx); err != nil {
		return nil, err
	}

	// A cancel that arrived while waiting for the slot aborts here.
	if err := c.limiter.CheckCancelled(); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	if token == "" {
		token = c.config.Token
	}
	if token != "" {
		req.SetAuthToken(token)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Bool("authenticated", token != "").
		Msg("Executing iNaturalist request")

	resp, err := req.Get(rawURL)
	if err != nil {
		inatErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		inatRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &TransportError{
			URL:        rawURL,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	status := resp.StatusCode()
	inatRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

	if errClass := classifyStatus(status); errClass != "" {
		inatErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", status).
			Str("error_class", string(errClass)).
			Msg("iNaturalist request error")
		return nil, &TransportError{
			URL:        rawURL,
			StatusCode: status,
			ErrorClass: errClass,
			Message:    resp.Status(),
		}
	}

	body := resp.Body()
	if !json.Valid(body) {
		inatErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", status).
			Int("bytes", len(body)).
			Msg("Response body is not JSON")
		return nil, &TransportError{
			URL:        rawURL,
			StatusCode: status,
			ErrorClass: ErrorClassDecode,
			Message:    "response body is not JSON",
		}
	}

	return json.RawMessage(body), nil
}

// FetchEntityByID resolves one entity through the cache. The cache key is
// the lookup URL itself, so each (entityType, id) pair costs at most one
// network call for the lifetime of the cache. Concurrent lookups of the
// same pair share that call; a caller whose ctx ends stops waiting without
// failing the others.
func (c *Client) FetchEntityByID(ctx context.Context, entityType, id string) (json.RawMessage, error) {
	prefix, err := inat.EntityURL(c.config.BaseURL, entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("empty %s id", entityType)
	}
	key := prefix + url.PathEscape(id)

	cached, err := c.cache.Get(ctx, key)
	if err == nil {
		inatEntityLookupsTotal.WithLabelValues(entityType, "cache").Inc()
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("read %s/%s from cache: %w", entityType, id, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	ch := c.entities.DoChan(key, func() (interface{}, error) {
		body, err := c.FetchJSON(runCtx, key, "")
		if err != nil {
			return nil, err
		}

		var env struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", inat.ErrInvalidEnvelope, err)
		}
		if len(env.Results) == 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrEntityNotFound, entityType, id)
		}
		entity := env.Results[0]

		if err := c.cache.Put(runCtx, key, entity); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache entity")
		}
		inatEntityLookupsTotal.WithLabelValues(entityType, "network").Inc()
		return entity, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("key", key).Msg("Entity lookup shared with concurrent caller")
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchTaxon is FetchEntityByID for taxa, decoded.
func (c *Client) FetchTaxon(ctx context.Context, id int) (*inat.Taxon, error) {
	raw, err := c.FetchEntityByID(ctx, inat.EntityTaxa, strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	var taxon inat.Taxon
	if err := json.Unmarshal(raw, &taxon); err != nil {
		return nil, fmt.Errorf("decode taxon %d: %w", id, err)
	}
	return &taxon, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Limiter returns the pacing limiter (for inspection and testing).
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Cache returns the cache store.
func (c *Client) Cache() cache.Store {
	return c.cache
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// endpointLabel reduces a URL to a low-cardinality metric label: the path
// with numeric segments replaced by ":id".
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segments {
		if _, err := strconv.Atoi(s); err == nil {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

// restyLogger routes resty's internal logging through zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
