package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for paged retrievals.
var (
	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inat_retrievals_total",
		Help: "Paged retrievals by outcome",
	}, []string{"outcome"})

	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inat_pages_fetched_total",
		Help: "Total result pages fetched from upstream",
	})
)

// AbortReason explains why a retrieval produced no data.
type AbortReason string

const (
	// AbortNone means the retrieval completed.
	AbortNone AbortReason = ""

	// AbortCancelled means a cancellation was observed mid-retrieval.
	AbortCancelled AbortReason = "user-cancelled"

	// AbortResultLimit means total_results exceeded Config.MaxResults.
	AbortResultLimit AbortReason = "result-limit-exceeded"

	// AbortPageLimit means the page count exceeded Config.MaxPages.
	AbortPageLimit AbortReason = "page-limit-exceeded"
)

// Config holds retriever configuration.
type Config struct {
	// MaxResults is the largest total_results a retrieval accepts
	MaxResults int

	// MaxPages is the largest page count a retrieval accepts
	MaxPages int

	// PerPage is set as per_page on queries that do not carry one. 0 leaves
	// the upstream default.
	PerPage int
}

// DefaultConfig returns the upstream ceilings.
func DefaultConfig() Config {
	return Config{
		MaxResults: 10000,
		MaxPages:   50,
	}
}

// PageFetcher is the interface the iNaturalist client satisfies for paced
// single-page fetches.
type PageFetcher interface {
	// FetchJSON fetches one URL; an empty token uses the client default
	FetchJSON(ctx context.Context, rawURL, token string) (json.RawMessage, error)

	// Cancel sets or clears the pending cancellation flag
	Cancel(flag bool)
}

// Request is one query to retrieve.
type Request struct {
	// URL is the query without a page parameter
	URL *url.URL

	// Label is shown by the progress reporter. It is not part of the cache key.
	Label string

	// Token overrides the client's default bearer token
	Token string
}

// Outcome is the result of Retrieve. Results is nil unless Completed.
type Outcome struct {
	Results      []json.RawMessage
	Aborted      AbortReason
	TotalResults int
	NumPages     int
	FromCache    bool
}

// Completed reports whether the outcome carries the full result set.
func (o Outcome) Completed() bool {
	return o.Aborted == AbortNone
}

// Retriever drives sequential multi-page fetches and caches each complete
// result set under its query URL.
type Retriever struct {
	fetcher  PageFetcher
	store    cache.Store
	progress Progress
	config   Config
	logger   zerolog.Logger
	inflight singleflight.Group
}

// NewRetriever creates a retriever. A nil progress reporter is replaced by
// NopProgress.
func NewRetriever(fetcher PageFetcher, store cache.Store, progress Progress, config Config) *Retriever {
	if config.MaxResults <= 0 {
		config.MaxResults = 10000
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 50
	}
	if progress == nil {
		progress = NopProgress{}
	}

	return &Retriever{
		fetcher:  fetcher,
		store:    store,
		progress: progress,
		config:   config,
		logger:   log.With().Str("component", "pagination").Logger(),
	}
}

// CacheKey returns the key a request is cached under: the query URL with
// any page parameter removed and the default per_page applied.
func (r *Retriever) CacheKey(req Request) (string, error) {
	if req.URL == nil {
		return "", fmt.Errorf("request url is required")
	}
	u := *req.URL
	q := u.Query()
	q.Del("page")
	if r.config.PerPage > 0 && q.Get("per_page") == "" {
		q.Set("per_page", strconv.Itoa(r.config.PerPage))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Retrieve returns the full result set of a paged query.
//
// A cached result set is returned without any network call. Otherwise pages
// are fetched one after another through the fetcher, which paces them. The
// retrieval aborts without caching when the collection exceeds MaxResults or
// MaxPages, or when a cancellation is observed; those outcomes return a nil
// error. Any other failure is returned.
//
// Concurrent calls for the same key and token share one run and its Outcome.
// A caller whose ctx ends gets AbortCancelled without stopping the shared run.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Outcome, error) {
	key, err := r.CacheKey(req)
	if err != nil {
		return Outcome{}, err
	}

	cached, err := r.store.Get(ctx, key)
	if err == nil {
		var results []json.RawMessage
		if err := json.Unmarshal(cached, &results); err != nil {
			return Outcome{}, fmt.Errorf("decode cached results for %s: %w", key, err)
		}
		retrievalsTotal.WithLabelValues("cached").Inc()
		r.logger.Debug().Str("key", key).Int("results", len(results)).Msg("Retrieval served from cache")
		return Outcome{Results: results, TotalResults: len(results), FromCache: true}, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		return Outcome{}, fmt.Errorf("read %s from cache: %w", key, err)
	}

	if err := ctx.Err(); err != nil {
		return r.failed(key, err)
	}

	// The shared run is detached from the caller's ctx. A caller whose ctx
	// ends only stops waiting.
	runCtx := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan(flightKey(key, req.Token), func() (interface{}, error) {
		return r.run(runCtx, key, req)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug().Str("key", key).Msg("Retrieval shared with concurrent caller")
		}
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return r.failed(key, ctx.Err())
	}
}

// flightKey scopes run sharing to one bearer token. The cache itself is
// keyed by URL only.
func flightKey(key, token string) string {
	if token == "" {
		return key
	}
	return key + "\x00" + token
}

func (r *Retriever) run(ctx context.Context, key string, req Request) (outcome Outcome, err error) {
	start := time.Now()

	r.progress.SetLabel(req.Label)
	r.progress.SetNumPages(0)
	r.progress.SetPage(0)
	r.progress.Show()
	defer func() {
		r.progress.Hide()
		r.fetcher.Cancel(false)
	}()

	pageURL, err := url.Parse(key)
	if err != nil {
		return Outcome{}, fmt.Errorf("parse query %q: %w", key, err)
	}

	first, err := r.fetchPage(ctx, pageURL, 1, req.Token)
	if err != nil {
		return r.failed(key, err)
	}

	outcome = Outcome{
		TotalResults: first.TotalResults,
		NumPages:     first.NumPages(),
	}

	if first.TotalResults > r.config.MaxResults {
		r.alert(ctx, fmt.Sprintf("Query matches %d results, more than the limit of %d. Narrow the query and try again.",
			first.TotalResults, r.config.MaxResults))
		outcome.Aborted = AbortResultLimit
		retrievalsTotal.WithLabelValues("result_limit").Inc()
		r.logger.Warn().Str("key", key).Int("total_results", first.TotalResults).Int("max_results", r.config.MaxResults).
			Msg("Retrieval aborted: result limit exceeded")
		return outcome, nil
	}

	if outcome.NumPages > r.config.MaxPages {
		r.alert(ctx, fmt.Sprintf("Query spans %d pages, more than the limit of %d. Narrow the query and try again.",
			outcome.NumPages, r.config.MaxPages))
		outcome.Aborted = AbortPageLimit
		retrievalsTotal.WithLabelValues("page_limit").Inc()
		r.logger.Warn().Str("key", key).Int("num_pages", outcome.NumPages).Int("max_pages", r.config.MaxPages).
			Msg("Retrieval aborted: page limit exceeded")
		return outcome, nil
	}

	r.progress.SetNumPages(outcome.NumPages)

	results := make([]json.RawMessage, 0, first.TotalResults)
	results = append(results, first.Results...)

	for page := 2; page <= outcome.NumPages; page++ {
		r.progress.SetPage(page)

		env, err := r.fetchPage(ctx, pageURL, page, req.Token)
		if err != nil {
			return r.failed(key, err)
		}
		results = append(results, env.Results...)
	}

	outcome.Results = results

	if value, err := json.Marshal(results); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to encode results for cache")
	} else if err := r.store.Put(ctx, key, value); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("Failed to cache results")
	}

	retrievalsTotal.WithLabelValues("completed").Inc()
	r.logger.Info().
		Str("key", key).
		Int("results", len(results)).
		Int("pages", outcome.NumPages).
		Dur("duration", time.Since(start)).
		Msg("Retrieval complete")

	return outcome, nil
}

// fetchPage fetches and validates one page of the query.
func (r *Retriever) fetchPage(ctx context.Context, base *url.URL, page int, token string) (*inat.Envelope, error) {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	body, err := r.fetcher.FetchJSON(ctx, u.String(), token)
	if err != nil {
		return nil, err
	}
	pagesFetchedTotal.Inc()

	env, err := inat.DecodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	return env, nil
}

// failed turns a page error into an outcome. Cancellation is not an error.
func (r *Retriever) failed(key string, err error) (Outcome, error) {
	if errors.Is(err, ratelimit.ErrCancelled) || errors.Is(err, context.Canceled) {
		retrievalsTotal.WithLabelValues("cancelled").Inc()
		r.logger.Info().Str("key", key).Msg("Retrieval cancelled")
		return Outcome{Aborted: AbortCancelled}, nil
	}

	retrievalsTotal.WithLabelValues("error").Inc()
	return Outcome{}, fmt.Errorf("retrieve %s: %w", key, err)
}

func (r *Retriever) alert(ctx context.Context, msg string) {
	if err := r.progress.Alert(ctx, msg); err != nil {
		r.logger.Warn().Err(err).Msg("Progress alert not acknowledged")
	}
}

// DecodeResults decodes raw results into typed values.
func DecodeResults[T any](raw []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode result %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
