package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/inat-client/internal/testutil"
	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/client"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/ratelimit"
	"github.com/rs/zerolog"
)

const speciesCountsPath = "/observations/species_counts"

// recordingProgress records every progress call.
type recordingProgress struct {
	mu     sync.Mutex
	calls  []string
	alerts []string
	onPage func(page int)
}

func (p *recordingProgress) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recordingProgress) SetLabel(label string) { p.record("label:" + label) }
func (p *recordingProgress) SetNumPages(n int)     { p.record(fmt.Sprintf("pages:%d", n)) }
func (p *recordingProgress) Show()                 { p.record("show") }
func (p *recordingProgress) Hide()                 { p.record("hide") }

func (p *recordingProgress) SetPage(page int) {
	p.record(fmt.Sprintf("page:%d", page))
	if p.onPage != nil {
		p.onPage(page)
	}
}

func (p *recordingProgress) Alert(_ context.Context, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, msg)
	return nil
}

func (p *recordingProgress) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *recordingProgress) Alerts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.alerts...)
}

// failingPutStore wraps a store and fails every Put.
type failingPutStore struct {
	cache.Store
}

func (s failingPutStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	return &cache.StorageError{Backend: "test", Op: "put", Key: key, Err: errors.New("disk full")}
}

func setupStore(t *testing.T) *cache.BadgerStore {
	t.Helper()

	store, err := cache.OpenBadger("", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func setupClient(t *testing.T, mock *testutil.MockINat, store cache.Store) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(store, "inat-client-test/1.0.0")
	cfg.BaseURL = mock.URL()
	cfg.Interval = time.Millisecond
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func speciesQuery(t *testing.T, mock *testutil.MockINat, params url.Values) *url.URL {
	t.Helper()

	q, err := inat.NewQuery(mock.URL(), inat.EndpointSpeciesCounts, params)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	return q
}

func TestRetrieve_MultiPage(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 7, PerPage: 3})

	store := setupStore(t)
	progress := &recordingProgress{}
	r := NewRetriever(setupClient(t, mock, store), store, progress, DefaultConfig())

	outcome, err := r.Retrieve(context.Background(), Request{
		URL:   speciesQuery(t, mock, url.Values{"place_id": {"14"}}),
		Label: "Species in California",
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !outcome.Completed() || outcome.FromCache {
		t.Fatalf("outcome = %+v, want completed network retrieval", outcome)
	}
	if outcome.NumPages != 3 || outcome.TotalResults != 7 {
		t.Errorf("NumPages = %d, TotalResults = %d, want 3 and 7", outcome.NumPages, outcome.TotalResults)
	}

	type item struct {
		ID int `json:"id"`
	}
	items, err := DecodeResults[item](outcome.Results)
	if err != nil {
		t.Fatalf("DecodeResults() error = %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("got %d results, want 7", len(items))
	}
	for i, it := range items {
		if it.ID != i+1 {
			t.Errorf("result %d has id %d, want %d (pages out of order?)", i, it.ID, i+1)
		}
	}

	wantCalls := []string{"label:Species in California", "pages:0", "page:0", "show", "pages:3", "page:2", "page:3", "hide"}
	if got := progress.Calls(); strings.Join(got, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("progress calls = %v, want %v", got, wantCalls)
	}

	for page := 1; page <= 3; page++ {
		if n := mock.GetPageRequests(speciesCountsPath, page); n != 1 {
			t.Errorf("page %d fetched %d times, want 1", page, n)
		}
	}
}

func TestRetrieve_SecondCallServedFromCache(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 4, PerPage: 2})

	store := setupStore(t)
	progress := &recordingProgress{}
	r := NewRetriever(setupClient(t, mock, store), store, progress, DefaultConfig())
	req := Request{URL: speciesQuery(t, mock, url.Values{"taxon_id": {"3"}}), Label: "Birds"}

	first, err := r.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("first Retrieve() error = %v", err)
	}
	callsAfterFirst := len(progress.Calls())

	req.Label = "A different label"
	second, err := r.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("second Retrieve() error = %v", err)
	}

	if !second.FromCache {
		t.Error("second Retrieve() should be served from cache")
	}
	if n := mock.GetPageRequests(speciesCountsPath, 1); n != 1 {
		t.Errorf("page 1 fetched %d times, want 1", n)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("upstream requests = %d, want 2", mock.GetRequestCount())
	}
	if len(progress.Calls()) != callsAfterFirst {
		t.Error("a cache hit must not report progress")
	}
	if len(second.Results) != len(first.Results) {
		t.Errorf("cached results = %d, want %d", len(second.Results), len(first.Results))
	}
	for i := range first.Results {
		if string(first.Results[i]) != string(second.Results[i]) {
			t.Errorf("cached result %d = %s, want %s", i, second.Results[i], first.Results[i])
		}
	}
}

func TestRetrieve_ResultLimitExceeded(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 10001, PerPage: 500})

	store := setupStore(t)
	progress := &recordingProgress{}
	r := NewRetriever(setupClient(t, mock, store), store, progress, DefaultConfig())
	req := Request{URL: speciesQuery(t, mock, url.Values{"per_page": {"500"}})}

	outcome, err := r.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if outcome.Aborted != AbortResultLimit {
		t.Errorf("Aborted = %q, want %q", outcome.Aborted, AbortResultLimit)
	}
	if outcome.Results != nil {
		t.Error("aborted outcome must not carry results")
	}

	alerts := progress.Alerts()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "10001") || !strings.Contains(alerts[0], "10000") {
		t.Errorf("alerts = %v, want one naming 10001 and 10000", alerts)
	}

	key, _ := r.CacheKey(req)
	if _, err := store.Get(context.Background(), key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("cache populated for aborted retrieval: %v", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("upstream requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestRetrieve_PageLimitExceeded(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 9999, PerPage: 30})

	store := setupStore(t)
	progress := &recordingProgress{}
	r := NewRetriever(setupClient(t, mock, store), store, progress, DefaultConfig())
	req := Request{URL: speciesQuery(t, mock, nil)}

	outcome, err := r.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if outcome.Aborted != AbortPageLimit {
		t.Errorf("Aborted = %q, want %q", outcome.Aborted, AbortPageLimit)
	}
	if outcome.NumPages != 334 {
		t.Errorf("NumPages = %d, want 334", outcome.NumPages)
	}

	alerts := progress.Alerts()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "334") || !strings.Contains(alerts[0], "50") {
		t.Errorf("alerts = %v, want one naming 334 and 50", alerts)
	}

	key, _ := r.CacheKey(req)
	if _, err := store.Get(context.Background(), key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("cache populated for aborted retrieval: %v", err)
	}
}

func TestRetrieve_FiftyOnePagesExceedsLimit(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 25500, PerPage: 500})

	store := setupStore(t)
	r := NewRetriever(setupClient(t, mock, store), store, nil, Config{MaxResults: 30000, MaxPages: 50})

	outcome, err := r.Retrieve(context.Background(), Request{URL: speciesQuery(t, mock, url.Values{"per_page": {"500"}})})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if outcome.Aborted != AbortPageLimit || outcome.NumPages != 51 {
		t.Errorf("outcome = %+v, want page limit with 51 pages", outcome)
	}
}

func TestRetrieve_CancelledMidRetrieval(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 9, PerPage: 3})

	store := setupStore(t)
	c := setupClient(t, mock, store)
	progress := &recordingProgress{}
	progress.onPage = func(page int) {
		if page == 2 {
			c.Cancel(true)
		}
	}
	r := NewRetriever(c, store, progress, DefaultConfig())
	req := Request{URL: speciesQuery(t, mock, nil)}

	outcome, err := r.Retrieve(context.Background(), req)
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil for cancellation", err)
	}
	if outcome.Aborted != AbortCancelled {
		t.Errorf("Aborted = %q, want %q", outcome.Aborted, AbortCancelled)
	}
	if mock.GetPageRequests(speciesCountsPath, 2) != 0 {
		t.Error("page 2 should not be fetched after cancellation")
	}

	key, _ := r.CacheKey(req)
	if _, err := store.Get(context.Background(), key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("cache populated for cancelled retrieval: %v", err)
	}

	calls := progress.Calls()
	if calls[len(calls)-1] != "hide" {
		t.Errorf("last progress call = %q, want hide", calls[len(calls)-1])
	}

	// The next retrieval runs normally.
	progress.onPage = nil
	outcome, err = r.Retrieve(context.Background(), req)
	if err != nil || !outcome.Completed() || len(outcome.Results) != 9 {
		t.Errorf("retry after cancel = %+v, %v", outcome, err)
	}
}

func TestRetrieve_PendingCancelClearedAfterRun(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()

	store := setupStore(t)
	c := setupClient(t, mock, store)
	r := NewRetriever(c, store, nil, DefaultConfig())

	// A cancel requested while the (single) page is on the wire is never
	// observed by a fetch; the retriever clears it when it finishes.
	mock.SetHandler(speciesCountsPath, func(w http.ResponseWriter, req *http.Request) {
		c.Cancel(true)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_results": 1, "page": 1, "per_page": 30, "results": [{"id": 1}]}`))
	})

	outcome, err := r.Retrieve(context.Background(), Request{URL: speciesQuery(t, mock, nil)})
	if err != nil || !outcome.Completed() {
		t.Fatalf("Retrieve() = %+v, %v", outcome, err)
	}
	if err := c.CheckCancelled(); err != nil {
		t.Errorf("pending cancel not cleared: %v", err)
	}
}

func TestRetrieve_CacheWriteFailureStillReturnsResults(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetCollection(speciesCountsPath, testutil.PagedCollection{TotalResults: 5, PerPage: 5})

	store := failingPutStore{Store: setupStore(t)}
	r := NewRetriever(setupClient(t, mock, store), store, nil, DefaultConfig())

	outcome, err := r.Retrieve(context.Background(), Request{URL: speciesQuery(t, mock, nil)})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if !outcome.Completed() || len(outcome.Results) != 5 {
		t.Errorf("outcome = %+v, want 5 results", outcome)
	}
}

func TestRetrieve_TransportFailurePropagates(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetResponse(speciesCountsPath, testutil.MockResponse{StatusCode: http.StatusBadGateway, Body: "bad gateway"})

	store := setupStore(t)
	progress := &recordingProgress{}
	r := NewRetriever(setupClient(t, mock, store), store, progress, DefaultConfig())

	_, err := r.Retrieve(context.Background(), Request{URL: speciesQuery(t, mock, nil)})
	if !errors.Is(err, client.ErrTransport) {
		t.Fatalf("Retrieve() error = %v, want ErrTransport", err)
	}
	if calls := progress.Calls(); calls[len(calls)-1] != "hide" {
		t.Error("progress must be hidden after a failure")
	}
}

func TestRetrieve_InvalidEnvelope(t *testing.T) {
	mock := testutil.NewMockINat()
	defer mock.Close()
	mock.SetResponse(speciesCountsPath, testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"total_results": 3}`})

	store := setupStore(t)
	r := NewRetriever(setupClient(t, mock, store), store, nil, DefaultConfig())

	_, err := r.Retrieve(context.Background(), Request{URL: speciesQuery(t, mock, nil)})
	if !errors.Is(err, inat.ErrInvalidEnvelope) {
		t.Errorf("Retrieve() error = %v, want ErrInvalidEnvelope", err)
	}
}

// blockingFetcher serves one-page collections and blocks until released.
type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	tokens  []string
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) FetchJSON(ctx context.Context, rawURL, token string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	f.entered <- struct{}{}
	<-f.release
	return json.RawMessage(`{"total_results": 1, "page": 1, "per_page": 30, "results": [{"id": 42}]}`), nil
}

func (f *blockingFetcher) Cancel(bool) {}

func TestRetrieve_ConcurrentCallsShareOneRun(t *testing.T) {
	fetcher := &blockingFetcher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	store := setupStore(t)
	r := NewRetriever(fetcher, store, nil, DefaultConfig())

	q, _ := url.Parse("https://api.inaturalist.org/v1/observations?taxon_id=3")
	req := Request{URL: q}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := r.Retrieve(context.Background(), req)
			if err != nil {
				t.Errorf("Retrieve() error = %v", err)
			}
			outcomes[i] = o
		}(i)
		if i == 0 {
			<-fetcher.entered
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}
	for i, o := range outcomes {
		if len(o.Results) != 1 {
			t.Errorf("outcome %d has %d results, want 1", i, len(o.Results))
		}
	}
}

func TestRetrieve_CallerCancelDoesNotAbortSharedRun(t *testing.T) {
	fetcher := &blockingFetcher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	store := setupStore(t)
	r := NewRetriever(contextFetcher{fetcher}, store, nil, DefaultConfig())

	q, _ := url.Parse("https://api.inaturalist.org/v1/observations?taxon_id=3")
	req := Request{URL: q}

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		outcome Outcome
		err     error
	}
	first := make(chan result, 1)
	go func() {
		o, err := r.Retrieve(ctx, req)
		first <- result{o, err}
	}()
	<-fetcher.entered

	second := make(chan result, 1)
	go func() {
		o, err := r.Retrieve(context.Background(), req)
		second <- result{o, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	got := <-first
	if got.err != nil || got.outcome.Aborted != AbortCancelled {
		t.Errorf("cancelled caller = (%q, %v), want (%q, nil)", got.outcome.Aborted, got.err, AbortCancelled)
	}

	close(fetcher.release)
	got = <-second
	if got.err != nil {
		t.Fatalf("waiting caller error = %v", got.err)
	}
	if !got.outcome.Completed() || len(got.outcome.Results) != 1 {
		t.Errorf("waiting caller outcome = %+v, want 1 completed result", got.outcome)
	}

	key, _ := r.CacheKey(req)
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Errorf("shared run not cached: %v", err)
	}
}

func TestRetrieve_DifferentTokensDoNotShareRun(t *testing.T) {
	fetcher := &blockingFetcher{entered: make(chan struct{}, 2), release: make(chan struct{})}
	r := NewRetriever(fetcher, setupStore(t), nil, DefaultConfig())

	q, _ := url.Parse("https://api.inaturalist.org/v1/observations?user_id=1")

	var wg sync.WaitGroup
	for _, token := range []string{"", "secret"} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			if _, err := r.Retrieve(context.Background(), Request{URL: q, Token: token}); err != nil {
				t.Errorf("Retrieve() error = %v", err)
			}
		}(token)
	}

	<-fetcher.entered
	<-fetcher.entered
	close(fetcher.release)
	wg.Wait()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	if fetcher.calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", fetcher.calls)
	}
}

// cancellingFetcher returns page 1, then reports cancellation.
type cancellingFetcher struct {
	cancelCalls []bool
}

func (f *cancellingFetcher) FetchJSON(ctx context.Context, rawURL, token string) (json.RawMessage, error) {
	u, _ := url.Parse(rawURL)
	if u.Query().Get("page") == "1" {
		return json.RawMessage(`{"total_results": 60, "page": 1, "per_page": 30, "results": []}`), nil
	}
	return nil, fmt.Errorf("fetch: %w", ratelimit.ErrCancelled)
}

func (f *cancellingFetcher) Cancel(flag bool) {
	f.cancelCalls = append(f.cancelCalls, flag)
}

func TestRetrieve_ClearsCancelFlagOnExit(t *testing.T) {
	fetcher := &cancellingFetcher{}
	r := NewRetriever(fetcher, setupStore(t), nil, DefaultConfig())

	q, _ := url.Parse("https://api.inaturalist.org/v1/observations")
	outcome, err := r.Retrieve(context.Background(), Request{URL: q})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if outcome.Aborted != AbortCancelled {
		t.Errorf("Aborted = %q, want %q", outcome.Aborted, AbortCancelled)
	}
	if len(fetcher.cancelCalls) != 1 || fetcher.cancelCalls[0] {
		t.Errorf("Cancel calls = %v, want [false]", fetcher.cancelCalls)
	}
}

func TestRetrieve_ContextCancelled(t *testing.T) {
	fetcher := &cancellingFetcher{}
	r := NewRetriever(contextFetcher{fetcher}, setupStore(t), nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q, _ := url.Parse("https://api.inaturalist.org/v1/observations")
	outcome, err := r.Retrieve(ctx, Request{URL: q})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if outcome.Aborted != AbortCancelled {
		t.Errorf("Aborted = %q, want %q", outcome.Aborted, AbortCancelled)
	}
}

// contextFetcher fails with the context error before delegating.
type contextFetcher struct {
	PageFetcher
}

func (f contextFetcher) FetchJSON(ctx context.Context, rawURL, token string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.PageFetcher.FetchJSON(ctx, rawURL, token)
}

func TestCacheKey(t *testing.T) {
	r := NewRetriever(&cancellingFetcher{}, nil, nil, Config{PerPage: 200})

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "page removed",
			raw:  "https://api.inaturalist.org/v1/observations?page=4&taxon_id=3",
			want: "https://api.inaturalist.org/v1/observations?per_page=200&taxon_id=3",
		},
		{
			name: "explicit per_page kept",
			raw:  "https://api.inaturalist.org/v1/observations?per_page=500",
			want: "https://api.inaturalist.org/v1/observations?per_page=500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := url.Parse(tt.raw)
			got, err := r.CacheKey(Request{URL: u, Label: "ignored"})
			if err != nil {
				t.Fatalf("CacheKey() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := r.CacheKey(Request{}); err == nil {
		t.Error("expected error for nil url")
	}
}

func TestDecodeResults_Error(t *testing.T) {
	raw := []json.RawMessage{json.RawMessage(`{"count": 1, "taxon": {"id": 1}}`), json.RawMessage(`"oops"`)}
	if _, err := DecodeResults[inat.TaxonResult](raw); err == nil {
		t.Error("expected decode error")
	}
}
