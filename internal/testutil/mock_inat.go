// Package testutil provides testing utilities for the iNaturalist client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a fixed mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// PagedCollection serves a paginated list endpoint.
type PagedCollection struct {
	// TotalResults reported in every envelope
	TotalResults int

	// PerPage used when the request has no per_page parameter
	PerPage int

	// Item builds the i-th result (0-based). Defaults to {"id": i+1}.
	Item func(i int) any

	// Delay is applied before every page
	Delay time.Duration
}

// MockINat is a configurable mock iNaturalist API server.
type MockINat struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	PageRequests map[string]map[int]int
	RequestTimes []time.Time
	LastAuth     string
}

// NewMockINat creates a new mock iNaturalist server.
func NewMockINat() *MockINat {
	mock := &MockINat{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PageRequests: make(map[string]map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
		}

		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestTimes = append(mock.RequestTimes, time.Now())
		mock.LastAuth = r.Header.Get("Authorization")
		if mock.PageRequests[r.URL.Path] == nil {
			mock.PageRequests[r.URL.Path] = make(map[int]int)
		}
		mock.PageRequests[r.URL.Path][page]++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Not found", "status": 404}`))
	}))

	return mock
}

// URL returns the mock server URL, usable as the client base URL.
func (m *MockINat) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockINat) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockINat) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PageRequests = make(map[string]map[int]int)
	m.RequestTimes = nil
	m.LastAuth = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockINat) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockINat) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves a paginated collection at path.
func (m *MockINat) SetCollection(path string, c PagedCollection) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if c.Delay > 0 {
			time.Sleep(c.Delay)
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}
		perPage, _ := strconv.Atoi(q.Get("per_page"))
		if perPage < 1 {
			perPage = c.PerPage
		}

		results := []any{}
		for i := (page - 1) * perPage; i < page*perPage && i < c.TotalResults; i++ {
			if c.Item != nil {
				results = append(results, c.Item(i))
			} else {
				results = append(results, map[string]int{"id": i + 1})
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"total_results": c.TotalResults,
			"page":          page,
			"per_page":      perPage,
			"results":       results,
		})
	})
}

// SetEntity serves a single-entity lookup at path, e.g. "/taxa/3".
func (m *MockINat) SetEntity(path string, entity any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"total_results": 1,
			"page":          1,
			"per_page":      1,
			"results":       []any{entity},
		})
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockINat) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequests returns how often page of path was requested.
func (m *MockINat) GetPageRequests(path string, page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageRequests[path][page]
}

// GetLastAuth returns the Authorization header of the last request.
func (m *MockINat) GetLastAuth() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastAuth
}

// GetRequestTimes returns the arrival time of every request.
func (m *MockINat) GetRequestTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.RequestTimes...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("marshal mock response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// TimingTransport records when each request reaches the transport, then
// hands it to Next (http.DefaultTransport when nil).
type TimingTransport struct {
	Next http.RoundTripper

	mu    sync.Mutex
	times []time.Time
}

// RoundTrip implements http.RoundTripper.
func (t *TimingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.times = append(t.times, time.Now())
	t.mu.Unlock()

	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// Times returns the recorded start times.
func (t *TimingTransport) Times() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Time(nil), t.times...)
}

// Calls returns how many requests reached the transport.
func (t *TimingTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.times)
}
