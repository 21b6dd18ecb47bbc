package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/client"
	"github.com/Sternrassler/inat-client/pkg/inat"
	"github.com/Sternrassler/inat-client/pkg/metrics"
	"github.com/Sternrassler/inat-client/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves cached retrievals and entity lookups over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.progressMode == "auto" || a.progressMode == "bar" {
				a.progressMode = "log"
			}

			srv := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           newServer(a.client, a.newRetriever(), a.store, a.logger).routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().
					Str("addr", a.cfg.Listen).
					Str("base_url", a.cfg.BaseURL).
					Str("cache_backend", a.cfg.Cache.Backend).
					Msg("Starting iNaturalist server")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// server exposes the client over HTTP.
type server struct {
	client    *client.Client
	retriever *pagination.Retriever
	store     cache.Store
	logger    zerolog.Logger
}

func newServer(c *client.Client, r *pagination.Retriever, store cache.Store, logger zerolog.Logger) *server {
	return &server{client: c, retriever: r, store: store, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(s.store))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /v1/retrieve", s.retrieveHandler)
	mux.HandleFunc("POST /v1/cancel", s.cancelHandler)
	mux.HandleFunc("GET /v1/entity/{type}/{id}", s.entityHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the cache backend answers.
func readyHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := store.Get(ctx, "ready-probe"); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			http.Error(w, fmt.Sprintf("cache unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// retrieveResponse is the JSON body of /v1/retrieve.
type retrieveResponse struct {
	Aborted      pagination.AbortReason `json:"aborted,omitempty"`
	TotalResults int                    `json:"total_results"`
	NumPages     int                    `json:"num_pages"`
	FromCache    bool                   `json:"from_cache"`
	Results      []json.RawMessage      `json:"results"`
}

// retrieveHandler runs a paged retrieval for ?url=<query>. The query must
// live under the client's base URL.
func (s *server) retrieveHandler(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	q, err := url.Parse(raw)
	if err != nil || !strings.HasPrefix(q.String(), strings.TrimRight(s.client.BaseURL(), "/")+"/") {
		http.Error(w, fmt.Sprintf("url must be a query below %s", s.client.BaseURL()), http.StatusBadRequest)
		return
	}

	label := r.URL.Query().Get("label")
	if label == "" {
		label = q.Path
	}

	outcome, err := s.retriever.Retrieve(r.Context(), pagination.Request{
		URL:   q,
		Label: label,
		Token: bearerToken(r),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("url", raw).Msg("Retrieval failed")
		http.Error(w, fmt.Sprintf("retrieval failed: %v", err), http.StatusBadGateway)
		return
	}

	status := http.StatusOK
	switch outcome.Aborted {
	case pagination.AbortResultLimit, pagination.AbortPageLimit:
		status = http.StatusUnprocessableEntity
	case pagination.AbortCancelled:
		status = http.StatusConflict
	}

	writeJSON(w, status, retrieveResponse{
		Aborted:      outcome.Aborted,
		TotalResults: outcome.TotalResults,
		NumPages:     outcome.NumPages,
		FromCache:    outcome.FromCache,
		Results:      outcome.Results,
	})
}

// cancelHandler requests a cooperative cancellation of the running retrieval.
func (s *server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	s.client.Cancel(true)
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) entityHandler(w http.ResponseWriter, r *http.Request) {
	entityType, id := r.PathValue("type"), r.PathValue("id")
	if !inat.IsEntityType(entityType) {
		http.Error(w, fmt.Sprintf("unknown entity type %q", entityType), http.StatusBadRequest)
		return
	}

	raw, err := s.client.FetchEntityByID(r.Context(), entityType, id)
	switch {
	case errors.Is(err, client.ErrEntityNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, client.ErrQueryCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("lookup failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func bearerToken(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return v
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
