// Package server is the worker's control surface: health, the last sync
// report and on demand syncs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	syncv1 "github.com/lavoncyk/rss-reader/api/sync/v1"
	rerrs "github.com/lavoncyk/rss-reader/internal/errors"
	"github.com/lavoncyk/rss-reader/internal/reader"
	"github.com/lavoncyk/rss-reader/internal/worker"
)

type (
	// Store is what the server reads feeds from.
	Store interface {
		Feed(ctx context.Context, id string) (reader.Feed, error)
		Ping(ctx context.Context) error
	}

	// Syncer runs sync cycles. [worker.Worker] is the implementation.
	Syncer interface {
		Trigger(ctx context.Context, ids []string) error
		LastReport() (worker.CycleReport, bool)
	}

	// Server is the HTTP portion exposing the worker's state.
	Server struct {
		*http.Server

		store  Store
		syncer Syncer
	}

	// Config holds all of the different options for making a
	// server.
	Config struct {
		Port int
	}
)

func New(config Config, store Store, syncer Syncer) *Server {
	r := mux.NewRouter()

	srvr := Server{
		store:  store,
		syncer: syncer,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			Handler: handlers.RecoveryHandler(
				handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
			)(r),
		},
	}

	r.Use(logRequests)
	r.Handle("/healthz", handlerFunc(srvr.getHealth)).Methods(http.MethodGet)
	r.Handle("/v1/sync", handlerFunc(srvr.getSync)).Methods(http.MethodGet)
	r.Handle("/v1/sync", handlerFunc(srvr.postSync)).Methods(http.MethodPost)
	r.Handle("/v1/feeds/{feedID}", handlerFunc(srvr.getFeed)).Methods(http.MethodGet)

	slog.Debug("configured control server", "port", config.Port)

	return &srvr
}

func (s Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return rerrs.E(err, http.StatusServiceUnavailable)
	}

	return writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (s Server) getSync(w http.ResponseWriter, r *http.Request) error {
	report, ok := s.syncer.LastReport()
	if !ok {
		return rerrs.E("no sync cycle has finished yet", http.StatusNotFound)
	}

	return writeJSON(w, http.StatusOK, syncv1.CycleReport{
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Feeds:        report.Feeds,
		Synced:       report.Synced,
		NotModified:  report.NotModified,
		Failed:       report.Failed,
		CommitFailed: report.CommitFailed,
		NewPosts:     report.NewPosts,
	})
}

func (s Server) postSync(w http.ResponseWriter, r *http.Request) error {
	body, err := decodeBody[syncv1.TriggerRequest](r.Body)
	if err != nil {
		return err
	}

	err = s.syncer.Trigger(r.Context(), body.FeedIDs)
	switch {
	case errors.Is(err, worker.ErrCycleRunning):
		return rerrs.E(err, http.StatusConflict)
	case errors.Is(err, worker.ErrStopped):
		return rerrs.E(err, http.StatusServiceUnavailable)
	case err != nil:
		return err
	}

	return writeJSON(w, http.StatusAccepted, syncv1.TriggerResponse{Status: "started"})
}

func (s Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	feedID := mux.Vars(r)["feedID"]

	feed, err := s.store.Feed(r.Context(), feedID)
	if errors.Is(err, reader.ErrNotFound) {
		return rerrs.E(err)
	}
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, syncv1.FeedState{
		ID:              feed.ID,
		Name:            feed.Name,
		SourceURL:       feed.SourceURL,
		ETag:            feed.ETag,
		LastModified:    feed.LastModified,
		LastSyncedAt:    feed.LastSyncedAt,
		RecentPostCount: feed.RecentPostCount,
		FreshnessWindow: reader.FreshnessWindow(feed.RecentPostCount).String(),
	})
}

// Handler that reports failures as a JSON [rerrs.Error].
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f handlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	sErr := &rerrs.Error{}
	if !errors.As(err, &sErr) {
		slog.ErrorContext(r.Context(), "unhandled error", "error", err)
		sErr = rerrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := writeJSON(w, sErr.Status, sErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

type validator interface {
	Validate() error
}

// An empty body decodes to the zero value, which is still validated.
func decodeBody[V validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return v, rerrs.E(fmt.Errorf("error decoding request: %w", err), http.StatusBadRequest)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("error validating request: %w", err)
	}

	return v, nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		slog.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"status", rec.status,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
