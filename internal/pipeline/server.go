package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

// JobLister lists the jobs recorded for a run.
type JobLister interface {
	ListJobs(ctx context.Context, runID string, limit int) ([]models.Job, error)
}

// NewRouter serves Prometheus metrics, a health check and, when jobs is
// set, the jobs of a run.
func NewRouter(jobs JobLister, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(observability.AccessLog(logger))
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	r.HandleFunc("/runs/{id}/jobs", func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			http.Error(w, "registry disabled", http.StatusServiceUnavailable)
			return
		}
		runID := mux.Vars(r)["id"]
		list, err := jobs.ListJobs(r.Context(), runID, 100)
		if err != nil {
			observability.LoggerFromContext(r.Context(), logger).Error("list jobs", zap.String("run_id", runID), zap.Error(err))
			http.Error(w, "failed to list jobs", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []models.Job{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(list); err != nil {
			logger.Warn("encode jobs", zap.Error(err))
		}
	}).Methods("GET")
	return r
}

// StartServer serves handler on addr until ctx is done.
func StartServer(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) <-chan error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler, "metrics"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server running", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()
	return errCh
}
