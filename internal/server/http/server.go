// Package http exposes the operator surface over REST: dealership listing,
// scraping sessions, queue processing, inventory search, VIN history and the
// CSV import/export endpoints.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/printlot-io/printlot/internal/core"
	"github.com/printlot-io/printlot/internal/core/model"
	"github.com/printlot-io/printlot/internal/ingest"
	"github.com/printlot-io/printlot/internal/pkg/metrics"
	"github.com/printlot-io/printlot/internal/queue"
	"github.com/printlot-io/printlot/internal/scraper"
	"github.com/printlot-io/printlot/pkg/log"
	"github.com/printlot-io/printlot/pkg/options"
)

// AdapterFactory builds the scraping adapter for one dealership. The UI
// layer decides which concrete adapter backs each lot.
type AdapterFactory func(cfg model.DealershipConfig) scraper.Adapter

// Server wires the operator REST surface over the core services.
type Server struct {
	opts         *options.HttpOptions
	store        core.Store
	ingest       *ingest.Service
	queue        *queue.Processor
	orchestrator *scraper.Orchestrator
	adapters     AdapterFactory
	hub          *SessionHub
	logger       log.Logger

	httpServer *http.Server
}

// New assembles the server. hub must be the same SessionHub the
// orchestrator publishes to.
func New(
	opts *options.HttpOptions,
	store core.Store,
	ingestSvc *ingest.Service,
	processor *queue.Processor,
	orchestrator *scraper.Orchestrator,
	adapters AdapterFactory,
	hub *SessionHub,
	logger log.Logger,
) *Server {
	if logger == nil {
		logger = log.Std()
	}
	s := &Server{
		opts:         opts,
		store:        store,
		ingest:       ingestSvc,
		queue:        processor,
		orchestrator: orchestrator,
		adapters:     adapters,
		hub:          hub,
		logger:       logger.WithName("http"),
	}
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Router builds the route table. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/dealerships", s.handleListDealerships).Methods(http.MethodGet)
	api.HandleFunc("/dealerships/{name}", s.handleUpsertDealership).Methods(http.MethodPut)

	api.HandleFunc("/scrape", s.handleStartScraping).Methods(http.MethodPost)
	api.HandleFunc("/scrape/sessions/{id}/events", s.handleSessionEvents).Methods(http.MethodGet)

	api.HandleFunc("/queue/process", s.handleProcessQueue).Methods(http.MethodPost)
	api.HandleFunc("/orders/runs", s.handleListOrderRuns).Methods(http.MethodGet)

	api.HandleFunc("/vehicles", s.handleSearchVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{vin}/history", s.handleVehicleHistory).Methods(http.MethodGet)

	api.HandleFunc("/dealerships/{name}/vin-history", s.handleVINHistory).Methods(http.MethodGet)
	api.HandleFunc("/dealerships/{name}/vin-log/import", s.handleImportVINLog).Methods(http.MethodPost)
	api.HandleFunc("/dealerships/{name}/vin-log/export", s.handleExportVINLog).Methods(http.MethodGet)

	api.HandleFunc("/imports/csv", s.handleImportCSV).Methods(http.MethodPost)
	api.HandleFunc("/imports/{id}/status", s.handleToggleImportStatus).Methods(http.MethodPost)
	api.HandleFunc("/imports/{id}/export", s.handleExportImport).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
