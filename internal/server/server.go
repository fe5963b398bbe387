// Package server assembles the HTTP API from the configured backend.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/rumor-ml/commons.systems/spendtrack/internal/activities"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/blob"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/config"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/feed"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/handlers"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/ingest"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/insights"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/mappings"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/middleware"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/parse"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/query"
	"github.com/rumor-ml/commons.systems/spendtrack/internal/store"
)

// notifyingStore is satisfied by backends that emit a local change feed.
type notifyingStore interface {
	store.Store
	SetNotifier(store.Notifier)
}

// Server owns the backend clients and the route table.
type Server struct {
	store  store.Store
	hub    *feed.Hub
	mux    *http.ServeMux
	closer func() error
}

// New creates a server instance from the config.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{mux: http.NewServeMux()}

	var verifier middleware.TokenVerifier
	switch cfg.Backend {
	case config.BackendFirestore:
		fs, err := store.NewFirestore(ctx, cfg.ProjectID, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore backend: %w", err)
		}
		s.store = fs
		s.closer = fs.Close
		verifier = fs.Auth()
	case config.BackendSQLite:
		db, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		s.store = db
		s.closer = db.Close
	case config.BackendMemory:
		s.store = store.NewMemory()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	var blobs blob.Store
	if cfg.Bucket != "" {
		gcs, err := blob.NewGCS(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create upload bucket client: %w", err)
		}
		blobs = gcs
	} else {
		blobs = blob.NewMemory()
	}

	// Local backends feed the aggregator through an in-process hub. The
	// firestore backend has no local feed; its aggregates are maintained
	// by the cloud trigger and the reconcile job.
	if ns, ok := s.store.(notifyingStore); ok {
		s.hub = feed.NewHub(insights.NewAggregator(s.store))
		s.hub.Start()
		ns.SetNotifier(s.hub)
	} else {
		log.Printf("backend %s emits no local change feed, skipping aggregator hub", cfg.Backend)
	}

	s.setupRoutes(cfg, blobs, verifier)
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg *config.Config, blobs blob.Store, verifier middleware.TokenVerifier) {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	api := handlers.NewAPIHandler(
		ingest.NewService(s.store, blobs, parse.NewRegistry()),
		query.NewService(s.store),
		activities.NewService(s.store),
		mappings.NewService(s.store),
		insights.NewReader(s.store),
	)
	auth := middleware.NewAuthMiddleware(verifier, cfg.SkipAuth)

	s.mux.Handle("/activities", auth.RequireAuth(http.HandlerFunc(api.Activities)))
	s.mux.Handle("/mappings", auth.RequireAuth(http.HandlerFunc(api.Mappings)))
	s.mux.Handle("/insights", auth.RequireAuth(http.HandlerFunc(api.Insights)))
	s.mux.Handle("/deleted", auth.RequireAuth(http.HandlerFunc(api.Deleted)))
	s.mux.Handle("/filecheck", auth.RequireAuth(http.HandlerFunc(api.FileChecks)))
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}

// Close drains the change-feed hub and closes the backend.
func (s *Server) Close() error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
