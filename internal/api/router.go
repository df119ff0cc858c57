package api

import (
	"github.com/gorilla/mux"

	"github.com/opencollections/lod-gateway/internal/activity"
	"github.com/opencollections/lod-gateway/internal/api/recovery"
	"github.com/opencollections/lod-gateway/internal/ingest"
	"github.com/opencollections/lod-gateway/internal/memento"
	"github.com/opencollections/lod-gateway/internal/store"
)

// Deps carries the wired services the router exposes.
type Deps struct {
	Orchestrator *ingest.Orchestrator
	Feed         *activity.Service
	TimeMaps     *memento.Service
	Store        store.Store
	Healthy      func() bool
}

// NewRouter wires all gateway routes. Entity ids are path-like, so the
// routes addressing one entity use a greedy path variable and must be
// registered after the fixed-shape feed routes.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	ingestHandler := NewIngestHandler(d.Orchestrator)
	activityHandler := NewActivityHandler(d.Feed)
	timemapHandler := NewTimeMapHandler(d.TimeMaps)
	recordHandler := NewRecordHandler(d.Store)
	healthHandler := NewHealthHandler(d.Healthy)

	router.HandleFunc("/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/ingest", ingestHandler.Ingest).Methods("POST")
	router.HandleFunc("/reconcile", ingestHandler.Reconcile).Methods("POST")

	router.HandleFunc("/activity-stream", activityHandler.Collection).Methods("GET")
	router.HandleFunc("/activity-stream/page/{page:[0-9]+}", activityHandler.Page).Methods("GET")
	router.HandleFunc("/activity-stream/{alias:first|last|current}", activityHandler.Alias).Methods("GET")
	router.HandleFunc("/activity-stream/type/{type}/page/{page:[0-9]+}", activityHandler.Page).Methods("GET")
	router.HandleFunc("/activity-stream/type/{type}/{alias:first|last|current}", activityHandler.Alias).Methods("GET")
	router.HandleFunc("/activity-stream/type/{type}", activityHandler.Collection).Methods("GET")
	router.HandleFunc("/activity-stream/truncate/{entity:.+}", activityHandler.Truncate).Methods("POST")
	router.HandleFunc("/activity-stream/entity/{entity:.+}", activityHandler.EntityFeed).Methods("GET")
	router.HandleFunc("/activity-stream/{uuid:[0-9a-fA-F-]{36}}", activityHandler.Lookup).Methods("GET")

	router.HandleFunc("/timemap/{entity:.+}", timemapHandler.TimeMap).Methods("GET")
	router.HandleFunc("/data/{entity:.+}", recordHandler.GetRecord).Methods("GET")

	return router
}
