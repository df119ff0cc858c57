package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencollections/lod-gateway/internal/api/respond"
	"github.com/opencollections/lod-gateway/internal/graph"
	"github.com/opencollections/lod-gateway/internal/ingest"
	"github.com/opencollections/lod-gateway/internal/model"
)

// IngestHandler is the thin HTTP transport over the ingest orchestrator.
type IngestHandler struct {
	orch *ingest.Orchestrator
}

func NewIngestHandler(orch *ingest.Orchestrator) *IngestHandler { return &IngestHandler{orch: orch} }

// Ingest POST /ingest
// The body is newline-delimited JSON-LD documents. The batch either
// fully succeeds with a map of assigned paths or fully fails.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	results, err := h.orch.IngestBatch(r.Context(), r.Body)
	if err != nil {
		var be *model.BatchError
		switch {
		case errors.As(err, &be):
			respond.WriteBadRequest(w, be.Error())
		case errors.Is(err, model.ErrValidation):
			respond.WriteBadRequest(w, err.Error())
		case graph.IsTransient(err):
			respond.WriteServiceUnavailable(w, err.Error())
		case graph.IsFatal(err):
			respond.WriteBadGateway(w, err.Error())
		default:
			respond.WriteInternalError(w, err.Error())
		}
		return
	}
	respond.WriteJSON(w, http.StatusOK, results)
}

// Reconcile POST /reconcile
// Re-derives graph state for the submitted entity ids from the record
// store. Outcomes are reported per id and never fail the whole call.
func (h *IngestHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.orch.GraphSyncEnabled() {
		respond.WriteServiceUnavailable(w, "graph synchronization is not configured")
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if len(req.IDs) == 0 {
		respond.WriteBadRequest(w, "no entity ids supplied")
		return
	}
	outcomes := h.orch.Reconcile(r.Context(), req.IDs)
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": outcomes})
}
