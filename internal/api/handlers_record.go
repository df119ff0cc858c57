package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/opencollections/lod-gateway/internal/api/respond"
	"github.com/opencollections/lod-gateway/internal/memento"
	"github.com/opencollections/lod-gateway/internal/model"
	"github.com/opencollections/lod-gateway/internal/store"
)

const contentTypeJSONLD = "application/ld+json;charset=UTF-8"

// RecordHandler serves stored documents: live records and, under the
// same path space, archived version snapshots addressed by their own
// entity ids.
type RecordHandler struct {
	store store.Store
}

func NewRecordHandler(st store.Store) *RecordHandler { return &RecordHandler{store: st} }

// GetRecord GET /data/{entity}
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	ctx := r.Context()

	rec, err := h.store.Records().GetLive(ctx, entity)
	if err == nil {
		writeDocument(w, rec.Data, rec.DateTimeUpdated)
		return
	}
	if !errors.Is(err, model.ErrNotFound) {
		respond.WriteInternalError(w, err.Error())
		return
	}

	ver, err := h.store.Versions().GetByEntityID(ctx, entity)
	if err == nil {
		writeDocument(w, ver.Data, ver.DateTimeUpdated)
		return
	}
	if errors.Is(err, model.ErrNotFound) {
		respond.WriteNotFound(w, "no record for entity id")
		return
	}
	respond.WriteInternalError(w, err.Error())
}

func writeDocument(w http.ResponseWriter, data []byte, modified time.Time) {
	w.Header().Set("Content-Type", contentTypeJSONLD)
	w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// TimeMapHandler serves the Memento version listing.
type TimeMapHandler struct {
	timemaps *memento.Service
}

func NewTimeMapHandler(tm *memento.Service) *TimeMapHandler { return &TimeMapHandler{timemaps: tm} }

// TimeMap GET /timemap/{entity}
// Responds in application/link-format when the Accept header asks for
// it, JSON otherwise.
func (h *TimeMapHandler) TimeMap(w http.ResponseWriter, r *http.Request) {
	links, err := h.timemaps.TimeMap(r.Context(), mux.Vars(r)["entity"])
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "no record for entity id")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}

	if wantsLinkFormat(r) {
		w.Header().Set("Content-Type", "application/link-format")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(memento.LinkFormat(links)))
		return
	}
	respond.WriteJSON(w, http.StatusOK, links)
}

func wantsLinkFormat(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		for _, part := range strings.Split(accept, ",") {
			if i := strings.IndexByte(part, ';'); i >= 0 {
				part = part[:i]
			}
			if strings.TrimSpace(part) == "application/link-format" {
				return true
			}
		}
	}
	return false
}
