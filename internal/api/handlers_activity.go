package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/opencollections/lod-gateway/internal/activity"
	"github.com/opencollections/lod-gateway/internal/api/respond"
	"github.com/opencollections/lod-gateway/internal/model"
)

// ActivityHandler serves the ActivityStreams change feed.
type ActivityHandler struct {
	feed *activity.Service
}

func NewActivityHandler(feed *activity.Service) *ActivityHandler {
	return &ActivityHandler{feed: feed}
}

func feedFilter(r *http.Request) model.ActivityFilter {
	return model.ActivityFilter{EntityType: mux.Vars(r)["type"]}
}

// Collection GET /activity-stream and /activity-stream/type/{type}
func (h *ActivityHandler) Collection(w http.ResponseWriter, r *http.Request) {
	col, err := h.feed.Collection(r.Context(), feedFilter(r))
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, col)
}

// Page GET .../page/{page}
func (h *ActivityHandler) Page(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil {
		respond.WriteBadRequest(w, "page number must be an integer")
		return
	}
	h.writePage(w, r, feedFilter(r), n)
}

// Alias GET .../{first|last|current}
func (h *ActivityHandler) Alias(w http.ResponseWriter, r *http.Request) {
	f := feedFilter(r)
	n, err := h.feed.ResolveAlias(r.Context(), f, mux.Vars(r)["alias"])
	if err != nil {
		h.writeFeedError(w, err)
		return
	}
	h.writePage(w, r, f, n)
}

// Lookup GET /activity-stream/{uuid}
func (h *ActivityHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	item, err := h.feed.Activity(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.writeFeedError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, item)
}

// EntityFeed GET /activity-stream/entity/{entity}
// Entity ids are path-like, so the trailing page selector is parsed out
// of the greedy path variable by hand.
func (h *ActivityHandler) EntityFeed(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]

	if i := strings.LastIndex(entity, "/page/"); i >= 0 {
		if n, err := strconv.Atoi(entity[i+len("/page/"):]); err == nil {
			h.writePage(w, r, model.ActivityFilter{EntityID: entity[:i]}, n)
			return
		}
	}
	if i := strings.LastIndex(entity, "/"); i >= 0 {
		switch alias := entity[i+1:]; alias {
		case "first", "last", "current":
			f := model.ActivityFilter{EntityID: entity[:i]}
			n, err := h.feed.ResolveAlias(r.Context(), f, alias)
			if err != nil {
				h.writeFeedError(w, err)
				return
			}
			h.writePage(w, r, f, n)
			return
		}
	}

	col, err := h.feed.Collection(r.Context(), model.ActivityFilter{EntityID: entity})
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, col)
}

// Truncate POST /activity-stream/truncate/{entity}
func (h *ActivityHandler) Truncate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Keep       int  `json:"keep"`
		KeepOldest bool `json:"keepOldest"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.Keep < 0 {
		respond.WriteBadRequest(w, "keep must not be negative")
		return
	}
	removed, err := h.feed.Truncate(r.Context(), mux.Vars(r)["entity"], req.Keep, req.KeepOldest)
	if err != nil {
		h.writeFeedError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (h *ActivityHandler) writePage(w http.ResponseWriter, r *http.Request, f model.ActivityFilter, n int) {
	page, err := h.feed.Page(r.Context(), f, n)
	if err != nil {
		h.writeFeedError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, page)
}

func (h *ActivityHandler) writeFeedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, model.ErrValidation):
		respond.WriteBadRequest(w, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}
