package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lazypower/affinity/internal/engine"
	"github.com/lazypower/affinity/internal/store"
)

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	data, err := s.eng.GraphJSON(r.Context())
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := s.eng.Overview(r.Context())
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type upsertResponse struct {
	Item        *store.Item         `json:"item"`
	Created     bool                `json:"created"`
	Recalc      *engine.RecalcStats `json:"recalc,omitempty"`
	RecalcError string              `json:"recalc_error,omitempty"`
}

// handleUpsertItem stores an item and recalculates its links. A failed
// recalculation does not undo the write; it is reported alongside the item.
// An absent show_in_graph means shown, as in the import feed.
func (s *Server) handleUpsertItem(w http.ResponseWriter, r *http.Request) {
	it := store.Item{ShowInGraph: true}
	if err := json.NewDecoder(r.Body).Decode(&it); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !it.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	if it.ID < 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	created, err := s.db.UpsertItem(r.Context(), &it)
	if err != nil {
		s.engineError(w, r, err)
		return
	}

	kind := engine.EventUpdated
	code := http.StatusOK
	if created {
		kind = engine.EventCreated
		code = http.StatusCreated
	}
	resp := upsertResponse{Item: &it, Created: created}
	stats, err := s.eng.OnContentEvent(r.Context(), engine.ContentMutationEvent{ItemID: it.ID, Kind: kind})
	if err != nil {
		s.log.Warn("recalculate after upsert", zap.Int64("item", it.ID), zap.Error(err))
		resp.RecalcError = err.Error()
	} else {
		resp.Recalc = &stats
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	it, err := s.db.GetItem(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if it == nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	deleted, err := s.eng.DeleteItem(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "status": "deleted"})
}

func (s *Server) handleSetManualLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		ManualLinks []int64 `json:"manual_links"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ls, err := s.eng.SetManualLinks(r.Context(), id, req.ManualLinks)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	links, err := s.eng.GetEffectiveLinks(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "links": links})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	stats, err := s.eng.GetRelationshipStats(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	state, err := s.eng.ItemState(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		engine.RelationshipStats
		State engine.State `json:"state"`
	}{stats, state})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	stats, err := s.eng.RecalculateForItem(r.Context(), id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	a, errA := strconv.ParseInt(r.URL.Query().Get("a"), 10, 64)
	b, errB := strconv.ParseInt(r.URL.Query().Get("b"), 10, 64)
	if errA != nil || errB != nil {
		writeError(w, http.StatusBadRequest, "a and b must be item ids")
		return
	}
	res, err := s.eng.Explain(r.Context(), a, b)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSweep runs a sweep synchronously. scope=page (default) takes the
// stalest size items, scope=all walks every eligible item.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		size = n
	}

	var (
		stats engine.BatchStats
		err   error
	)
	switch r.URL.Query().Get("scope") {
	case "", "page":
		stats, err = s.eng.RecalculateBatch(r.Context(), size)
	case "all":
		stats, err = s.eng.RecalculateAll(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "scope must be page or all")
		return
	}
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLastSweep(w http.ResponseWriter, r *http.Request) {
	run, err := s.eng.LastSweep(r.Context())
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "no sweep has run yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleEvent receives mutation notices from the CMS.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev engine.ContentMutationEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch ev.Kind {
	case engine.EventCreated, engine.EventUpdated, engine.EventDeleted:
	default:
		writeError(w, http.StatusBadRequest, "kind must be created, updated or deleted")
		return
	}
	if ev.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	stats, err := s.eng.OnContentEvent(r.Context(), ev)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
