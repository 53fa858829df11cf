// Package api exposes the message history over HTTP. Transcripts are
// editable after the fact; edits flow back through the store so the QA
// reprocessor picks them up.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/voxlog/capture-gateway/internal/qa"
	"github.com/voxlog/capture-gateway/internal/store"
)

// Handler serves the REST surface
type Handler struct {
	store       *store.Store
	reprocessor *qa.Reprocessor
}

// NewHandler wires the API against the store and the QA reprocessor
func NewHandler(st *store.Store, reprocessor *qa.Reprocessor) *Handler {
	return &Handler{store: st, reprocessor: reprocessor}
}

// Register mounts the API routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /messages", h.listMessages)
	mux.HandleFunc("GET /messages/{id}", h.getMessage)
	mux.HandleFunc("PATCH /messages/{id}", h.updateMessage)
	mux.HandleFunc("GET /qa/settings", h.getQASettings)
	mux.HandleFunc("PUT /qa/settings", h.updateQASettings)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	msg, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// updateRequest carries an after-the-fact edit. Only completed
// messages accept transcript edits.
type updateRequest struct {
	Transcript  *string `json:"transcript,omitempty"`
	Translation *string `json:"translation,omitempty"`
}

func (h *Handler) updateMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Transcript == nil && req.Translation == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Transcript != nil && *req.Transcript == "" {
		writeError(w, http.StatusBadRequest, "transcript cannot be empty")
		return
	}

	cur, ok := h.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if req.Transcript != nil && cur.Status != store.StatusCompleted {
		writeError(w, http.StatusConflict, "transcript is only editable once transcription completed")
		return
	}

	updated, err := h.store.Update(id, func(m *store.Message) {
		if req.Transcript != nil {
			m.Transcript = *req.Transcript
		}
		if req.Translation != nil {
			m.Translation = *req.Translation
		}
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log.Info().Int64("message_id", id).Msg("Message edited")
	writeJSON(w, http.StatusOK, updated)
}

// qaSettingsPayload mirrors qa.Settings on the wire
type qaSettingsPayload struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (h *Handler) getQASettings(w http.ResponseWriter, r *http.Request) {
	s := h.reprocessor.Settings()
	writeJSON(w, http.StatusOK, qaSettingsPayload{Engine: s.Engine, Model: s.Model, Prompt: s.Prompt})
}

func (h *Handler) updateQASettings(w http.ResponseWriter, r *http.Request) {
	var req qaSettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Engine == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "engine and model are required")
		return
	}

	h.reprocessor.UpdateSettings(r.Context(), qa.Settings{
		Engine: req.Engine,
		Model:  req.Model,
		Prompt: req.Prompt,
	})
	writeJSON(w, http.StatusOK, req)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
