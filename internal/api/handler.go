package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/RichardoC/localchat/internal/catalog"
	"github.com/RichardoC/localchat/internal/chat"
	"github.com/RichardoC/localchat/internal/db"
	"github.com/RichardoC/localchat/internal/gate"
	"github.com/RichardoC/localchat/internal/llm"
	"github.com/RichardoC/localchat/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultExportName = "chatlist"

// StatusSource reports per-model download state.
type StatusSource interface {
	Statuses() map[string]llm.Progress
}

type Handler struct {
	session *chat.Orchestrator
	gate    *gate.Gate
	catalog *catalog.Catalog
	models  StatusSource
	profile catalog.DeviceProfile
	logger  *zap.Logger
}

func NewHandler(session *chat.Orchestrator, g *gate.Gate, cat *catalog.Catalog, models StatusSource, profile catalog.DeviceProfile, logger *zap.Logger) *Handler {
	return &Handler{
		session: session,
		gate:    g,
		catalog: cat,
		models:  models,
		profile: profile,
		logger:  logger,
	}
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Message *models.Message `json:"message,omitempty"`
	Stopped bool            `json:"stopped,omitempty"`
}

type SwitchModelRequest struct {
	ModelID string `json:"modelId"`
}

type SearchRequest struct {
	Enabled bool `json:"enabled"`
}

type ModelInfo struct {
	catalog.ModelDescriptor
	Status *llm.Progress `json:"status,omitempty"`
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.session.Send(r.Context(), req.Content)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
	case errors.Is(err, chat.ErrStopped):
		h.writeJSON(w, http.StatusOK, MessageResponse{Stopped: true})
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrNoConversation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		http.Error(w, fmt.Sprintf("Failed to process message: %v", err), http.StatusBadGateway)
	}
}

func (h *Handler) StopGeneration(w http.ResponseWriter, r *http.Request) {
	h.session.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	conversations := h.session.Snapshot().Conversations
	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("path", r.URL.Path))
	h.writeJSON(w, http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusCreated, h.session.CreateConversation())
}

func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SelectConversation(chi.URLParam(r, "id")); err != nil {
		h.conversationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	var req chat.ConversationUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.session.UpdateConversation(chi.URLParam(r, "id"), req)
	if err != nil {
		h.conversationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteConversation(chi.URLParam(r, "id")); err != nil {
		h.conversationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) conversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrUnknownConversation):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, chat.ErrUnknownModel):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Failed to update conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) SwitchModel(w http.ResponseWriter, r *http.Request) {
	var req SwitchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.session.SwitchModel(req.ModelID); err != nil {
		h.conversationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	statuses := h.models.Statuses()
	available := h.catalog.Available(h.profile)
	out := make([]ModelInfo, 0, len(available))
	for _, m := range available {
		info := ModelInfo{ModelDescriptor: m}
		if p, ok := statuses[m.ID]; ok {
			info.Status = &p
		}
		out = append(out, info)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.session.Snapshot().Settings)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DefaultModelID != "" {
		if _, ok := h.catalog.Lookup(req.DefaultModelID); !ok {
			http.Error(w, "Unknown model: "+req.DefaultModelID, http.StatusBadRequest)
			return
		}
	}
	if err := h.session.UpdateSettings(req); err != nil {
		h.logger.Error("Failed to save settings", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, h.session.Snapshot().Settings)
}

func (h *Handler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.session.SetSearchEnabled(req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetGate(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.gate.Status())
}

func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.CompleteOnboarding(); err != nil {
		h.logger.Error("Failed to complete onboarding", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetryDownloads(w http.ResponseWriter, r *http.Request) {
	if !h.gate.Retry(context.WithoutCancel(r.Context())) {
		http.Error(w, "Downloads already running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	backup, err := h.session.Export()
	if err != nil {
		h.logger.Error("Failed to export", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	name := exportName(r.URL.Query().Get("name"))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, name))
	h.writeJSON(w, http.StatusOK, backup)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var backup models.Backup
	if err := json.NewDecoder(r.Body).Decode(&backup); err != nil {
		http.Error(w, "Invalid backup file", http.StatusBadRequest)
		return
	}

	err := h.session.Import(backup)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, h.session.Snapshot())
	case errors.Is(err, db.ErrInvalidBackup):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("Failed to import", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// exportName keeps the characters that are safe in a file name.
func exportName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, strings.TrimSuffix(name, ".json"))
	if strings.Trim(name, ".") == "" {
		return defaultExportName
	}
	return name
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
