package playback

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hybridvamp/V2MusicBot/internal/platform/metrics"
)

// Handler exposes the bot's operational control plane over HTTP using go-chi.
type Handler struct {
	store      *QueueStore
	supervisor *SessionJobSupervisor
	fleet      *FleetLeaveScheduler
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewHandler returns a Handler over the given store, supervisor, and fleet
// scheduler. Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(store *QueueStore, supervisor *SessionJobSupervisor, fleet *FleetLeaveScheduler, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{store: store, supervisor: supervisor, fleet: fleet, log: log, metrics: m}
}

// Routes mounts the control-plane endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/status", h.GetStatus)
	r.Get("/chats", h.ListActiveChats)
	r.Route("/chats/{chat_id}", func(r chi.Router) {
		r.Get("/queue", h.GetQueue)
		r.Delete("/queue", h.ClearQueue)
	})
	r.Post("/jobs/fleet-leave", h.TriggerFleetLeave)
}

// Healthz handles GET /healthz. It reports 200 when every supervised loop
// is running, 503 otherwise.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := h.supervisor.Status()

	dead := make([]string, 0)
	for name, loop := range status.Loops {
		if !loop.Running {
			dead = append(dead, name)
		}
	}

	if !status.Running || len(dead) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":     "degraded",
			"dead_loops": dead,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStatus handles GET /status with the full supervisor view.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.supervisor.Status())
}

// ListActiveChats handles GET /chats.
func (h *Handler) ListActiveChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_chats": h.store.ListActiveChatIDs(),
	})
}

// GetQueue handles GET /chats/{chat_id}/queue.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	tracks, ok := h.store.Snapshot(chatID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chat_id": chatID,
		"active":  h.store.IsActive(chatID),
		"queue":   tracks,
	})
}

// ClearQueue handles DELETE /chats/{chat_id}/queue. Clearing an unknown
// chat is a no-op, matching the store's contract.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	h.store.Clear(chatID)
	h.log.Info("queue cleared via control plane", slog.Int64("chat_id", int64(chatID)))
	w.WriteHeader(http.StatusNoContent)
}

// TriggerFleetLeave handles POST /jobs/fleet-leave. The pass runs in the
// background; the response carries the pass ID for log correlation.
func (h *Handler) TriggerFleetLeave(w http.ResponseWriter, r *http.Request) {
	passID := uuid.NewString()
	go func() {
		results, err := h.fleet.runPass(context.Background(), passID)
		if err != nil {
			h.log.Error("manual leave pass failed",
				slog.String("pass_id", passID),
				slog.String("error", err.Error()))
			return
		}
		h.log.Info("manual leave pass finished",
			slog.String("pass_id", passID),
			slog.Int("sessions", len(results)))
	}()

	h.log.Info("manual leave pass accepted", slog.String("pass_id", passID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"pass_id": passID,
	})
}

// chatIDParam parses the chat_id route parameter, writing 400 on failure.
func chatIDParam(w http.ResponseWriter, r *http.Request) (ChatID, bool) {
	raw := chi.URLParam(r, "chat_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	return ChatID(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
