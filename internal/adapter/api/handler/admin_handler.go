package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	redisrepo "github.com/V4T54L/logrelay/internal/adapter/repository/redis"
	"github.com/V4T54L/logrelay/internal/usecase"
)

const (
	defaultTailCount = 50
	maxTailCount     = 1000
)

// StatsProvider reports the collector's writer state.
type StatsProvider interface {
	Stats() usecase.WriterStats
}

// TailReader returns the newest mirrored records.
type TailReader interface {
	Recent(ctx context.Context, count int64) ([]redisrepo.TailEntry, error)
	Available() bool
}

// AdminHandler serves the operational endpoints of a role. stats and tail
// may be nil when the role has neither.
type AdminHandler struct {
	stats  StatsProvider
	tail   TailReader
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(stats StatsProvider, tail TailReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{stats: stats, tail: tail, logger: logger}
}

// HealthCheck is a simple liveness endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Writer        *usecase.WriterStats `json:"writer,omitempty"`
	TailAvailable *bool                `json:"tail_available,omitempty"`
}

// Stats reports writer state, queue depth and cache sizes.
// GET /stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if h.stats != nil {
		s := h.stats.Stats()
		resp.Writer = &s
	}
	if h.tail != nil {
		available := h.tail.Available()
		resp.TailAvailable = &available
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// Tail returns the newest persisted records, newest first.
// GET /tail?count=N
func (h *AdminHandler) Tail(w http.ResponseWriter, r *http.Request) {
	if h.tail == nil {
		http.Error(w, "tail stream is not configured", http.StatusNotFound)
		return
	}

	count := int64(defaultTailCount)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "count must be a positive integer", http.StatusBadRequest)
			return
		}
		count = min(n, maxTailCount)
	}

	entries, err := h.tail.Recent(r.Context(), count)
	if err != nil {
		h.logger.Error("failed to read tail stream", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entries)
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
