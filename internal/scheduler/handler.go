package scheduler

import (
	"encoding/json"
	"net/http"
)

type Handler struct {
	scheduler *Scheduler
}

func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// Manual trigger endpoints. The background loop runs the same entry
// points on its own cadence; these exist for operators.

func (h *Handler) HandleOverdueScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunOverdueScan(r.Context())
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) HandleDueSoonScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunDueSoonScan(r.Context())
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	summary := h.scheduler.RunHealthCheck(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !summary.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(summary)
}

func (h *Handler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunBackup(r.Context())
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
