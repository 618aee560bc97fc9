package loginguard

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"bookhive/internal/member"
)

type Handler struct {
	guard *Guard
}

func NewHandler(guard *Guard) *Handler {
	return &Handler{guard: guard}
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		Password string    `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.guard.CheckLogin(r.Context(), req.MemberID, req.Password)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch result.Outcome {
	case OutcomeOK:
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	case OutcomeLocked:
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"locked":            true,
			"seconds_remaining": int(result.LockedFor.Seconds()),
		})
	default:
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"failed":             true,
			"attempts_remaining": result.AttemptsRemaining,
		})
	}
}
