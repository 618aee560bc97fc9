package notify

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"bookhive/internal/member"
)

type Handler struct {
	dispatcher *Dispatcher
	verifier   *Verifier
	members    *member.Store
}

func NewHandler(dispatcher *Dispatcher, verifier *Verifier, members *member.Store) *Handler {
	return &Handler{dispatcher: dispatcher, verifier: verifier, members: members}
}

// HandleEnqueue accepts a fire-and-forget notification job.
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID *uuid.UUID `json:"member_id,omitempty"`
		Admin    bool       `json:"admin,omitempty"`
		Text     string     `json:"text"`
		Category string     `json:"category"`
		Button   *Button    `json:"button,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.Category == "" {
		http.Error(w, "text and category are required", http.StatusBadRequest)
		return
	}

	target := AdminTarget()
	if !req.Admin {
		if req.MemberID == nil {
			http.Error(w, "member_id or admin target required", http.StatusBadRequest)
			return
		}
		target = MemberTarget(*req.MemberID)
	}

	jobID, err := h.dispatcher.Enqueue(r.Context(), target, req.Text, req.Category, req.Button)
	if err != nil {
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"job_id": jobID})
}

// HandleBroadcast fans a message out to all members in batches.
func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string  `json:"text"`
		Button *Button `json:"button,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	summary, err := h.dispatcher.Broadcast(r.Context(), req.Text, req.Button)
	if err != nil {
		if errors.Is(err, ErrBroadcastRate) {
			http.Error(w, "broadcast rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(summary)
}

// HandleVerify generates a verification code and delivers it through the
// channel fallback chain.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.members.Get(r.Context(), req.MemberID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal", http.StatusInternalServerError)
		return
	}

	_, channel, err := h.verifier.SendCode(r.Context(), m)
	if err != nil {
		http.Error(w, "verification delivery failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "channel": channel})
}
