package circulation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookhive/internal/inventory"
	"bookhive/internal/member"
	"bookhive/internal/reservation"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		BookID   uuid.UUID `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	result, err := h.service.Borrow(r.Context(), req.MemberID, req.BookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if result.NeedsReservation {
		writeJSON(w, http.StatusOK, map[string]any{"needs_reservation_decision": true})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"loan_id":  result.Loan.ID,
		"due_date": result.DueDate,
	})
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		BookID   uuid.UUID `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	res, err := h.service.Reserve(r.Context(), req.MemberID, req.BookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanID uuid.UUID `json:"loan_id"`
		BookID uuid.UUID `json:"book_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.Return(r.Context(), req.LoanID, req.BookID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoanID uuid.UUID `json:"loan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	result, err := h.service.Extend(r.Context(), req.LoanID)
	if err != nil {
		if errors.Is(err, inventory.ErrExtensionLimit) {
			writeJSON(w, http.StatusOK, map[string]any{"limit_reached": true})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"new_due_date": result.NewDueDate})
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN   string `json:"isbn"`
		Title  string `json:"title"`
		Author string `json:"author"`
		Copies int    `json:"copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	book, err := h.service.AddBook(r.Context(), req.ISBN, req.Title, req.Author, req.Copies)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleUpdateCopies(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}
	var req struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if err := h.service.UpdateCopies(r.Context(), id, req.Total); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inventory.ErrBookNotFound),
		errors.Is(err, inventory.ErrLoanNotFound),
		errors.Is(err, member.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, inventory.ErrAlreadyReturned):
		writeError(w, http.StatusConflict, "already_returned")
	case errors.Is(err, inventory.ErrCopyFloor):
		writeError(w, http.StatusConflict, "copy_floor")
	case errors.Is(err, reservation.ErrAlreadyReserved):
		writeError(w, http.StatusConflict, "already_reserved")
	case errors.Is(err, ErrLimitExceeded):
		writeError(w, http.StatusConflict, "limit_exceeded")
	default:
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
