package circulation

import (
	"errors"
	"time"

	"bookhive/internal/inventory"
	"bookhive/internal/member"
)

var (
	// ErrLimitExceeded means the member already holds the maximum number
	// of active loans for their status. User-correctable.
	ErrLimitExceeded = errors.New("borrow limit exceeded")

	// ErrInternal is the generic failure returned when an unexpected
	// error was caught at the engine boundary. The detailed cause goes
	// to the log and the admin channel only.
	ErrInternal = errors.New("temporary failure, try again later")
)

// Policy constants for the loan lifecycle.
const (
	DefaultLoanPeriod      = 14 * 24 * time.Hour
	DefaultExtensionPeriod = 7 * 24 * time.Hour
)

// borrowLimits maps member status to the maximum number of simultaneous
// active loans. Unknown status resolves to 0: deny by default.
var borrowLimits = map[string]int{
	member.StatusPremium:  5,
	member.StatusStandard: 3,
}

// BorrowLimit returns the active-loan cap for a member status.
func BorrowLimit(status string) int {
	return borrowLimits[status]
}

// BorrowResult is the outcome of a borrow attempt. When the book has no
// available copies, NeedsReservation is set and nothing was mutated; the
// caller decides whether to place a reservation.
type BorrowResult struct {
	Loan             *inventory.Loan `json:"loan,omitempty"`
	DueDate          time.Time       `json:"due_date,omitempty"`
	NeedsReservation bool            `json:"needs_reservation,omitempty"`
}

// ExtendResult carries the new due date after a successful extension.
type ExtendResult struct {
	NewDueDate time.Time `json:"new_due_date"`
}
