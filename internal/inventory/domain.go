package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Book represents a title held by the library, with copy counts.
// Invariant: 0 <= Available <= TotalCopies, and Available equals
// TotalCopies minus the number of active loans for the book.
type Book struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ISBN        string    `json:"isbn" db:"isbn"`
	Title       string    `json:"title" db:"title"`
	Author      string    `json:"author" db:"author"`
	TotalCopies int       `json:"total_copies" db:"total_copies"`
	Available   int       `json:"available" db:"available"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Loan represents one member holding one copy of a book.
// ReturnDate is nil while the loan is active.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	MemberID   uuid.UUID  `json:"member_id" db:"member_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	BorrowDate time.Time  `json:"borrow_date" db:"borrow_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Extensions int        `json:"extensions" db:"extensions"`
}

// Active reports whether the loan has not been returned yet.
func (l *Loan) Active() bool {
	return l.ReturnDate == nil
}

// LoanDetail is a loan joined with the book title and member handle,
// used by the overdue and due-soon scans.
type LoanDetail struct {
	Loan
	BookTitle  string `json:"book_title" db:"book_title"`
	MemberName string `json:"member_name" db:"member_name"`
}
