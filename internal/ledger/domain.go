package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Rating is a member's 1-5 star rating of a book. Unique per
// (member, book); re-rating overwrites the value.
type Rating struct {
	MemberID  uuid.UUID `json:"member_id" db:"member_id"`
	BookID    uuid.UUID `json:"book_id" db:"book_id"`
	Value     int       `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ActivityEntry is an append-only audit line. MemberID is nullable so
// entries survive member removal.
type ActivityEntry struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	MemberID  *uuid.UUID `json:"member_id,omitempty" db:"member_id"`
	Action    string     `json:"action" db:"action"`
	Detail    string     `json:"detail" db:"detail"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Notification is the durable record of a dispatched message. It persists
// independently of transport delivery.
type Notification struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	MemberID  *uuid.UUID `json:"member_id,omitempty" db:"member_id"`
	Text      string     `json:"text" db:"text"`
	Category  string     `json:"category" db:"category"`
	Read      bool       `json:"read" db:"read"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// HistoryEntry is a loan joined with the book title and the member's
// rating of that book, if any.
type HistoryEntry struct {
	LoanID     uuid.UUID  `json:"loan_id" db:"loan_id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	BookTitle  string     `json:"book_title" db:"book_title"`
	BorrowDate time.Time  `json:"borrow_date" db:"borrow_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Rating     *int       `json:"rating,omitempty" db:"rating"`
}

// TopRatedBook is one row of the top-rated aggregation.
type TopRatedBook struct {
	BookID      uuid.UUID `json:"book_id" db:"book_id"`
	Title       string    `json:"title" db:"title"`
	AvgRating   float64   `json:"avg_rating" db:"avg_rating"`
	RatingCount int       `json:"rating_count" db:"rating_count"`
}

// RatingStats aggregates all ratings for the statistics view.
type RatingStats struct {
	Total          int        `json:"total"`
	DistinctBooks  int        `json:"distinct_books"`
	DistinctRaters int        `json:"distinct_raters"`
	Mean           float64    `json:"mean"`
	Histogram      map[int]int `json:"histogram"`
}
