package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrAlreadyReserved = errors.New("reservation already exists")
	ErrQueueEmpty      = errors.New("no pending reservations")
)

// Reservation is a member's standing request to be notified when an
// unavailable book frees up. Rows are never deleted; popping the queue
// marks the row notified so the record stays auditable.
type Reservation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	MemberID  uuid.UUID `json:"member_id" db:"member_id"`
	BookID    uuid.UUID `json:"book_id" db:"book_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Notified  bool      `json:"notified" db:"notified"`
}

// Queue is the per-book FIFO of waiting members, realized as reservation
// rows ordered by creation timestamp.
type Queue struct {
	db *sqlx.DB
}

// NewQueue creates a reservation queue over the given database handle.
func NewQueue(db *sqlx.DB) *Queue {
	return &Queue{db: db}
}

// Place inserts a reservation for the (member, book) pair. A second
// unresolved reservation for the same pair fails with ErrAlreadyReserved.
func (q *Queue) Place(ctx context.Context, memberID, bookID uuid.UUID) (*Reservation, error) {
	r := &Reservation{
		ID:        uuid.New(),
		MemberID:  memberID,
		BookID:    bookID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reservations (id, member_id, book_id, created_at, notified)
		VALUES ($1, $2, $3, $4, FALSE)
	`, r.ID, r.MemberID, r.BookID, r.CreatedAt)
	if err != nil {
		// Partial unique index on (member_id, book_id) WHERE NOT notified.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrAlreadyReserved
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return r, nil
}

// PopOldest marks the oldest pending reservation for the book as notified
// and returns it. The row is updated, not deleted.
func (q *Queue) PopOldest(ctx context.Context, bookID uuid.UUID) (*Reservation, error) {
	r := &Reservation{}
	err := q.db.QueryRowContext(ctx, `
		UPDATE reservations
		SET notified = TRUE
		WHERE id = (
			SELECT id FROM reservations
			WHERE book_id = $1 AND notified = FALSE
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, member_id, book_id, created_at, notified
	`, bookID).Scan(&r.ID, &r.MemberID, &r.BookID, &r.CreatedAt, &r.Notified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("pop reservation: %w", err)
	}
	return r, nil
}

// PendingCount returns the number of members still waiting for the book.
func (q *Queue) PendingCount(ctx context.Context, bookID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM reservations WHERE book_id = $1 AND notified = FALSE`
	if err := q.db.GetContext(ctx, &count, query, bookID); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}
