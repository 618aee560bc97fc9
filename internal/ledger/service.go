package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
	ErrNotificationMissing = errors.New("notification not found")
)

// Service owns the ratings, activity_log and notifications tables.
type Service struct {
	db *sqlx.DB
}

// NewService creates a ledger service over the given database handle.
func NewService(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// RateBook upserts a member's rating for a book and reports whether the
// row was created or an existing value was overwritten.
func (s *Service) RateBook(ctx context.Context, memberID, bookID uuid.UUID, value int) (created bool, err error) {
	if value < 1 || value > 5 {
		return false, ErrInvalidRating
	}
	// created_at equals updated_at only on first insert; NOW() is the
	// transaction timestamp, so the comparison is exact.
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO ratings (member_id, book_id, value, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (member_id, book_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		RETURNING (created_at = updated_at)
	`, memberID, bookID, value).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert rating: %w", err)
	}
	return created, nil
}

// LogActivity appends an audit line. Entries are never mutated.
func (s *Service) LogActivity(ctx context.Context, memberID *uuid.UUID, action, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, member_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), memberID, action, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// BorrowHistory returns all of a member's loans, active and returned,
// joined with the member's rating of each book if present.
func (s *Service) BorrowHistory(ctx context.Context, memberID uuid.UUID) ([]HistoryEntry, error) {
	var history []HistoryEntry
	query := `
		SELECT l.id AS loan_id, l.book_id, b.title AS book_title,
		       l.borrow_date, l.due_date, l.return_date, r.value AS rating
		FROM loans l
		JOIN books b ON b.id = l.book_id
		LEFT JOIN ratings r ON r.book_id = l.book_id AND r.member_id = l.member_id
		WHERE l.member_id = $1
		ORDER BY l.borrow_date DESC
	`
	if err := s.db.SelectContext(ctx, &history, query, memberID); err != nil {
		return nil, fmt.Errorf("borrow history: %w", err)
	}
	return history, nil
}

// TopRated returns up to limit books by average rating, descending.
// Ties break on book id so the ordering is stable.
func (s *Service) TopRated(ctx context.Context, limit int) ([]TopRatedBook, error) {
	var books []TopRatedBook
	query := `
		SELECT b.id AS book_id, b.title, AVG(r.value) AS avg_rating, COUNT(r.value) AS rating_count
		FROM ratings r
		JOIN books b ON b.id = r.book_id
		GROUP BY b.id, b.title
		ORDER BY avg_rating DESC, b.id ASC
		LIMIT $1
	`
	if err := s.db.SelectContext(ctx, &books, query, limit); err != nil {
		return nil, fmt.Errorf("top rated: %w", err)
	}
	return books, nil
}

// Stats aggregates all ratings: totals, distinct counts, mean, and a
// histogram by star value.
func (s *Service) Stats(ctx context.Context) (*RatingStats, error) {
	stats := &RatingStats{Histogram: make(map[int]int, 5)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT book_id), COUNT(DISTINCT member_id), COALESCE(AVG(value), 0)
		FROM ratings
	`).Scan(&stats.Total, &stats.DistinctBooks, &stats.DistinctRaters, &stats.Mean)
	if err != nil {
		return nil, fmt.Errorf("rating totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT value, COUNT(*) FROM ratings GROUP BY value
	`)
	if err != nil {
		return nil, fmt.Errorf("rating histogram: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var value, count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("scan histogram row: %w", err)
		}
		stats.Histogram[value] = count
	}
	return stats, rows.Err()
}

// AddNotification persists a durable notification record. A nil memberID
// targets the admin channel.
func (s *Service) AddNotification(ctx context.Context, memberID *uuid.UUID, text, category string) (*Notification, error) {
	n := &Notification{
		ID:        uuid.New(),
		MemberID:  memberID,
		Text:      text,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, member_id, text, category, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, n.ID, n.MemberID, n.Text, n.Category, n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// Unread lists a member's unread notifications, oldest first.
func (s *Service) Unread(ctx context.Context, memberID uuid.UUID) ([]Notification, error) {
	var notifications []Notification
	query := `
		SELECT id, member_id, text, category, read, created_at
		FROM notifications
		WHERE member_id = $1 AND read = FALSE
		ORDER BY created_at ASC
	`
	if err := s.db.SelectContext(ctx, &notifications, query, memberID); err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a notification as read.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotificationMissing
	}
	return nil
}
