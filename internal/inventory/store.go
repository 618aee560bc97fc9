package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrBookNotFound    = errors.New("book not found")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrAlreadyReturned = errors.New("loan already returned")
	ErrNoCopies        = errors.New("no copies available")
	ErrExtensionLimit  = errors.New("extension limit reached")
	ErrCopyFloor       = errors.New("total copies cannot drop below active loans")
	ErrLoanLimit       = errors.New("active loan limit reached")
)

// Store provides atomic access to the books and loans tables.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewStore creates an inventory store over the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("bookhive/inventory"),
	}
}

// AddBook inserts a new title with all copies available.
func (s *Store) AddBook(ctx context.Context, isbn, title, author string, copies int) (*Book, error) {
	if copies < 0 {
		return nil, fmt.Errorf("copies must be >= 0, got %d", copies)
	}
	book := &Book{
		ID:          uuid.New(),
		ISBN:        isbn,
		Title:       title,
		Author:      author,
		TotalCopies: copies,
		Available:   copies,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	query := `
		INSERT INTO books (id, isbn, title, author, total_copies, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query, book.ID, book.ISBN, book.Title, book.Author,
		book.TotalCopies, book.Available, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *Store) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book := &Book{}
	query := `
		SELECT id, isbn, title, author, total_copies, available, created_at, updated_at
		FROM books
		WHERE id = $1
	`
	if err := s.db.GetContext(ctx, book, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// UpdateCopies adjusts a book's total copy count. Available moves by the
// same delta so active loans stay accounted for; it is clamped at zero by
// the guard in the WHERE clause.
func (s *Store) UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int) error {
	query := `
		UPDATE books
		SET available = available + ($1 - total_copies), total_copies = $1, updated_at = NOW()
		WHERE id = $2 AND available + ($1 - total_copies) >= 0
	`
	res, err := s.db.ExecContext(ctx, query, newTotal, id)
	if err != nil {
		return fmt.Errorf("update copies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetBook(ctx, id); err != nil {
			return err
		}
		return ErrCopyFloor
	}
	return nil
}

// Borrow atomically claims one available copy and creates the loan,
// enforcing the member's active-loan limit inside the same transaction.
// The member row lock serializes concurrent borrows by the same member,
// so the count check and the insert see a consistent view; the
// conditional decrement serializes concurrent borrows of the same book.
func (s *Store) Borrow(ctx context.Context, memberID, bookID uuid.UUID, due time.Time, limit int) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.borrow",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID uuid.UUID
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM members WHERE id = $1 FOR UPDATE`, memberID).Scan(&lockedID); err != nil {
		return nil, fmt.Errorf("lock member: %w", err)
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = $1 AND return_date IS NULL`, memberID).Scan(&active); err != nil {
		return nil, fmt.Errorf("count active loans: %w", err)
	}
	if active >= limit {
		span.SetAttributes(attribute.Int("loans.active", active))
		return nil, ErrLoanLimit
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE books
		SET available = available - 1, updated_at = NOW()
		WHERE id = $1 AND available > 0
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("decrement available: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)`, bookID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check book: %w", err)
		}
		if !exists {
			return nil, ErrBookNotFound
		}
		span.SetAttributes(attribute.Bool("copies.exhausted", true))
		return nil, ErrNoCopies
	}

	loan := &Loan{
		ID:         uuid.New(),
		MemberID:   memberID,
		BookID:     bookID,
		BorrowDate: time.Now().UTC(),
		DueDate:    due,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO loans (id, member_id, book_id, borrow_date, due_date, extensions)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, loan.ID, loan.MemberID, loan.BookID, loan.BorrowDate, loan.DueDate)
	if err != nil {
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return loan, nil
}

// Return closes an active loan and releases its copy. Returning a loan
// that is already closed fails with ErrAlreadyReturned and leaves the
// available counter untouched.
func (s *Store) Return(ctx context.Context, loanID, bookID uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.return",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.String("book.id", bookID.String()),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	loan := &Loan{}
	err = tx.QueryRowContext(ctx, `
		UPDATE loans
		SET return_date = NOW()
		WHERE id = $1 AND book_id = $2 AND return_date IS NULL
		RETURNING id, member_id, book_id, borrow_date, due_date, return_date, extensions
	`, loanID, bookID).Scan(&loan.ID, &loan.MemberID, &loan.BookID,
		&loan.BorrowDate, &loan.DueDate, &loan.ReturnDate, &loan.Extensions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM loans WHERE id = $1 AND book_id = $2)`, loanID, bookID).Scan(&exists); err != nil {
				return nil, fmt.Errorf("check loan: %w", err)
			}
			if exists {
				return nil, ErrAlreadyReturned
			}
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("close loan: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET available = available + 1, updated_at = NOW()
		WHERE id = $1 AND available < total_copies
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("increment available: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return loan, nil
}

// Extend pushes the due date of an active loan forward by window.
// Each loan may be extended at most once.
func (s *Store) Extend(ctx context.Context, loanID uuid.UUID, window time.Duration) (*Loan, error) {
	loan := &Loan{}
	err := s.db.QueryRowContext(ctx, `
		UPDATE loans
		SET due_date = due_date + $1::interval, extensions = extensions + 1
		WHERE id = $2 AND return_date IS NULL AND extensions < 1
		RETURNING id, member_id, book_id, borrow_date, due_date, return_date, extensions
	`, fmt.Sprintf("%d seconds", int(window.Seconds())), loanID).Scan(
		&loan.ID, &loan.MemberID, &loan.BookID,
		&loan.BorrowDate, &loan.DueDate, &loan.ReturnDate, &loan.Extensions)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := s.GetLoan(ctx, loanID)
			if getErr != nil {
				return nil, getErr
			}
			if !existing.Active() {
				return nil, ErrAlreadyReturned
			}
			return nil, ErrExtensionLimit
		}
		return nil, fmt.Errorf("extend loan: %w", err)
	}
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (s *Store) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	loan := &Loan{}
	query := `
		SELECT id, member_id, book_id, borrow_date, due_date, return_date, extensions
		FROM loans
		WHERE id = $1
	`
	if err := s.db.GetContext(ctx, loan, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// ListOverdue returns all active loans whose due date has passed as of the
// given instant, joined with book and member details for reminders.
func (s *Store) ListOverdue(ctx context.Context, asOf time.Time) ([]LoanDetail, error) {
	var details []LoanDetail
	query := `
		SELECT l.id, l.member_id, l.book_id, l.borrow_date, l.due_date, l.return_date, l.extensions,
		       b.title AS book_title, m.name AS member_name
		FROM loans l
		JOIN books b ON b.id = l.book_id
		JOIN members m ON m.id = l.member_id
		WHERE l.return_date IS NULL AND l.due_date < $1
		ORDER BY l.due_date ASC
	`
	if err := s.db.SelectContext(ctx, &details, query, asOf); err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	return details, nil
}

// ListDueSoon returns active loans with due dates inside (from, to].
func (s *Store) ListDueSoon(ctx context.Context, from, to time.Time) ([]LoanDetail, error) {
	var details []LoanDetail
	query := `
		SELECT l.id, l.member_id, l.book_id, l.borrow_date, l.due_date, l.return_date, l.extensions,
		       b.title AS book_title, m.name AS member_name
		FROM loans l
		JOIN books b ON b.id = l.book_id
		JOIN members m ON m.id = l.member_id
		WHERE l.return_date IS NULL AND l.due_date > $1 AND l.due_date <= $2
		ORDER BY l.due_date ASC
	`
	if err := s.db.SelectContext(ctx, &details, query, from, to); err != nil {
		return nil, fmt.Errorf("list due soon: %w", err)
	}
	return details, nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
