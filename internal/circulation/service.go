package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookhive/internal/inventory"
	"bookhive/internal/member"
	"bookhive/internal/notify"
	"bookhive/internal/reservation"
)

// Service defines the interface for the circulation engine.
type Service interface {
	Borrow(ctx context.Context, memberID, bookID uuid.UUID) (*BorrowResult, error)
	Reserve(ctx context.Context, memberID, bookID uuid.UUID) (*reservation.Reservation, error)
	Return(ctx context.Context, loanID, bookID uuid.UUID) error
	Extend(ctx context.Context, loanID uuid.UUID) (*ExtendResult, error)
	AddBook(ctx context.Context, isbn, title, author string, copies int) (*inventory.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*inventory.Book, error)
	UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int) error
}

// Inventory is the slice of the inventory store the engine needs.
type Inventory interface {
	GetBook(ctx context.Context, id uuid.UUID) (*inventory.Book, error)
	AddBook(ctx context.Context, isbn, title, author string, copies int) (*inventory.Book, error)
	Borrow(ctx context.Context, memberID, bookID uuid.UUID, due time.Time, limit int) (*inventory.Loan, error)
	Return(ctx context.Context, loanID, bookID uuid.UUID) (*inventory.Loan, error)
	Extend(ctx context.Context, loanID uuid.UUID, window time.Duration) (*inventory.Loan, error)
	UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int) error
}

// Reservations is the FIFO queue the engine consults on return.
type Reservations interface {
	Place(ctx context.Context, memberID, bookID uuid.UUID) (*reservation.Reservation, error)
	PopOldest(ctx context.Context, bookID uuid.UUID) (*reservation.Reservation, error)
	PendingCount(ctx context.Context, bookID uuid.UUID) (int, error)
}

// Members resolves member records for limit checks.
type Members interface {
	Get(ctx context.Context, id uuid.UUID) (*member.Member, error)
}

// Activity is the append-only audit hook.
type Activity interface {
	LogActivity(ctx context.Context, memberID *uuid.UUID, action, detail string) error
}

// Notifier submits fire-and-forget notification jobs.
type Notifier interface {
	Enqueue(ctx context.Context, target notify.Target, text, category string, button *notify.Button) (uuid.UUID, error)
}

// Broadcaster fans a message out to all members.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string, button *notify.Button) (*notify.BroadcastSummary, error)
}
