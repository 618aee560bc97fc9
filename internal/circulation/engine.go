package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bookhive/internal/inventory"
	"bookhive/internal/member"
	"bookhive/internal/notify"
	"bookhive/internal/reservation"
)

// engine implements the Service interface.
type engine struct {
	inv      Inventory
	resq     Reservations
	members  Members
	activity Activity
	notifier Notifier
	caster   Broadcaster
	log      *slog.Logger

	loanPeriod      time.Duration
	extensionPeriod time.Duration
}

// NewEngine creates a new circulation engine instance.
func NewEngine(inv Inventory, resq Reservations, members Members, activity Activity,
	notifier Notifier, caster Broadcaster, log *slog.Logger,
	loanPeriod, extensionPeriod time.Duration) Service {
	if loanPeriod <= 0 {
		loanPeriod = DefaultLoanPeriod
	}
	if extensionPeriod <= 0 {
		extensionPeriod = DefaultExtensionPeriod
	}
	return &engine{
		inv:             inv,
		resq:            resq,
		members:         members,
		activity:        activity,
		notifier:        notifier,
		caster:          caster,
		log:             log,
		loanPeriod:      loanPeriod,
		extensionPeriod: extensionPeriod,
	}
}

// Borrow claims one copy for the member, or reports that a reservation
// decision is needed when no copies are available. Nothing is mutated in
// the needs-reservation and limit-exceeded cases.
func (e *engine) Borrow(ctx context.Context, memberID, bookID uuid.UUID) (*BorrowResult, error) {
	m, err := e.members.Get(ctx, memberID)
	if err != nil {
		return nil, e.guard(ctx, "borrow", err)
	}

	book, err := e.inv.GetBook(ctx, bookID)
	if err != nil {
		return nil, e.guard(ctx, "borrow", err)
	}
	if book.Available == 0 {
		return &BorrowResult{NeedsReservation: true}, nil
	}

	limit := BorrowLimit(m.Status)
	due := time.Now().UTC().Add(e.loanPeriod)
	loan, err := e.inv.Borrow(ctx, memberID, bookID, due, limit)
	if err != nil {
		// Another borrower may take the last copy between the
		// availability read and the atomic decrement.
		if errors.Is(err, inventory.ErrNoCopies) {
			return &BorrowResult{NeedsReservation: true}, nil
		}
		if errors.Is(err, inventory.ErrLoanLimit) {
			e.log.Info("borrow limit hit",
				"member_id", memberID, "status", m.Status, "limit", limit)
			return nil, ErrLimitExceeded
		}
		return nil, e.guard(ctx, "borrow", err)
	}

	e.logActivity(ctx, &memberID, "borrow",
		fmt.Sprintf("borrowed %q, due %s", book.Title, loan.DueDate.Format("2006-01-02")))

	text := fmt.Sprintf("You borrowed %q. Due back on %s.",
		book.Title, loan.DueDate.Format("2006-01-02"))
	if _, err := e.notifier.Enqueue(ctx, notify.MemberTarget(memberID), text, notify.CategoryLoan, nil); err != nil {
		e.log.Warn("borrow confirmation enqueue failed", "loan_id", loan.ID, "error", err)
	}

	return &BorrowResult{Loan: loan, DueDate: loan.DueDate}, nil
}

// Reserve places the member in the book's FIFO queue. Duplicate
// reservations for the same pair fail with reservation.ErrAlreadyReserved.
func (e *engine) Reserve(ctx context.Context, memberID, bookID uuid.UUID) (*reservation.Reservation, error) {
	book, err := e.inv.GetBook(ctx, bookID)
	if err != nil {
		return nil, e.guard(ctx, "reserve", err)
	}

	res, err := e.resq.Place(ctx, memberID, bookID)
	if err != nil {
		if errors.Is(err, reservation.ErrAlreadyReserved) {
			return nil, err
		}
		return nil, e.guard(ctx, "reserve", err)
	}

	if pending, err := e.resq.PendingCount(ctx, bookID); err == nil {
		e.log.Info("reservation placed",
			"book_id", bookID, "member_id", memberID, "queue_length", pending)
	}

	e.logActivity(ctx, &memberID, "reserve", fmt.Sprintf("reserved %q", book.Title))
	return res, nil
}

// Return closes the loan, releases the copy, and offers it to the oldest
// waiting reservation. Availability is offered, not granted: the notified
// member still has to borrow the book themselves.
func (e *engine) Return(ctx context.Context, loanID, bookID uuid.UUID) error {
	loan, err := e.inv.Return(ctx, loanID, bookID)
	if err != nil {
		if errors.Is(err, inventory.ErrLoanNotFound) || errors.Is(err, inventory.ErrAlreadyReturned) {
			return err
		}
		return e.guard(ctx, "return", err)
	}

	book, err := e.inv.GetBook(ctx, bookID)
	if err != nil {
		return e.guard(ctx, "return", err)
	}

	e.logActivity(ctx, &loan.MemberID, "return", fmt.Sprintf("returned %q", book.Title))

	res, err := e.resq.PopOldest(ctx, bookID)
	if err != nil {
		if errors.Is(err, reservation.ErrQueueEmpty) {
			return nil
		}
		// The return itself succeeded; a queue failure only costs the
		// notification, so report it instead of failing the caller.
		e.log.Error("reservation pop failed", "book_id", bookID, "error", err)
		return nil
	}

	text := fmt.Sprintf("%q is available again. You are first in line.", book.Title)
	button := &notify.Button{Label: "Borrow now", Action: "borrow:" + bookID.String()}
	if _, err := e.notifier.Enqueue(ctx, notify.MemberTarget(res.MemberID), text, notify.CategoryAvailable, button); err != nil {
		e.log.Warn("availability notice enqueue failed",
			"reservation_id", res.ID, "error", err)
	}
	return nil
}

// Extend pushes the loan's due date forward once. A second attempt fails
// with inventory.ErrExtensionLimit, which the caller surfaces as a
// non-fatal limit-reached message.
func (e *engine) Extend(ctx context.Context, loanID uuid.UUID) (*ExtendResult, error) {
	loan, err := e.inv.Extend(ctx, loanID, e.extensionPeriod)
	if err != nil {
		if errors.Is(err, inventory.ErrExtensionLimit) ||
			errors.Is(err, inventory.ErrLoanNotFound) ||
			errors.Is(err, inventory.ErrAlreadyReturned) {
			return nil, err
		}
		return nil, e.guard(ctx, "extend", err)
	}

	e.logActivity(ctx, &loan.MemberID, "extend",
		fmt.Sprintf("extended loan %s to %s", loan.ID, loan.DueDate.Format("2006-01-02")))
	return &ExtendResult{NewDueDate: loan.DueDate}, nil
}

// AddBook registers a new title and broadcasts its arrival to all members.
func (e *engine) AddBook(ctx context.Context, isbn, title, author string, copies int) (*inventory.Book, error) {
	book, err := e.inv.AddBook(ctx, isbn, title, author, copies)
	if err != nil {
		return nil, e.guard(ctx, "add_book", err)
	}

	e.logActivity(ctx, nil, "add_book", fmt.Sprintf("added %q by %s (%d copies)", title, author, copies))

	text := fmt.Sprintf("New arrival: %q by %s", title, author)
	if _, err := e.caster.Broadcast(ctx, text, nil); err != nil {
		e.log.Warn("new book broadcast failed", "book_id", book.ID, "error", err)
	}
	return book, nil
}

// UpdateCopies changes a title's total copy count. Reducing below the
// number of active loans fails with inventory.ErrCopyFloor.
func (e *engine) UpdateCopies(ctx context.Context, id uuid.UUID, newTotal int) error {
	if err := e.inv.UpdateCopies(ctx, id, newTotal); err != nil {
		if errors.Is(err, inventory.ErrCopyFloor) {
			return err
		}
		return e.guard(ctx, "update_copies", err)
	}
	e.logActivity(ctx, nil, "update_copies", fmt.Sprintf("set total copies of %s to %d", id, newTotal))
	return nil
}

// GetBook returns one title with its current availability.
func (e *engine) GetBook(ctx context.Context, id uuid.UUID) (*inventory.Book, error) {
	book, err := e.inv.GetBook(ctx, id)
	if err != nil {
		return nil, e.guard(ctx, "get_book", err)
	}
	return book, nil
}

// guard is the engine boundary: expected user-facing errors pass through,
// anything else is logged with full context, reported once to the admin
// channel, and converted to a generic failure.
func (e *engine) guard(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, inventory.ErrBookNotFound),
		errors.Is(err, inventory.ErrLoanNotFound),
		errors.Is(err, inventory.ErrAlreadyReturned),
		errors.Is(err, inventory.ErrExtensionLimit),
		errors.Is(err, reservation.ErrAlreadyReserved),
		errors.Is(err, member.ErrNotFound),
		errors.Is(err, ErrLimitExceeded):
		return err
	}

	e.log.Error("circulation operation failed", "op", op, "error", err)
	report := fmt.Sprintf("Circulation failure in %s: %v", op, err)
	if _, alertErr := e.notifier.Enqueue(ctx, notify.AdminTarget(), report, notify.CategorySystem, nil); alertErr != nil {
		e.log.Error("admin alert enqueue failed", "op", op, "error", alertErr)
	}
	return ErrInternal
}

func (e *engine) logActivity(ctx context.Context, memberID *uuid.UUID, action, detail string) {
	if err := e.activity.LogActivity(ctx, memberID, action, detail); err != nil {
		e.log.Warn("activity append failed", "action", action, "error", err)
	}
}
