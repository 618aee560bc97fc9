package member

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
	ErrNotFound       = errors.New("member not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store provides access to the members and credentials tables.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a member store over the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Register creates a member with hashed credentials. The member row and
// the credential row commit together.
func (s *Store) Register(ctx context.Context, email, name, password string) (*Member, error) {
	hash, salt, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	m := &Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		Status:    StatusStandard,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO members (id, email, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.Email, m.Name, m.Status, m.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`, m.ID, hash, salt)
	if err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return m, nil
}

// Get retrieves a member by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Member, error) {
	m := &Member{}
	query := `
		SELECT id, email, name, status, chat_id, created_at
		FROM members
		WHERE id = $1
	`
	if err := s.db.GetContext(ctx, m, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// GetCredential retrieves a member's stored credential for verification.
func (s *Store) GetCredential(ctx context.Context, memberID uuid.UUID) (*Credential, error) {
	c := &Credential{}
	query := `
		SELECT member_id, password_hash, salt
		FROM credentials
		WHERE member_id = $1
	`
	if err := s.db.GetContext(ctx, c, query, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// ChatAddress resolves a member's transport handle. An empty string with a
// nil error means the member has not linked a chat account yet.
func (s *Store) ChatAddress(ctx context.Context, memberID uuid.UUID) (string, error) {
	var chatID sql.NullString
	query := `SELECT chat_id FROM members WHERE id = $1`
	if err := s.db.GetContext(ctx, &chatID, query, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get chat address: %w", err)
	}
	if !chatID.Valid {
		return "", nil
	}
	return chatID.String, nil
}

// LinkChat records the member's transport handle.
func (s *Store) LinkChat(ctx context.Context, memberID uuid.UUID, chatID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET chat_id = $1 WHERE id = $2`, chatID, memberID)
	if err != nil {
		return fmt.Errorf("link chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes a member's tier.
func (s *Store) UpdateStatus(ctx context.Context, memberID uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE members SET status = $1 WHERE id = $2`, status, memberID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns every member, ordered by registration time. Used by
// broadcast fan-out.
func (s *Store) ListAll(ctx context.Context) ([]Member, error) {
	var members []Member
	query := `
		SELECT id, email, name, status, chat_id, created_at
		FROM members
		ORDER BY created_at ASC
	`
	if err := s.db.SelectContext(ctx, &members, query); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}
