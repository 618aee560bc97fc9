package member

import (
	"time"

	"github.com/google/uuid"
)

// Status values feed the borrow-limit table. Anything else is treated as
// unknown and borrowing is denied.
const (
	StatusPremium  = "premium"
	StatusStandard = "standard"
)

// Member represents a registered library member.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Status    string    `json:"status" db:"status"`
	ChatID    *string   `json:"chat_id,omitempty" db:"chat_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credential holds a member's salted password hash.
type Credential struct {
	MemberID     uuid.UUID `db:"member_id"`
	PasswordHash string    `db:"password_hash"`
	Salt         string    `db:"salt"`
}
