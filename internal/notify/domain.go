package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification categories. Categories drive rate limiting and let the
// chat layer pick rendering.
const (
	CategoryLoan         = "loan_confirmation"
	CategoryAvailable    = "book_available"
	CategoryDueSoon      = "due_reminder"
	CategoryOverdue      = "overdue_reminder"
	CategorySecurity     = "security_alert"
	CategoryBroadcast    = "broadcast"
	CategoryVerification = "verification"
	CategorySystem       = "system"
)

// Target identifies a job's recipient: a member, or the admin channel.
type Target struct {
	MemberID uuid.UUID
	Admin    bool
}

// MemberTarget addresses a job to a single member.
func MemberTarget(id uuid.UUID) Target {
	return Target{MemberID: id}
}

// AdminTarget addresses a job to the admin channel.
func AdminTarget() Target {
	return Target{Admin: true}
}

// Button describes an optional interactive action attached to a message.
// The chat layer decides how to render it.
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Job is one unit of delivery work. It is process-local: the durable
// truth is the notification record written before the job is submitted,
// transport delivery is best-effort with retry.
type Job struct {
	ID        uuid.UUID
	Target    Target
	Text      string
	Category  string
	Button    *Button
	CreatedAt time.Time

	attempts int
}

// BroadcastSummary reports the outcome of one broadcast run.
type BroadcastSummary struct {
	Total   int `json:"total"`
	Batches int `json:"batches"`
	Skipped int `json:"skipped"`
}
