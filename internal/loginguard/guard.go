package loginguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookhive/internal/member"
	"bookhive/internal/notify"
)

// Outcome classifies one login attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFailed
	OutcomeLocked
)

// Result reports the attempt outcome with the concrete remaining count or
// time the caller surfaces to the user.
type Result struct {
	Outcome           Outcome       `json:"outcome"`
	AttemptsRemaining int           `json:"attempts_remaining,omitempty"`
	LockedFor         time.Duration `json:"locked_for,omitempty"`
}

// MemberSource provides credentials and member details for alerts.
type MemberSource interface {
	Get(ctx context.Context, id uuid.UUID) (*member.Member, error)
	GetCredential(ctx context.Context, memberID uuid.UUID) (*member.Credential, error)
}

// Alerter is the admin notification hook.
type Alerter interface {
	Enqueue(ctx context.Context, target notify.Target, text, category string, button *notify.Button) (uuid.UUID, error)
}

type lockState struct {
	failures    int
	lockedUntil time.Time
}

// Guard throttles login attempts per member. State is process-local and
// lost on restart; it is a throttle, not an authorization boundary. If
// multiple processes run, each counts failures independently (a known
// limitation, accepted).
type Guard struct {
	members   MemberSource
	alerts    Alerter
	log       *slog.Logger
	threshold int
	lockFor   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[uuid.UUID]*lockState
}

// NewGuard creates a login guard. threshold is the number of consecutive
// failures that trigger a lockout of duration lockFor.
func NewGuard(members MemberSource, alerts Alerter, log *slog.Logger, threshold int, lockFor time.Duration) *Guard {
	return &Guard{
		members:   members,
		alerts:    alerts,
		log:       log,
		threshold: threshold,
		lockFor:   lockFor,
		now:       time.Now,
		states:    make(map[uuid.UUID]*lockState),
	}
}

// CheckLogin verifies the member's password, counting failures and
// enforcing the lockout. While locked, the check short-circuits without
// touching the store.
func (g *Guard) CheckLogin(ctx context.Context, memberID uuid.UUID, password string) (*Result, error) {
	if remaining, locked := g.lockRemaining(memberID); locked {
		return &Result{Outcome: OutcomeLocked, LockedFor: remaining}, nil
	}

	cred, err := g.members.GetCredential(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	ok, err := member.VerifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if ok {
		g.reset(memberID)
		return &Result{Outcome: OutcomeOK}, nil
	}

	failures := g.recordFailure(memberID)
	if failures >= g.threshold {
		g.alertLockout(ctx, memberID, failures)
		return &Result{Outcome: OutcomeLocked, LockedFor: g.lockFor}, nil
	}
	return &Result{Outcome: OutcomeFailed, AttemptsRemaining: g.threshold - failures}, nil
}

// lockRemaining reports whether the member is currently locked out, and
// for how much longer. An expired lockout resets the state to clean.
func (g *Guard) lockRemaining(memberID uuid.UUID) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[memberID]
	if !ok {
		return 0, false
	}
	if state.lockedUntil.IsZero() {
		return 0, false
	}
	remaining := state.lockedUntil.Sub(g.now())
	if remaining <= 0 {
		delete(g.states, memberID)
		return 0, false
	}
	return remaining, true
}

func (g *Guard) reset(memberID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, memberID)
}

func (g *Guard) recordFailure(memberID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[memberID]
	if !ok {
		state = &lockState{}
		g.states[memberID] = state
	}
	state.failures++
	if state.failures >= g.threshold {
		state.lockedUntil = g.now().Add(g.lockFor)
	}
	return state.failures
}

func (g *Guard) alertLockout(ctx context.Context, memberID uuid.UUID, failures int) {
	handle := memberID.String()
	if m, err := g.members.Get(ctx, memberID); err == nil {
		handle = m.Email
	}

	text := fmt.Sprintf("Security alert: %d failed login attempts for %s, account locked for %s",
		failures, handle, g.lockFor)
	if _, err := g.alerts.Enqueue(ctx, notify.AdminTarget(), text, notify.CategorySecurity, nil); err != nil {
		g.log.Error("lockout alert failed", "member_id", memberID, "error", err)
	}
	g.log.Warn("member locked out", "member_id", memberID, "failures", failures)
}
