package loginguard

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookhive/internal/member"
	"bookhive/internal/notify"
)

type fakeMembers struct {
	mu        sync.Mutex
	cred      *member.Credential
	m         *member.Member
	credCalls int
}

func (f *fakeMembers) Get(ctx context.Context, id uuid.UUID) (*member.Member, error) {
	if f.m == nil {
		return nil, member.ErrNotFound
	}
	return f.m, nil
}

func (f *fakeMembers) GetCredential(ctx context.Context, memberID uuid.UUID) (*member.Credential, error) {
	f.mu.Lock()
	f.credCalls++
	f.mu.Unlock()
	if f.cred == nil {
		return nil, member.ErrNotFound
	}
	return f.cred, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (f *fakeAlerter) Enqueue(ctx context.Context, target notify.Target, text, category string, button *notify.Button) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, text)
	return uuid.New(), nil
}

func newTestGuard(t *testing.T, password string) (*Guard, *fakeMembers, *fakeAlerter, uuid.UUID) {
	t.Helper()

	hash, salt, err := member.HashPassword(password)
	require.NoError(t, err)

	memberID := uuid.New()
	members := &fakeMembers{
		cred: &member.Credential{MemberID: memberID, PasswordHash: hash, Salt: salt},
		m:    &member.Member{ID: memberID, Email: "reader@example.com"},
	}
	alerts := &fakeAlerter{}
	guard := NewGuard(members, alerts, slog.Default(), 3, 15*time.Minute)
	return guard, members, alerts, memberID
}

func TestCheckLoginSuccess(t *testing.T) {
	guard, _, _, memberID := newTestGuard(t, "correct horse")

	result, err := guard.CheckLogin(context.Background(), memberID, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
}

func TestCheckLoginCountsDownAttempts(t *testing.T) {
	guard, _, _, memberID := newTestGuard(t, "secret")

	result, err := guard.CheckLogin(context.Background(), memberID, "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 2, result.AttemptsRemaining)

	result, err = guard.CheckLogin(context.Background(), memberID, "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 1, result.AttemptsRemaining)
}

func TestCheckLoginLocksAfterThreshold(t *testing.T) {
	guard, members, alerts, memberID := newTestGuard(t, "secret")

	for i := 0; i < 2; i++ {
		_, err := guard.CheckLogin(context.Background(), memberID, "wrong")
		require.NoError(t, err)
	}

	result, err := guard.CheckLogin(context.Background(), memberID, "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, result.Outcome)
	assert.Equal(t, 15*time.Minute, result.LockedFor)

	// Locked attempts short-circuit without touching the store, even with
	// the right password.
	callsBefore := members.credCalls
	result, err = guard.CheckLogin(context.Background(), memberID, "secret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, result.Outcome)
	assert.Greater(t, result.LockedFor, time.Duration(0))
	assert.Equal(t, callsBefore, members.credCalls)

	// Lockout emits one admin security alert.
	require.Len(t, alerts.alerts, 1)
	assert.Contains(t, alerts.alerts[0], "reader@example.com")
	assert.Contains(t, alerts.alerts[0], "3 failed login attempts")
}

func TestCheckLoginSuccessResetsCounter(t *testing.T) {
	guard, _, _, memberID := newTestGuard(t, "secret")

	for i := 0; i < 2; i++ {
		_, err := guard.CheckLogin(context.Background(), memberID, "wrong")
		require.NoError(t, err)
	}

	result, err := guard.CheckLogin(context.Background(), memberID, "secret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)

	// Counter is back at zero: three more attempts before the next lock.
	result, err = guard.CheckLogin(context.Background(), memberID, "wrong")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, 2, result.AttemptsRemaining)
}

func TestLockoutExpires(t *testing.T) {
	guard, _, _, memberID := newTestGuard(t, "secret")

	now := time.Now()
	guard.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := guard.CheckLogin(context.Background(), memberID, "wrong")
		require.NoError(t, err)
	}

	result, err := guard.CheckLogin(context.Background(), memberID, "secret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, result.Outcome)

	now = now.Add(16 * time.Minute)

	result, err = guard.CheckLogin(context.Background(), memberID, "secret")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
}

func TestCheckLoginUnknownMember(t *testing.T) {
	guard := NewGuard(&fakeMembers{}, &fakeAlerter{}, slog.Default(), 3, time.Minute)

	_, err := guard.CheckLogin(context.Background(), uuid.New(), "whatever")
	require.ErrorIs(t, err, member.ErrNotFound)
}
