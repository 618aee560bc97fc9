package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"bookhive/internal/ledger"
	"bookhive/internal/member"
)

type recordedNotification struct {
	memberID *uuid.UUID
	text     string
	category string
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedNotification
}

func (f *fakeRecorder) AddNotification(ctx context.Context, memberID *uuid.UUID, text, category string) (*ledger.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedNotification{memberID: memberID, text: text, category: category})
	return &ledger.Notification{ID: uuid.New(), MemberID: memberID, Text: text, Category: category}, nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeRecorder) byCategory(category string) []recordedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedNotification
	for _, r := range f.records {
		if r.category == category {
			out = append(out, r)
		}
	}
	return out
}

type fakeAddressBook struct {
	addrs   map[uuid.UUID]string
	members []member.Member
}

func (f *fakeAddressBook) ChatAddress(ctx context.Context, memberID uuid.UUID) (string, error) {
	return f.addrs[memberID], nil
}

func (f *fakeAddressBook) ListAll(ctx context.Context) ([]member.Member, error) {
	return f.members, nil
}

type sentMessage struct {
	addr string
	text string
}

type fakeTransport struct {
	mu       sync.Mutex
	failures map[string]int // per-addr count of attempts to fail before succeeding
	attempts int
	sent     []sentMessage
}

func (f *fakeTransport) Send(ctx context.Context, addr, text string, button *Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures[addr] > 0 {
		f.failures[addr]--
		return fmt.Errorf("%w: connection reset", ErrTransport)
	}
	f.sent = append(f.sent, sentMessage{addr: addr, text: text})
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeTransport) firstSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[0]
}

func testOptions() Options {
	return Options{
		Workers:         2,
		Retries:         2,
		Backoff:         time.Millisecond,
		SendTimeout:     time.Second,
		BatchSize:       50,
		AdminAddr:       "admin-channel",
		IndividualRate:  10000,
		IndividualBurst: 10000,
		BroadcastEvery:  time.Nanosecond,
	}
}

func TestEnqueueDeliversAndRecords(t *testing.T) {
	memberID := uuid.New()
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{memberID: "chat-42"}}
	transport := &fakeTransport{}

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())
	defer d.Shutdown()

	jobID, err := d.Enqueue(context.Background(), MemberTarget(memberID), "hello", CategoryLoan, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, jobID)

	require.Eventually(t, func() bool { return transport.sentCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "chat-42", transport.firstSent().addr)
	assert.Equal(t, 1, recorder.count())
}

func TestRetryThenSucceedDeliversExactlyOnce(t *testing.T) {
	memberID := uuid.New()
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{memberID: "chat-42"}}
	transport := &fakeTransport{failures: map[string]int{"chat-42": 2}}

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())
	defer d.Shutdown()

	_, err := d.Enqueue(context.Background(), MemberTarget(memberID), "hello", CategoryLoan, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return transport.sentCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, transport.attemptCount())
	// Retries never create additional durable records.
	assert.Equal(t, 1, recorder.count())
}

func TestAbandonmentReportsToAdmin(t *testing.T) {
	memberID := uuid.New()
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{memberID: "chat-42"}}
	// Member sends always fail; the admin channel works.
	transport := &fakeTransport{failures: map[string]int{"chat-42": 1000}}

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())
	defer d.Shutdown()

	_, err := d.Enqueue(context.Background(), MemberTarget(memberID), "hello", CategoryLoan, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(recorder.byCategory(CategorySystem)) == 1
	}, time.Second, 5*time.Millisecond)

	report := recorder.byCategory(CategorySystem)[0]
	assert.Nil(t, report.memberID)
	assert.Contains(t, report.text, "abandoned")

	// The report itself gets delivered to the admin channel.
	require.Eventually(t, func() bool { return transport.sentCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "admin-channel", transport.firstSent().addr)
}

func TestUnlinkedMemberIsTerminal(t *testing.T) {
	memberID := uuid.New()
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{}} // no chat handle
	transport := &fakeTransport{}

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())

	_, err := d.Enqueue(context.Background(), MemberTarget(memberID), "hello", CategoryLoan, nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	d.Shutdown()

	// Durable record exists, but nothing was ever sent or retried.
	assert.Equal(t, 1, recorder.count())
	assert.Equal(t, 0, transport.attemptCount())
}

func TestBroadcastBatches(t *testing.T) {
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{}}
	for i := 0; i < 120; i++ {
		m := member.Member{ID: uuid.New()}
		addrs.members = append(addrs.members, m)
		addrs.addrs[m.ID] = fmt.Sprintf("chat-%d", i)
	}
	transport := &fakeTransport{}

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())
	defer d.Shutdown()

	summary, err := d.Broadcast(context.Background(), "new arrivals!", nil)
	require.NoError(t, err)
	assert.Equal(t, 120, summary.Total)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 0, summary.Skipped)

	// 120 member records plus the admin summary.
	assert.Len(t, recorder.byCategory(CategoryBroadcast), 120)
	reports := recorder.byCategory(CategorySystem)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].text, "120 notifications")

	require.Eventually(t, func() bool { return transport.sentCount() == 121 },
		5*time.Second, 10*time.Millisecond)
}

func TestBroadcastRateLimitRejectsWithoutBlocking(t *testing.T) {
	recorder := &fakeRecorder{}
	addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{}}
	transport := &fakeTransport{}

	opts := testOptions()
	opts.BroadcastEvery = time.Hour

	d := NewDispatcher(recorder, addrs, transport, slog.Default(), opts)
	defer d.Shutdown()

	_, err := d.Broadcast(context.Background(), "first", nil)
	require.NoError(t, err)

	// A second broadcast inside the window fails immediately instead of
	// stalling the caller until the window elapses.
	started := time.Now()
	_, err = d.Broadcast(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrBroadcastRate)
	assert.Less(t, time.Since(started), time.Second)
}

func TestBroadcastBatchCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 500).Draw(t, "members")

		recorder := &fakeRecorder{}
		addrs := &fakeAddressBook{addrs: map[uuid.UUID]string{}}
		for i := 0; i < n; i++ {
			addrs.members = append(addrs.members, member.Member{ID: uuid.New()})
		}
		transport := &fakeTransport{}

		d := NewDispatcher(recorder, addrs, transport, slog.Default(), testOptions())
		defer d.Shutdown()

		summary, err := d.Broadcast(context.Background(), "hi", nil)
		if err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		if summary.Total != n {
			t.Fatalf("total = %d, want %d", summary.Total, n)
		}
		if want := (n + 49) / 50; summary.Batches != want {
			t.Fatalf("batches = %d, want %d", summary.Batches, want)
		}
	})
}
