package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bookhive/internal/ledger"
	"bookhive/internal/member"
)

// ErrBroadcastRate means a broadcast arrived before the previous one's
// rate window elapsed. The caller can retry later; nothing was submitted.
var ErrBroadcastRate = errors.New("broadcast rate limit exceeded")

// Recorder persists the durable notification record before a job is
// submitted for delivery.
type Recorder interface {
	AddNotification(ctx context.Context, memberID *uuid.UUID, text, category string) (*ledger.Notification, error)
}

// AddressBook resolves members' transport handles.
type AddressBook interface {
	ChatAddress(ctx context.Context, memberID uuid.UUID) (string, error)
	ListAll(ctx context.Context) ([]member.Member, error)
}

// Options configures the dispatcher. Zero values fall back to the
// defaults below.
type Options struct {
	Workers     int
	Retries     int
	Backoff     time.Duration
	SendTimeout time.Duration
	BatchSize   int
	QueueSize   int
	AdminAddr   string

	// IndividualRate caps per-member sends; BroadcastEvery caps how
	// often a broadcast run may start.
	IndividualRate  rate.Limit
	IndividualBurst int
	BroadcastEvery  time.Duration
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 30 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.IndividualRate <= 0 {
		o.IndividualRate = 10
	}
	if o.IndividualBurst <= 0 {
		o.IndividualBurst = 10
	}
	if o.BroadcastEvery <= 0 {
		o.BroadcastEvery = time.Minute
	}
}

// Dispatcher accepts notification jobs, persists their durable records,
// and delivers them through the transport on a worker pool with bounded
// retries. Enqueue never waits for delivery.
type Dispatcher struct {
	recorder  Recorder
	addrs     AddressBook
	transport Transport
	log       *slog.Logger
	opts      Options

	individual *rate.Limiter
	broadcast  *rate.Limiter

	jobs    chan *Job
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewDispatcher starts the worker pool immediately.
func NewDispatcher(recorder Recorder, addrs AddressBook, transport Transport, log *slog.Logger, opts Options) *Dispatcher {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		recorder:   recorder,
		addrs:      addrs,
		transport:  transport,
		log:        log,
		opts:       opts,
		individual: rate.NewLimiter(opts.IndividualRate, opts.IndividualBurst),
		broadcast:  rate.NewLimiter(rate.Every(opts.BroadcastEvery), 1),
		jobs:       make(chan *Job, opts.QueueSize),
		baseCtx:    ctx,
		cancel:     cancel,
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

// Enqueue records the notification durably, then submits the delivery job
// to the worker pool. The returned ID identifies the job, not the record;
// the record survives even if every delivery attempt fails.
func (d *Dispatcher) Enqueue(ctx context.Context, target Target, text, category string, button *Button) (uuid.UUID, error) {
	var memberID *uuid.UUID
	if !target.Admin {
		id := target.MemberID
		memberID = &id
	}
	if _, err := d.recorder.AddNotification(ctx, memberID, text, category); err != nil {
		return uuid.Nil, fmt.Errorf("record notification: %w", err)
	}

	job := &Job{
		ID:        uuid.New(),
		Target:    target,
		Text:      text,
		Category:  category,
		Button:    button,
		CreatedAt: time.Now().UTC(),
	}
	d.submit(job)
	return job.ID, nil
}

// Broadcast fans a message out to every member in fixed-size batches and
// reports a summary to the admin channel. A failure inside one batch does
// not cancel the following batches.
func (d *Dispatcher) Broadcast(ctx context.Context, text string, button *Button) (*BroadcastSummary, error) {
	if !d.broadcast.Allow() {
		return nil, ErrBroadcastRate
	}

	members, err := d.addrs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	summary := &BroadcastSummary{}
	for start := 0; start < len(members); start += d.opts.BatchSize {
		end := min(start+d.opts.BatchSize, len(members))
		for _, m := range members[start:end] {
			if _, err := d.Enqueue(ctx, MemberTarget(m.ID), text, CategoryBroadcast, button); err != nil {
				summary.Skipped++
				d.log.Warn("broadcast enqueue failed",
					"member_id", m.ID, "error", err)
				continue
			}
			summary.Total++
		}
		summary.Batches++
		d.log.Info("broadcast batch submitted",
			"batch", summary.Batches, "size", end-start)
	}

	report := fmt.Sprintf("Broadcast complete: %d notifications submitted in %d batches (%d skipped)",
		summary.Total, summary.Batches, summary.Skipped)
	if _, err := d.Enqueue(ctx, AdminTarget(), report, CategorySystem, nil); err != nil {
		d.log.Warn("broadcast summary enqueue failed", "error", err)
	}
	return summary, nil
}

// QueueDepth reports how many jobs are waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.jobs)
}

// Healthy reports whether the pool is still accepting work.
func (d *Dispatcher) Healthy() bool {
	return d.baseCtx.Err() == nil
}

// Shutdown stops the workers. In-flight retries are interrupted; the
// durable records for any undelivered jobs already exist.
func (d *Dispatcher) Shutdown() {
	d.once.Do(d.cancel)
	d.wg.Wait()
}

func (d *Dispatcher) submit(job *Job) {
	select {
	case d.jobs <- job:
		queueDepth.Inc()
	case <-d.baseCtx.Done():
		d.log.Warn("job dropped, dispatcher stopped", "job_id", job.ID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.baseCtx.Done():
			return
		case job := <-d.jobs:
			queueDepth.Dec()
			d.process(job)
		}
	}
}

func (d *Dispatcher) process(job *Job) {
	addr, err := d.resolveAddr(job.Target)
	if err != nil {
		if errors.Is(err, ErrUnlinkedAccount) || errors.Is(err, member.ErrNotFound) {
			// Terminal: nothing to deliver to. The durable record stands.
			unlinkedTotal.Inc()
			d.log.Warn("recipient has no transport address",
				"job_id", job.ID, "category", job.Category)
			return
		}
		d.log.Error("address resolution failed", "job_id", job.ID, "error", err)
		return
	}

	for job.attempts = 0; job.attempts <= d.opts.Retries; job.attempts++ {
		if job.attempts > 0 {
			retryTotal.Inc()
			select {
			case <-time.After(d.opts.Backoff):
			case <-d.baseCtx.Done():
				return
			}
		}

		if err := d.individual.Wait(d.baseCtx); err != nil {
			return
		}

		sendCtx, cancel := context.WithTimeout(d.baseCtx, d.opts.SendTimeout)
		err := d.transport.Send(sendCtx, addr, job.Text, job.Button)
		cancel()

		if err == nil {
			sentTotal.WithLabelValues(job.Category).Inc()
			return
		}
		if errors.Is(err, ErrUnlinkedAccount) {
			unlinkedTotal.Inc()
			d.log.Warn("recipient unlinked at transport",
				"job_id", job.ID, "error", err)
			return
		}
		d.log.Warn("transport send failed",
			"job_id", job.ID, "attempt", job.attempts+1, "error", err)
	}

	abandonedTotal.Inc()
	d.log.Error("notification abandoned",
		"job_id", job.ID, "category", job.Category, "attempts", job.attempts)
	d.reportAbandoned(job)
}

func (d *Dispatcher) reportAbandoned(job *Job) {
	// System alerts are never escalated again, so a dead admin channel
	// cannot feed itself.
	if job.Category == CategorySystem {
		return
	}
	report := fmt.Sprintf("Notification %s (%s) abandoned after %d attempts",
		job.ID, job.Category, job.attempts)
	if _, err := d.Enqueue(d.baseCtx, AdminTarget(), report, CategorySystem, nil); err != nil {
		d.log.Error("abandonment report failed", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) resolveAddr(t Target) (string, error) {
	if t.Admin {
		if d.opts.AdminAddr == "" {
			return "", ErrUnlinkedAccount
		}
		return d.opts.AdminAddr, nil
	}
	addr, err := d.addrs.ChatAddress(d.baseCtx, t.MemberID)
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "", ErrUnlinkedAccount
	}
	return addr, nil
}
