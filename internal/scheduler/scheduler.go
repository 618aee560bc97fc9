package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookhive/internal/inventory"
	"bookhive/internal/notify"
)

// LoanSource provides the loan scans' view of the inventory store.
type LoanSource interface {
	ListOverdue(ctx context.Context, asOf time.Time) ([]inventory.LoanDetail, error)
	ListDueSoon(ctx context.Context, from, to time.Time) ([]inventory.LoanDetail, error)
}

// Notifier submits fire-and-forget notification jobs.
type Notifier interface {
	Enqueue(ctx context.Context, target notify.Target, text, category string, button *notify.Button) (uuid.UUID, error)
}

// Probe is one named health check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ScanSummary reports one overdue or due-soon run.
type ScanSummary struct {
	Scanned  int           `json:"scanned"`
	Notified int           `json:"notified"`
	Failures int           `json:"failures"`
	Took     time.Duration `json:"took"`
}

// HealthSummary reports one health-check run.
type HealthSummary struct {
	Healthy bool     `json:"healthy"`
	Failing []string `json:"failing,omitempty"`
}

// Scheduler owns the time-driven jobs. Each entry point is idempotent;
// runs do not overlap because cadence, not locking, spaces them out.
type Scheduler struct {
	loans    LoanSource
	notifier Notifier
	probes   []Probe
	backup   *Backup
	log      *slog.Logger

	dueSoonWindow time.Duration
	now           func() time.Time
}

// New creates a scheduler. probes are checked in order on every health run.
func New(loans LoanSource, notifier Notifier, backup *Backup, log *slog.Logger,
	dueSoonWindow time.Duration, probes ...Probe) *Scheduler {
	if dueSoonWindow <= 0 {
		dueSoonWindow = 48 * time.Hour
	}
	return &Scheduler{
		loans:         loans,
		notifier:      notifier,
		probes:        probes,
		backup:        backup,
		log:           log,
		dueSoonWindow: dueSoonWindow,
		now:           time.Now,
	}
}

// Intervals configures the cadence of the background loop.
type Intervals struct {
	Overdue time.Duration
	DueSoon time.Duration
	Health  time.Duration
	Backup  time.Duration
}

// Start runs the time-driven loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context, iv Intervals) {
	overdue := time.NewTicker(iv.Overdue)
	dueSoon := time.NewTicker(iv.DueSoon)
	health := time.NewTicker(iv.Health)
	backup := time.NewTicker(iv.Backup)
	defer overdue.Stop()
	defer dueSoon.Stop()
	defer health.Stop()
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-overdue.C:
			if _, err := s.RunOverdueScan(ctx); err != nil {
				s.log.Error("overdue scan failed", "error", err)
			}
		case <-dueSoon.C:
			if _, err := s.RunDueSoonScan(ctx); err != nil {
				s.log.Error("due-soon scan failed", "error", err)
			}
		case <-health.C:
			s.RunHealthCheck(ctx)
		case <-backup.C:
			if _, err := s.RunBackup(ctx); err != nil {
				s.log.Error("backup failed", "error", err)
			}
		}
	}
}

// RunOverdueScan reminds every member with a loan past due and emits one
// audit line per overdue loan to the admin channel.
func (s *Scheduler) RunOverdueScan(ctx context.Context) (*ScanSummary, error) {
	started := s.now()
	loans, err := s.loans.ListOverdue(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}

	summary := &ScanSummary{Scanned: len(loans)}
	for _, l := range loans {
		days := int(started.Sub(l.DueDate).Hours() / 24)
		text := fmt.Sprintf("%q was due on %s (%d days overdue). Please return it.",
			l.BookTitle, l.DueDate.Format("2006-01-02"), days)
		if _, err := s.notifier.Enqueue(ctx, notify.MemberTarget(l.MemberID), text, notify.CategoryOverdue, nil); err != nil {
			summary.Failures++
			continue
		}
		summary.Notified++

		audit := fmt.Sprintf("Overdue: %q held by %s, due %s",
			l.BookTitle, l.MemberName, l.DueDate.Format("2006-01-02"))
		if _, err := s.notifier.Enqueue(ctx, notify.AdminTarget(), audit, notify.CategoryOverdue, nil); err != nil {
			summary.Failures++
		}
	}
	summary.Took = s.now().Sub(started)
	s.log.Info("overdue scan complete",
		"scanned", summary.Scanned, "notified", summary.Notified, "failures", summary.Failures)
	return summary, nil
}

// RunDueSoonScan reminds members whose loans fall due inside the lookahead
// window, with an extend action button.
func (s *Scheduler) RunDueSoonScan(ctx context.Context) (*ScanSummary, error) {
	started := s.now()
	loans, err := s.loans.ListDueSoon(ctx, started, started.Add(s.dueSoonWindow))
	if err != nil {
		return nil, fmt.Errorf("list due soon: %w", err)
	}

	summary := &ScanSummary{Scanned: len(loans)}
	for _, l := range loans {
		text := fmt.Sprintf("%q is due on %s.", l.BookTitle, l.DueDate.Format("2006-01-02"))
		button := &notify.Button{Label: "Extend", Action: "extend:" + l.ID.String()}
		if _, err := s.notifier.Enqueue(ctx, notify.MemberTarget(l.MemberID), text, notify.CategoryDueSoon, button); err != nil {
			summary.Failures++
			continue
		}
		summary.Notified++
	}
	summary.Took = s.now().Sub(started)
	s.log.Info("due-soon scan complete",
		"scanned", summary.Scanned, "notified", summary.Notified, "failures", summary.Failures)
	return summary, nil
}

// RunHealthCheck probes every subsystem and, on any failure, emits a
// single admin alert summarizing all failing subsystems.
func (s *Scheduler) RunHealthCheck(ctx context.Context) *HealthSummary {
	summary := &HealthSummary{Healthy: true}
	for _, p := range s.probes {
		if err := p.Check(ctx); err != nil {
			summary.Healthy = false
			summary.Failing = append(summary.Failing, fmt.Sprintf("%s: %v", p.Name, err))
		}
	}

	if !summary.Healthy {
		text := "Health check failed: " + strings.Join(summary.Failing, "; ")
		if _, err := s.notifier.Enqueue(ctx, notify.AdminTarget(), text, notify.CategorySystem, nil); err != nil {
			s.log.Error("health alert enqueue failed", "error", err)
		}
		s.log.Warn("health check failed", "failing", summary.Failing)
	}
	return summary
}

// RunBackup dumps the store, notifies the admin channel of the outcome,
// and prunes dumps older than the retention window.
func (s *Scheduler) RunBackup(ctx context.Context) (*BackupSummary, error) {
	summary, err := s.backup.Run(ctx)
	if err != nil {
		text := fmt.Sprintf("Backup failed: %v", err)
		if _, alertErr := s.notifier.Enqueue(ctx, notify.AdminTarget(), text, notify.CategorySystem, nil); alertErr != nil {
			s.log.Error("backup alert enqueue failed", "error", alertErr)
		}
		return nil, err
	}

	text := fmt.Sprintf("Backup complete: %s (%d bytes in %s, %d old dumps pruned)",
		summary.File, summary.Bytes, summary.Took.Round(time.Millisecond), summary.Pruned)
	if _, err := s.notifier.Enqueue(ctx, notify.AdminTarget(), text, notify.CategorySystem, nil); err != nil {
		s.log.Warn("backup summary enqueue failed", "error", err)
	}
	return summary, nil
}
