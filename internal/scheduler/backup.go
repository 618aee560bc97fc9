package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// dumpedTables is the full durable state of the system.
var dumpedTables = []string{
	"books", "loans", "reservations", "ratings",
	"activity_log", "notifications", "members",
}

// BackupSummary reports one backup run.
type BackupSummary struct {
	File   string        `json:"file"`
	Bytes  int64         `json:"bytes"`
	Took   time.Duration `json:"took"`
	Pruned int           `json:"pruned"`
}

// Backup produces full JSON dumps of the store and prunes old ones.
type Backup struct {
	db        *sqlx.DB
	dir       string
	retention time.Duration
	log       *slog.Logger
}

// NewBackup creates a backup runner writing into dir.
func NewBackup(db *sqlx.DB, dir string, retention time.Duration, log *slog.Logger) *Backup {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Backup{db: db, dir: dir, retention: retention, log: log}
}

// Run dumps every table into one timestamped JSON file and removes dumps
// older than the retention window.
func (b *Backup) Run(ctx context.Context) (*BackupSummary, error) {
	started := time.Now()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	dump := make(map[string]json.RawMessage, len(dumpedTables))
	for _, table := range dumpedTables {
		var rows json.RawMessage
		query := fmt.Sprintf(`SELECT COALESCE(json_agg(t), '[]'::json) FROM %s t`, table)
		if err := b.db.GetContext(ctx, &rows, query); err != nil {
			return nil, fmt.Errorf("dump %s: %w", table, err)
		}
		dump[table] = rows
	}

	payload, err := json.Marshal(dump)
	if err != nil {
		return nil, fmt.Errorf("marshal dump: %w", err)
	}

	name := fmt.Sprintf("bookhive-%s.json", started.UTC().Format("20060102T150405"))
	path := filepath.Join(b.dir, name)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return nil, fmt.Errorf("write dump: %w", err)
	}

	pruned, err := b.prune(started)
	if err != nil {
		// The dump itself succeeded; report pruning trouble separately.
		b.log.Warn("backup prune failed", "error", err)
	}

	return &BackupSummary{
		File:   name,
		Bytes:  int64(len(payload)),
		Took:   time.Since(started),
		Pruned: pruned,
	}, nil
}

func (b *Backup) prune(now time.Time) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	pruned := 0
	cutoff := now.Add(-b.retention)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "bookhive-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(b.dir, entry.Name())); err != nil {
				b.log.Warn("prune remove failed", "file", entry.Name(), "error", err)
				continue
			}
			pruned++
		}
	}
	return pruned, nil
}
