package storage

import (
	"context"
	"fmt"
	"strings"

	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	// SaveState replaces the stored snapshot.
	SaveState(ctx context.Context, st scheduler.State) error
	// LoadState returns the stored snapshot; ok is false when none was saved.
	LoadState(ctx context.Context) (st scheduler.State, ok bool, err error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest last.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required for %s driver", driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
