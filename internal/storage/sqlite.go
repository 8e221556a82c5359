package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"jobsched/internal/task/scheduler"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultAuditKeep = 10000

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	keep       int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.AuditKeep
	if keep <= 0 {
		keep = defaultAuditKeep
	}
	st := &sqliteStore{db: db, log: log, keep: keep, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveState(ctx context.Context, st scheduler.State) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	savedAt := st.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO scheduler_meta(id, mode, saved_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET mode=excluded.mode, saved_at=excluded.saved_at`,
		st.Mode.String(), formatTime(savedAt),
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM job_state`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_state(grp, name, state, prev_fire, fires, errors, overruns, consecutive_failures, last_error)
		 VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, j := range st.Jobs {
		if _, err = stmt.ExecContext(ctx,
			j.Group, j.Name, j.State.String(), nullTime(j.PrevFire),
			int64(j.Fires), int64(j.Errors), int64(j.Overruns), j.ConsecutiveFailures, nullStr(j.LastError),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadState(ctx context.Context) (scheduler.State, bool, error) {
	var (
		st            scheduler.State
		mode, savedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT mode, saved_at FROM scheduler_meta WHERE id = 1`).Scan(&mode, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.State{}, false, nil
	}
	if err != nil {
		return scheduler.State{}, false, err
	}
	if err := st.Mode.UnmarshalText([]byte(mode)); err != nil {
		return scheduler.State{}, false, err
	}
	st.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT grp, name, state, prev_fire, fires, errors, overruns, consecutive_failures, last_error
		 FROM job_state ORDER BY grp, name`)
	if err != nil {
		return scheduler.State{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			j                     scheduler.JobState
			state                 string
			prev, lastErr         sql.NullString
			fires, errs, overruns int64
		)
		if err := rows.Scan(&j.Group, &j.Name, &state, &prev, &fires, &errs, &overruns, &j.ConsecutiveFailures, &lastErr); err != nil {
			return scheduler.State{}, false, err
		}
		ts, err := trigger.ParseState(state)
		if err != nil {
			return scheduler.State{}, false, fmt.Errorf("job %s.%s: %w", j.Group, j.Name, err)
		}
		j.State = ts
		if prev.Valid {
			j.PrevFire, _ = time.Parse(time.RFC3339Nano, prev.String)
		}
		j.Fires, j.Errors, j.Overruns = uint64(fires), uint64(errs), uint64(overruns)
		j.LastError = lastErr.String
		st.Jobs = append(st.Jobs, j)
	}
	if err := rows.Err(); err != nil {
		return scheduler.State{}, false, err
	}
	return st, true, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	e = normalizeAudit(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, op, job, detail, err) VALUES(?,?,?,?,?,?)`,
		e.ID, formatTime(e.At), e.Op, nullStr(e.Job), nullStr(e.Detail), nullStr(e.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneAudit(pctx); perr != nil {
			s.log.Debug("audit prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, op, job, detail, err FROM
		   (SELECT seq, id, at, op, job, detail, err FROM audit ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e                 AuditEntry
			at                string
			job, detail, errS sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Op, &job, &detail, &errS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Job, e.Detail, e.Error = job.String, detail.String, errS.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit WHERE seq <= (SELECT MAX(seq) FROM audit) - ?`, s.keep)
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
