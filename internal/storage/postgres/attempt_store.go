// Package postgres persists the diagnostic run log in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ai-digest/internal/runlog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRunsTable     = "digest_runs"
	DefaultAttemptsTable = "adapter_attempts"
)

// attemptColumns is the number of bind parameters per attempt row.
const attemptColumns = 9

// Config controls the Postgres connection pool used for run-log rows.
type Config struct {
	DSN             string
	RunsTable       string
	AttemptsTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AttemptStore writes run lifecycle rows and adapter attempts.
type AttemptStore struct {
	pool     execCloser
	runs     string
	attempts string
}

// NewAttemptStore connects a pgx pool using cfg.
func NewAttemptStore(ctx context.Context, cfg Config) (*AttemptStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("runlog.postgres_dsn is required")
	}
	runs, attempts, err := tableNames(cfg.RunsTable, cfg.AttemptsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AttemptStore{pool: pool, runs: runs, attempts: attempts}, nil
}

// NewAttemptStoreWithPool constructs a store from an existing pool.
func NewAttemptStoreWithPool(pool execCloser, runsTable, attemptsTable string) (*AttemptStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	runs, attempts, err := tableNames(runsTable, attemptsTable)
	if err != nil {
		return nil, err
	}
	return &AttemptStore{pool: pool, runs: runs, attempts: attempts}, nil
}

func tableNames(runs, attempts string) (string, string, error) {
	if runs == "" {
		runs = DefaultRunsTable
	}
	if attempts == "" {
		attempts = DefaultAttemptsTable
	}
	for _, name := range []string{runs, attempts} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return runs, attempts, nil
}

// Close releases the underlying pool.
func (s *AttemptStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordRun inserts a run row on RUN_START and finalizes it on RUN_DONE or
// RUN_ERROR.
func (s *AttemptStore) RecordRun(ctx context.Context, evt runlog.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attempt store is not configured")
	}
	runID := evt.RunUUID().String()
	switch evt.Stage {
	case runlog.StageRunStart:
		query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status, note)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO NOTHING`, s.runs)
		if _, err := s.pool.Exec(ctx, query, runID, evt.TS, "running", evt.Note); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
	case runlog.StageRunDone, runlog.StageRunError:
		status := evt.Outcome
		if status == "" {
			status = strings.ToLower(string(evt.Stage))
		}
		query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, items = $3, duration_ms = $4, note = $5
WHERE run_id = $6`, s.runs)
		args := []any{evt.TS, status, evt.Items, evt.Dur.Milliseconds(), evt.Note, runID}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}
	default:
		return fmt.Errorf("unexpected run stage %q", evt.Stage)
	}
	return nil
}

// RecordAttempts inserts the batch with a single multi-row statement.
func (s *AttemptStore) RecordAttempts(ctx context.Context, batch []runlog.Event) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("attempt store is not configured")
	}
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s (run_id, ts, account, adapter, outcome, reason, items, duration_ms, note) VALUES `,
		s.attempts)
	args := make([]any, 0, len(batch)*attemptColumns)
	for i, evt := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * attemptColumns
		sb.WriteString("(")
		for c := 1; c <= attemptColumns; c++ {
			if c > 1 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")
		args = append(args,
			evt.RunUUID().String(),
			evt.TS,
			evt.Account,
			evt.Adapter,
			evt.Outcome,
			evt.Reason,
			evt.Items,
			evt.Dur.Milliseconds(),
			evt.Note,
		)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert attempts: %w", err)
	}
	return nil
}
