package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/mysql-service/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultListLimit = 20

// SQLiteStore is the run journal.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	// Path is the database file; ":memory:" keeps the journal in memory.
	Path string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database, creating its directory, and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	memory := s.path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun journals a run report and its step records in one transaction.
// runErr is the error Converge returned, if any.
func (s *SQLiteStore) SaveRun(ctx context.Context, report *engine.RunReport, meta RunMeta, runErr error) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}

	descriptor := []byte("{}")
	if meta.Descriptor != nil {
		var err error
		if descriptor, err = json.Marshal(meta.Descriptor); err != nil {
			return fmt.Errorf("failed to encode descriptor: %w", err)
		}
	}

	var errKind, errStep, errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
		var ce *engine.ConvergenceError
		if errors.As(runErr, &ce) {
			errKind = sql.NullString{String: string(ce.Kind), Valid: true}
			errStep = sql.NullString{String: ce.Step, Valid: ce.Step != ""}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, service_name, action, host, status, dry_run, started_at, completed_at,
			changed, collapsed, error_kind, error_step, error_message, descriptor
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		meta.ServiceName,
		meta.Action,
		meta.Host,
		string(report.Status),
		report.DryRun,
		report.StartedAt.UnixNano(),
		report.CompletedAt.UnixNano(),
		report.Changed(),
		report.Collapsed,
		errKind,
		errStep,
		errMsg,
		string(descriptor),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_records (
			run_id, sequence, step_id, kind, action, outcome, via, notified_by, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range report.Records {
		_, err := stmt.ExecContext(ctx,
			report.RunID,
			rec.Sequence,
			rec.StepID,
			string(rec.Kind),
			string(rec.Action),
			string(rec.Outcome),
			string(rec.Via),
			nullString(rec.NotifiedBy),
			rec.Duration.Milliseconds(),
			nullString(rec.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step record %d: %w", rec.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `
	id, service_name, action, host, status, dry_run, started_at, completed_at,
	changed, collapsed, error_kind, error_step, error_message, descriptor`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                      Run
		status                   string
		started, completed       int64
		errKind, errStep, errMsg sql.NullString
		descriptor               string
	)
	err := row.Scan(
		&run.ID,
		&run.ServiceName,
		&run.Action,
		&run.Host,
		&status,
		&run.DryRun,
		&started,
		&completed,
		&run.Changed,
		&run.Collapsed,
		&errKind,
		&errStep,
		&errMsg,
		&descriptor,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	run.CompletedAt = time.Unix(0, completed).UTC()
	run.ErrorKind = engine.ErrorKind(errKind.String)
	run.ErrorStep = errStep.String
	run.ErrorMessage = errMsg.String
	run.Descriptor = json.RawMessage(descriptor)
	return &run, nil
}

// GetRun retrieves a run and its step records by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, step_id, kind, action, outcome, via, notified_by, duration_ms, error
		FROM step_records
		WHERE run_id = ?
		ORDER BY sequence
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get step records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                        engine.StepRecord
			kind, action, outcome, via string
			notifiedBy, stepErr        sql.NullString
			durationMS                 int64
		)
		if err := rows.Scan(&rec.Sequence, &rec.StepID, &kind, &action, &outcome, &via, &notifiedBy, &durationMS, &stepErr); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		rec.Kind = engine.StepKind(kind)
		rec.Action = engine.Action(action)
		rec.Outcome = engine.Outcome(outcome)
		rec.Via = engine.Via(via)
		rec.NotifiedBy = notifiedBy.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Error = stepErr.String
		run.Steps = append(run.Steps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest first, without step records.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if opts.ServiceName != "" {
		query += ` WHERE service_name = ?`
		args = append(args, opts.ServiceName)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// LastRun returns the newest run of an instance.
func (s *SQLiteStore) LastRun(ctx context.Context, serviceName string) (*Run, error) {
	runs, err := s.ListRuns(ctx, ListOptions{ServiceName: serviceName, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no runs for %s", ErrNotFound, serviceName)
	}
	return runs[0], nil
}

// Prune deletes all but the newest keep runs of every instance and returns
// the number of runs deleted.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY service_name ORDER BY started_at DESC) AS rn
				FROM runs
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
