// Package store persists pipeline runs, their GLASS records, validation
// issues and audit events in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	Standard      string     `json:"standard"`
	Version       string     `json:"version"`
	Status        RunStatus  `json:"status"`
	InputRows     int        `json:"input_rows"`
	Duplicates    int        `json:"duplicates"`
	OutputRecords int        `json:"output_records"`
	ErrorCount    int        `json:"error_count"`
	WarningCount  int        `json:"warning_count"`
	Passed        bool       `json:"passed"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// RunOutcome is what a finished run reports back.
type RunOutcome struct {
	Status        RunStatus
	Duplicates    int
	OutputRecords int
	Report        core.ValidationReport
	Error         string
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open parses cfg, connects and pings the database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

// CreateRun inserts a run in the running state.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, source, standard, version, status, input_rows, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Source, run.Standard, run.Version, string(RunRunning), run.InputRows, run.CreatedAt,
	)
	return classify(err)
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, out RunOutcome) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pipeline_runs
		SET status = $2, duplicates = $3, output_records = $4,
		    error_count = $5, warning_count = $6, passed = $7,
		    error = $8, finished_at = now()
		WHERE id = $1`,
		id, string(out.Status), out.Duplicates, out.OutputRecords,
		out.Report.ErrorCount, out.Report.WarningCount, out.Report.Passed, out.Error,
	)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	var (
		run      Run
		status   string
		finished pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, source, standard, version, status, input_rows, duplicates,
		       output_records, error_count, warning_count, passed, error,
		       created_at, finished_at
		FROM pipeline_runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.Source, &run.Standard, &run.Version, &status, &run.InputRows, &run.Duplicates,
		&run.OutputRecords, &run.ErrorCount, &run.WarningCount, &run.Passed, &run.Error,
		&run.CreatedAt, &finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, classify(err)
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// SaveResult stores the records and issues of a run in one transaction.
func (s *Store) SaveResult(ctx context.Context, runID string, records []core.GlassRecord, issues []core.ValidationIssue) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := copyGlassRecords(ctx, tx, runID, records); err != nil {
		return err
	}
	if err := insertIssues(ctx, tx, runID, issues); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// glassRecordColumns is the COPY column list, in GlassRecord.Values order.
var glassRecordColumns = []string{
	"run_id", "seq",
	"country", "specimen_date", "specimen", "organism", "antibiotic",
	"interpretation", "age", "sex", "patient_type", "ward",
}

// copyRow converts a record to COPY values.
func copyRow(runID pgtype.UUID, seq int, rec core.GlassRecord) []any {
	row := make([]any, 0, len(glassRecordColumns))
	row = append(row, runID, int32(seq))
	for _, v := range rec.Values() {
		row = append(row, v)
	}
	return row
}

func copyGlassRecords(ctx context.Context, tx pgx.Tx, runID string, records []core.GlassRecord) (int64, error) {
	id, err := toPgUUID(runID)
	if err != nil {
		return 0, err
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"glass_records"},
		glassRecordColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return copyRow(id, i, records[i]), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy glass records: %w", classify(err))
	}
	return n, nil
}

func insertIssues(ctx context.Context, tx pgx.Tx, runID string, issues []core.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, is := range issues {
		rows := is.Rows
		if rows == nil {
			rows = []int{}
		}
		cols := is.Columns
		if cols == nil {
			cols = []string{}
		}
		batch.Queue(`
			INSERT INTO validation_issues (run_id, seq, severity, kind, rows, columns, message)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			runID, i, string(is.Severity), is.Kind, rows, cols, is.Message,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert issues: %w", classify(err))
	}
	return nil
}

// ListRecords returns a page of a run's records in export order.
func (s *Store) ListRecords(ctx context.Context, runID string, limit, offset int) ([]core.GlassRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT country, specimen_date, specimen, organism, antibiotic,
		       interpretation, age, sex, patient_type, ward
		FROM glass_records WHERE run_id = $1
		ORDER BY seq LIMIT $2 OFFSET $3`, runID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []core.GlassRecord
	for rows.Next() {
		var (
			rec    core.GlassRecord
			interp string
		)
		if err := rows.Scan(&rec.Country, &rec.SpecimenDate, &rec.Specimen, &rec.Organism, &rec.Antibiotic,
			&interp, &rec.Age, &rec.Sex, &rec.PatientType, &rec.Ward); err != nil {
			return nil, err
		}
		rec.Interpretation = core.Interpretation(interp)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListIssues returns the validation issues stored for a run.
func (s *Store) ListIssues(ctx context.Context, runID string) ([]core.ValidationIssue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT severity, kind, rows, columns, message
		FROM validation_issues WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []core.ValidationIssue
	for rows.Next() {
		var (
			is  core.ValidationIssue
			sev string
		)
		if err := rows.Scan(&sev, &is.Kind, &is.Rows, &is.Columns, &is.Message); err != nil {
			return nil, err
		}
		is.Severity = core.Severity(sev)
		out = append(out, is)
	}
	return out, rows.Err()
}

// PurgeRunsOlderThan deletes runs created more than days ago along with
// their records and issues. It returns the number of runs removed.
func (s *Store) PurgeRunsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pipeline_runs WHERE created_at < now() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// ----------------------------------------------------------------------------
// Audit events
// ----------------------------------------------------------------------------

// InsertAuditEvent implements audit.EventStore.
func (s *Store) InsertAuditEvent(ctx context.Context, e audit.Event) error {
	var payload []byte
	if e.Payload != nil {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("encode audit payload %s: %w", e.Type, err)
		}
	}
	runID, _ := toPgUUID(e.RunID)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, type, severity, run_id, ip_address, user_agent, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Type), string(e.Severity), runID, e.IPAddress, e.UserAgent, payload, e.CreatedAt,
	)
	return classify(err)
}

// toPgUUID converts a string ID. An empty string is a NULL UUID.
func toPgUUID(s string) (pgtype.UUID, error) {
	if s == "" {
		return pgtype.UUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}

// classify adds the wording core.MapError keys on to Postgres errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("duplicate key: %w", err)
		case "23503":
			return fmt.Errorf("foreign key violation: %w", err)
		case "40P01":
			return fmt.Errorf("deadlock detected: %w", err)
		}
	}
	return err
}
