package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/ecs-deploy/internal/core/taskdef"
	"github.com/artpar/ecs-deploy/internal/shell/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface
// =============================================================================

// executor is the subset of *sqlx.DB used by the journal queries.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// =============================================================================
// SQLiteJournal
// =============================================================================

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sqlx.DB
}

var _ Journal = (*SQLiteJournal)(nil)

// NewSQLiteJournal opens the journal at dsn and runs migrations.
func NewSQLiteJournal(dsn string) (*SQLiteJournal, error) {
	// Open database connection
	db, err := sqlx.Open("sqlite3", withBusyTimeout(dsn))
	if err != nil {
		return nil, NewStoreError("NewSQLiteJournal", "", "", "failed to open database", ErrConnectionFailed)
	}
	// Workers of deploy-many record concurrently; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteJournal", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteJournal", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteJournal{db: db}, nil
}

func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a deployment_runs row in the database.
type runRow struct {
	RunID            string  `db:"run_id"`
	Action           string  `db:"action"`
	Cluster          string  `db:"cluster"`
	Service          string  `db:"service"`
	Status           string  `db:"status"`
	Revision         int     `db:"revision"`
	FamilyRevision   string  `db:"family_revision"`
	PreviousRevision string  `db:"previous_revision"`
	DesiredCount     int     `db:"desired_count"`
	Changes          string  `db:"changes"`
	Comment          string  `db:"comment"`
	DeployedBy       string  `db:"deployed_by"`
	ErrorMessage     *string `db:"error_message"`
	StartedAt        string  `db:"started_at"`
	FinishedAt       string  `db:"finished_at"`
}

// change is the stored form of a taskdef.Diff.
type change struct {
	Container string `json:"container,omitempty"`
	Field     string `json:"field"`
	Key       string `json:"key,omitempty"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
}

// Record stores a run outcome.
func (s *SQLiteJournal) Record(ctx context.Context, outcome deploy.Outcome) error {
	return recordRun(ctx, s.db, outcome)
}

// GetRun returns a run by ID.
func (s *SQLiteJournal) GetRun(ctx context.Context, runID string) (*Run, error) {
	return getRun(ctx, s.db, runID)
}

// ListRuns returns runs newest first.
func (s *SQLiteJournal) ListRuns(ctx context.Context, filter RunFilter, opts ListOptions) ([]Run, error) {
	return listRuns(ctx, s.db, filter, opts)
}

func recordRun(ctx context.Context, exec executor, outcome deploy.Outcome) error {
	changes := make([]change, 0, len(outcome.Diff))
	for _, d := range outcome.Diff {
		changes = append(changes, change{
			Container: d.Container,
			Field:     d.Field,
			Key:       d.Key,
			OldValue:  d.OldValue,
			NewValue:  d.NewValue,
		})
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return NewStoreError("Record", "run", outcome.RunID, "failed to serialize changes", ErrInvalidData)
	}

	var errorMessage *string
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		errorMessage = &msg
	}

	query := `
		INSERT INTO deployment_runs (
			run_id, action, cluster, service, status,
			revision, family_revision, previous_revision, desired_count,
			changes, comment, deployed_by, error_message, started_at, finished_at
		) VALUES (
			:run_id, :action, :cluster, :service, :status,
			:revision, :family_revision, :previous_revision, :desired_count,
			:changes, :comment, :deployed_by, :error_message, :started_at, :finished_at
		)`

	row := runRow{
		RunID:            outcome.RunID,
		Action:           string(outcome.Action),
		Cluster:          outcome.Cluster,
		Service:          outcome.Service,
		Status:           string(outcome.Status),
		Revision:         outcome.Revision,
		FamilyRevision:   outcome.FamilyRevision,
		PreviousRevision: outcome.PreviousRevision,
		DesiredCount:     outcome.DesiredCount,
		Changes:          string(changesJSON),
		Comment:          outcome.Comment,
		DeployedBy:       outcome.User,
		ErrorMessage:     errorMessage,
		StartedAt:        outcome.StartedAt.UTC().Format(timeLayout),
		FinishedAt:       outcome.FinishedAt.UTC().Format(timeLayout),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployment_runs.run_id") {
			return NewStoreError("Record", "run", outcome.RunID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("Record", "run", outcome.RunID, err.Error(), err)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, runID string) (*Run, error) {
	query := `SELECT * FROM deployment_runs WHERE run_id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", runID, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", runID, err.Error(), err)
	}

	return rowToRun(&row)
}

func listRuns(ctx context.Context, exec executor, filter RunFilter, opts ListOptions) ([]Run, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.Cluster != "" {
		where = append(where, "cluster = ?")
		args = append(args, filter.Cluster)
	}
	if filter.Service != "" {
		where = append(where, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT * FROM deployment_runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	var rows []runRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(&row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, nil
}

func rowToRun(row *runRow) (*Run, error) {
	var changes []change
	if err := json.Unmarshal([]byte(row.Changes), &changes); err != nil {
		return nil, NewStoreError("rowToRun", "run", row.RunID, "failed to deserialize changes", ErrInvalidData)
	}

	startedAt, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.RunID, "invalid started_at", ErrInvalidData)
	}
	finishedAt, err := time.Parse(timeLayout, row.FinishedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.RunID, "invalid finished_at", ErrInvalidData)
	}

	run := &Run{
		RunID:            row.RunID,
		Action:           deploy.Action(row.Action),
		Cluster:          row.Cluster,
		Service:          row.Service,
		Status:           deploy.Status(row.Status),
		Revision:         row.Revision,
		FamilyRevision:   row.FamilyRevision,
		PreviousRevision: row.PreviousRevision,
		DesiredCount:     row.DesiredCount,
		Comment:          row.Comment,
		User:             row.DeployedBy,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
	}
	if row.ErrorMessage != nil {
		run.Error = *row.ErrorMessage
	}
	for _, c := range changes {
		run.Changes = append(run.Changes, taskdef.Diff{
			Container: c.Container,
			Field:     c.Field,
			Key:       c.Key,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
		})
	}

	return run, nil
}
