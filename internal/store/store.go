// Package store keeps a SQLite history of completed runs: the chosen plan,
// every plan value and every gap, keyed by run ID.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"firerisk/internal/gap"
	"firerisk/internal/store/migrations"
)

var (
	// ErrNotFound is returned when a run ID is unknown.
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyExists is returned when saving a run ID twice.
	ErrAlreadyExists = errors.New("run already exists")
)

// Run is the summary row of one completed run.
type Run struct {
	ID        string
	CreatedAt time.Time
	Horizon   int
	GapPolicy string
	// Scenario, Plan and Value describe the chosen plan. Plan is 1-based.
	Scenario string
	Plan     int
	Value    float64
}

// PlanValue is one plan's result within a scenario. Plan is 1-based.
type PlanValue struct {
	Scenario        string
	Plan            int
	Value           float64
	DiscountedValue float64
	TotalBiomass    float64
	Objective       gap.Float
	GapCells        int
}

// Gap is one (plan, period) that had no burn samples.
type Gap struct {
	Scenario string
	Plan     int
	Period   int
	Reason   string
}

// Record is everything saved for one run.
type Record struct {
	Run    Run
	Values []PlanValue
	Gaps   []Gap
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Store persists run history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the SQLite database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRun inserts a run with its plan values and gaps in one transaction.
func (s *Store) SaveRun(ctx context.Context, rec Record) (err error) {
	run := rec.Run
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, horizon, gap_policy, scenario, plan, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, toMillis(run.CreatedAt), run.Horizon, run.GapPolicy, run.Scenario, run.Plan, run.Value,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, run.ID)
		}
		return fmt.Errorf("insert run: %w", err)
	}

	for _, v := range rec.Values {
		var objective sql.NullFloat64
		if x, ok := v.Objective.Get(); ok {
			objective = sql.NullFloat64{Float64: x, Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO plan_values (run_id, scenario, plan, value, discounted_value, total_biomass, objective, gap_cells)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, v.Scenario, v.Plan, v.Value, v.DiscountedValue, v.TotalBiomass, objective, v.GapCells,
		); err != nil {
			return fmt.Errorf("insert plan value %s/%d: %w", v.Scenario, v.Plan, err)
		}
	}

	for _, g := range rec.Gaps {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO gaps (run_id, scenario, plan, period, reason) VALUES (?, ?, ?, ?, ?)`,
			run.ID, g.Scenario, g.Plan, g.Period, g.Reason,
		); err != nil {
			return fmt.Errorf("insert gap %s/%d/%d: %w", g.Scenario, g.Plan, g.Period, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save run: %w", err)
	}
	return nil
}

// GetRun returns one run summary.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, created_at, horizon, gap_policy, scenario, plan, value FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, created_at, horizon, gap_policy, scenario, plan, value FROM runs
		 ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PlanValues returns the plan values of a run ordered by scenario and plan.
func (s *Store) PlanValues(ctx context.Context, id string) ([]PlanValue, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT scenario, plan, value, discounted_value, total_biomass, objective, gap_cells
		 FROM plan_values WHERE run_id = ? ORDER BY scenario, plan`, id)
	if err != nil {
		return nil, fmt.Errorf("plan values %s: %w", id, err)
	}
	defer rows.Close()

	var out []PlanValue
	for rows.Next() {
		var (
			v         PlanValue
			objective sql.NullFloat64
		)
		if err := rows.Scan(&v.Scenario, &v.Plan, &v.Value, &v.DiscountedValue, &v.TotalBiomass, &objective, &v.GapCells); err != nil {
			return nil, fmt.Errorf("scan plan value: %w", err)
		}
		if objective.Valid {
			v.Objective = gap.Some(objective.Float64)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Gaps returns the gaps of a run ordered by scenario, plan and period.
func (s *Store) Gaps(ctx context.Context, id string) ([]Gap, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT scenario, plan, period, reason FROM gaps WHERE run_id = ?
		 ORDER BY scenario, plan, period`, id)
	if err != nil {
		return nil, fmt.Errorf("gaps %s: %w", id, err)
	}
	defer rows.Close()

	var out []Gap
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.Scenario, &g.Plan, &g.Period, &g.Reason); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run     Run
		created int64
	)
	if err := row.Scan(&run.ID, &created, &run.Horizon, &run.GapPolicy, &run.Scenario, &run.Plan, &run.Value); err != nil {
		return Run{}, err
	}
	run.CreatedAt = fromMillis(created)
	return run, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
