package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/logging"
)

// runTimeLayout is fixed width so stored timestamps sort as text
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteNregaRepository implements NregaRepository using SQLite.
// Each record is kept as a JSON document next to the indexed key columns.
type SQLiteNregaRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteNregaRepository creates and initializes a new SQLite repository
func NewSQLiteNregaRepository(dbPath string, logger *zap.Logger) (*SQLiteNregaRepository, error) {
	logger = logging.OrNop(logger).Named("sqlite")
	if dbPath == "" {
		dbPath = filepath.Join("data", "nrega.db")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Annotate(err, "failed to create database directory")
		}
	}

	logger.Info("opening database", zap.String("path", dbPath))
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Annotate(err, "failed to open database")
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS nrega_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		state_key TEXT NOT NULL,
		district_key TEXT NOT NULL,
		district_name TEXT NOT NULL,
		fin_year TEXT,
		month TEXT,
		document TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nrega_state_district ON nrega_data(state_key, district_key);
	CREATE TABLE IF NOT EXISTS refresh_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		fetched INTEGER NOT NULL,
		matched INTEGER NOT NULL,
		stored INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_refresh_runs_started ON refresh_runs(started_at);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "failed to create tables")
	}

	return &SQLiteNregaRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *SQLiteNregaRepository) Close(context.Context) error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection
func (r *SQLiteNregaRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ReplaceStateRecords swaps the state's records inside a single transaction
func (r *SQLiteNregaRepository) ReplaceStateRecords(ctx context.Context, state string, records []entities.NregaRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "failed to begin transaction")
	}

	stateKey := entities.StateKey(state)
	res, err := tx.ExecContext(ctx, `DELETE FROM nrega_data WHERE state_key = ?`, stateKey)
	if err != nil {
		tx.Rollback()
		return errors.Annotatef(err, "failed to delete records for %s", stateKey)
	}
	deleted, _ := res.RowsAffected()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nrega_data(state_key, district_key, district_name, fin_year, month, document)
		VALUES(?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return errors.Annotate(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, rec := range records {
		doc, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return errors.Annotatef(err, "failed to encode record for %s", rec.DistrictName)
		}
		if _, err := stmt.ExecContext(ctx,
			entities.StateKey(rec.StateName),
			entities.DistrictKey(rec.DistrictName),
			rec.DistrictName,
			rec.FinYear,
			rec.Month,
			string(doc),
		); err != nil {
			tx.Rollback()
			return errors.Annotatef(err, "failed to insert record for %s %s %s", rec.DistrictName, rec.FinYear, rec.Month)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Annotate(err, "failed to commit transaction")
	}

	r.logger.Info("replaced state records",
		zap.String("state", stateKey),
		zap.Int64("deleted", deleted),
		zap.Int("inserted", len(records)))
	return nil
}

// FindAll returns every stored record
func (r *SQLiteNregaRepository) FindAll(ctx context.Context) ([]entities.NregaRecord, error) {
	return r.queryDocuments(ctx, `SELECT document FROM nrega_data ORDER BY id`)
}

// FindByState returns the records of one state
func (r *SQLiteNregaRepository) FindByState(ctx context.Context, state string) ([]entities.NregaRecord, error) {
	return r.queryDocuments(ctx,
		`SELECT document FROM nrega_data WHERE state_key = ? ORDER BY id`,
		entities.StateKey(state))
}

// FindByDistrict returns every month stored for the district
func (r *SQLiteNregaRepository) FindByDistrict(ctx context.Context, state, districtKey string) ([]entities.NregaRecord, error) {
	return r.queryDocuments(ctx,
		`SELECT document FROM nrega_data WHERE state_key = ? AND district_key = ? ORDER BY id`,
		entities.StateKey(state), districtKey)
}

// DistinctDistricts returns the district names of the state in alphabetical order
func (r *SQLiteNregaRepository) DistinctDistricts(ctx context.Context, state string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT district_key FROM nrega_data WHERE state_key = ? ORDER BY district_key`,
		entities.StateKey(state))
	if err != nil {
		return nil, errors.Annotate(err, "failed to query districts")
	}
	defer rows.Close()

	var districts []string
	for rows.Next() {
		var district string
		if err := rows.Scan(&district); err != nil {
			return nil, errors.Annotate(err, "failed to scan row")
		}
		districts = append(districts, district)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "error during row iteration")
	}
	return districts, nil
}

// SaveRefreshRun stores the outcome of a refresh run
func (r *SQLiteNregaRepository) SaveRefreshRun(ctx context.Context, run entities.RefreshRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_runs(id, started_at, finished_at, fetched, matched, stored, status, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		finished_at=excluded.finished_at,
		fetched=excluded.fetched,
		matched=excluded.matched,
		stored=excluded.stored,
		status=excluded.status,
		error=excluded.error`,
		run.ID,
		run.StartedAt.UTC().Format(runTimeLayout),
		run.FinishedAt.UTC().Format(runTimeLayout),
		run.Fetched,
		run.Matched,
		run.Stored,
		run.Status,
		run.Error,
	)
	if err != nil {
		return errors.Annotatef(err, "failed to save refresh run %s", run.ID)
	}
	return nil
}

// LastRefreshRun returns the most recently started refresh run
func (r *SQLiteNregaRepository) LastRefreshRun(ctx context.Context) (entities.RefreshRun, error) {
	var (
		run                 entities.RefreshRun
		startedAt, finished string
		errMsg              sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, fetched, matched, stored, status, error
		FROM refresh_runs
		ORDER BY started_at DESC
		LIMIT 1`).Scan(
		&run.ID, &startedAt, &finished, &run.Fetched, &run.Matched, &run.Stored, &run.Status, &errMsg,
	)
	if err == sql.ErrNoRows {
		return entities.RefreshRun{}, errors.NotFoundf("refresh run")
	}
	if err != nil {
		return entities.RefreshRun{}, errors.Annotate(err, "failed to get last refresh run")
	}

	if run.StartedAt, err = time.Parse(runTimeLayout, startedAt); err != nil {
		return entities.RefreshRun{}, errors.Annotatef(err, "failed to parse timestamp %q", startedAt)
	}
	if run.FinishedAt, err = time.Parse(runTimeLayout, finished); err != nil {
		return entities.RefreshRun{}, errors.Annotatef(err, "failed to parse timestamp %q", finished)
	}
	run.Error = errMsg.String
	return run, nil
}

func (r *SQLiteNregaRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]entities.NregaRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Annotate(err, "failed to query records")
	}
	defer rows.Close()

	result := []entities.NregaRecord{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Annotate(err, "failed to scan row")
		}
		var rec entities.NregaRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, errors.Annotate(err, "failed to decode record")
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "error during row iteration")
	}
	return result, nil
}
