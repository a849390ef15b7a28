package sqlite

import (
	"database/sql"
	"fmt"

	"stereomeasure/internal/model"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `r.id, r.source, r.outcome, r.left_count, r.right_count, r.pair_count, r.rejected_count,
	r.filename, r.filepath, r.filesize, r.timestamp`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (model.Run, error) {
	var run model.Run
	err := s.Scan(&run.ID, &run.Source, &run.Outcome, &run.LeftCount, &run.RightCount, &run.PairCount, &run.RejectedCount,
		&run.Filename, &run.FilePath, &run.FileSize, &run.Timestamp)
	return run, err
}

// Insert adds a new run record to the database.
func (r *RunRepository) Insert(run *model.Run) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO runs (source, outcome, left_count, right_count, pair_count, rejected_count, filename, filepath, filesize, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Source, run.Outcome, run.LeftCount, run.RightCount, run.PairCount, run.RejectedCount,
		run.Filename, run.FilePath, run.FileSize, run.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a run by its ID. Returns nil, nil when the run does not exist.
func (r *RunRepository) GetByID(id int64) (*model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	run, err := scanRun(r.db.Conn().QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// where builds the shared WHERE clause for GetAll and GetTotalCount.
func (r *RunRepository) where(filter *model.RunFilter) (string, []interface{}) {
	query := ` WHERE 1=1`
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Source != "" {
		query += " AND r.source = ?"
		args = append(args, filter.Source)
	}

	if filter.Object != "" {
		query += " AND EXISTS (SELECT 1 FROM measurements m WHERE m.run_id = r.id AND m.object_name = ?)"
		args = append(args, filter.Object)
	}

	if !filter.DateAfter.IsZero() {
		query += " AND DATE(r.timestamp) >= DATE(?)"
		args = append(args, filter.DateAfter.UTC())
	}

	if !filter.DateBefore.IsZero() {
		query += " AND DATE(r.timestamp) <= DATE(?)"
		args = append(args, filter.DateBefore.UTC())
	}
	return query, args
}

// GetAll retrieves runs matching the filter, newest first.
func (r *RunRepository) GetAll(filter *model.RunFilter) ([]model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := r.where(filter)
	query := `SELECT ` + runColumns + ` FROM runs r` + where + ` ORDER BY r.timestamp DESC, r.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTotalCount returns the number of runs matching the filter, ignoring Limit and Offset.
func (r *RunRepository) GetTotalCount(filter *model.RunFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := r.where(filter)
	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs r`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// GetSources returns a list of unique run sources.
func (r *RunRepository) GetSources() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT source FROM runs ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	sources := []string{}
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// Delete removes a run and its measurements.
func (r *RunRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM measurements WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete measurements: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteAll removes all runs and their measurements.
func (r *RunRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM measurements`); err != nil {
		return fmt.Errorf("failed to delete measurements: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}
	return nil
}
