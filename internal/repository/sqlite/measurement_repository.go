package sqlite

import (
	"fmt"

	"stereomeasure/internal/model"
)

// MeasurementRepository implements repository.MeasurementRepository for SQLite.
type MeasurementRepository struct {
	db *DB
}

// NewMeasurementRepository creates a new SQLite measurement repository.
func NewMeasurementRepository(db *DB) *MeasurementRepository {
	return &MeasurementRepository{db: db}
}

// InsertBatch adds multiple measurements in a single transaction.
func (r *MeasurementRepository) InsertBatch(measurements []model.Measurement) error {
	if len(measurements) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO measurements (run_id, object_name, confidence, depth_cm, width_cm, height_cm, x, y, disparity_px)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range measurements {
		if _, err := stmt.Exec(m.RunID, m.Object, m.Confidence, m.DepthCm, m.WidthCm, m.HeightCm, m.X, m.Y, m.DisparityPx); err != nil {
			return fmt.Errorf("failed to insert measurement: %w", err)
		}
	}

	return tx.Commit()
}

// GetByRunID retrieves the measurements of a run, in the order they were produced.
func (r *MeasurementRepository) GetByRunID(runID int64) ([]model.Measurement, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, run_id, object_name, confidence, depth_cm, width_cm, height_cm, x, y, disparity_px
		FROM measurements WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	measurements := []model.Measurement{}
	for rows.Next() {
		var m model.Measurement
		if err := rows.Scan(&m.ID, &m.RunID, &m.Object, &m.Confidence, &m.DepthCm, &m.WidthCm, &m.HeightCm, &m.X, &m.Y, &m.DisparityPx); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

// GetAllObjectNames returns a list of all unique measured object names.
func (r *MeasurementRepository) GetAllObjectNames() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT object_name FROM measurements ORDER BY object_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}
	defer rows.Close()

	objects := []string{}
	for rows.Next() {
		var obj string
		if err := rows.Scan(&obj); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

// DeleteByRunID removes all measurements for a specific run.
func (r *MeasurementRepository) DeleteByRunID(runID int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM measurements WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete measurements: %w", err)
	}
	return nil
}
