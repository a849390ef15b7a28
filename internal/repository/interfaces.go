package repository

import (
	"stereomeasure/internal/model"
)

// RunRepository defines the interface for measurement run operations.
type RunRepository interface {
	// Create operations
	Insert(run *model.Run) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Run, error)
	GetAll(filter *model.RunFilter) ([]model.Run, error)
	GetTotalCount(filter *model.RunFilter) (int, error)
	GetSources() ([]string, error)

	// Delete operations
	Delete(id int64) error
	DeleteAll() error
}

// MeasurementRepository defines the interface for measurement data operations.
type MeasurementRepository interface {
	// Create operations
	InsertBatch(measurements []model.Measurement) error

	// Read operations
	GetByRunID(runID int64) ([]model.Measurement, error)
	GetAllObjectNames() ([]string, error)

	// Delete operations
	DeleteByRunID(runID int64) error
}
