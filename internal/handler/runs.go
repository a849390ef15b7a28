package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/model"
	"stereomeasure/internal/repository"
	"stereomeasure/internal/service/storage"
)

// GetRunsHandler returns a filtered, paginated list of stored runs.
func GetRunsHandler(logger *logger.Logger, runRepo repository.RunRepository, measurementRepo repository.MeasurementRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.RunFilter{
			Source:     q.Get("source"),
			Object:     q.Get("object"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		runs, err := runRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying runs from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := runRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting runs: %v", err)
			totalCount = len(runs)
		}

		infos := make([]dto.RunInfo, 0, len(runs))
		for _, run := range runs {
			measurements, err := measurementRepo.GetByRunID(run.ID)
			if err != nil {
				logger.Error("Error getting measurements for run %d: %v", run.ID, err)
				measurements = nil
			}
			infos = append(infos, dto.NewRunInfo(run, measurements))
		}

		objects, err := measurementRepo.GetAllObjectNames()
		if err != nil {
			logger.Error("Error getting object names: %v", err)
		}
		sources, err := runRepo.GetSources()
		if err != nil {
			logger.Error("Error getting sources: %v", err)
		}

		data := dto.RunsData{
			Runs:        infos,
			Objects:     objects,
			Sources:     sources,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// runID reads the "id" query parameter; it writes a 400 and returns false when it is missing or malformed.
func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Run id required", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// RunReportHandler serves the JSON report of a stored run as a download.
func RunReportHandler(logger *logger.Logger, results *storage.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}

		run, measurements, err := results.Get(id)
		if err != nil {
			logger.Error("Error loading run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="`+dto.ReportFilename(run.Timestamp.In(time.Local))+`"`)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(dto.NewStoredReport(*run, measurements)); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// RunImageHandler serves the annotated image of a stored run.
func RunImageHandler(logger *logger.Logger, results *storage.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := runID(w, r)
		if !ok {
			return
		}

		run, _, err := results.Get(id)
		if err != nil {
			logger.Error("Error loading run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		path, err := results.ImagePath(run.Filename)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

// DeleteRunHandler removes a run, its measurements and its image.
func DeleteRunHandler(logger *logger.Logger, results *storage.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, ok := runID(w, r)
		if !ok {
			return
		}

		if err := results.Delete(id); err != nil {
			if os.IsNotExist(err) {
				http.NotFound(w, r)
				return
			}
			logger.Error("Failed to delete run %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted run: %d", id)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "deleted", "id": id})
	}
}

// ClearRunsHandler deletes every run and stored image.
func ClearRunsHandler(logger *logger.Logger, results *storage.ResultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := results.Clear(); err != nil {
			logger.Error("Error clearing runs: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("All runs cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
