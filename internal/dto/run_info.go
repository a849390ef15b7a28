package dto

import (
	"encoding/json"
	"time"

	"stereomeasure/internal/model"
)

// RunInfo is a run as listed in the history view.
type RunInfo struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Outcome   string    `json:"outcome"`
	Pairs     int       `json:"pairs"`
	Rejected  int       `json:"rejected"`
	Image     string    `json:"image"`
	Date      time.Time `json:"date"`
	TimeOfDay time.Time `json:"timeOfDay"`
	Objects   []string  `json:"objects"`
}

// NewRunInfo builds the listing entry for a stored run and its measurements.
func NewRunInfo(run model.Run, measurements []model.Measurement) RunInfo {
	objects := make([]string, 0, len(measurements))
	for _, m := range measurements {
		objects = append(objects, m.Object)
	}
	return RunInfo{
		ID:        run.ID,
		Source:    run.Source,
		Outcome:   run.Outcome,
		Pairs:     run.PairCount,
		Rejected:  run.RejectedCount,
		Image:     run.Filename,
		Date:      run.Timestamp,
		TimeOfDay: run.Timestamp,
		Objects:   objects,
	}
}

// MarshalJSON customizes JSON output for RunInfo to format date and time-of-day.
func (r RunInfo) MarshalJSON() ([]byte, error) {
	type Alias RunInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      r.Date.Format("02-01-2006"),
		TimeOfDay: r.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(r),
	})
}
