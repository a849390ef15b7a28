package dto

import (
	"fmt"
	"time"

	"stereomeasure/internal/model"
	"stereomeasure/internal/stereo"
)

// ReportRow is one measured object in an exported report. Numbers are
// pre-formatted strings so the file reads the same everywhere.
type ReportRow struct {
	Object      string `json:"Object"`
	Confidence  string `json:"Confidence"`
	DepthCm     string `json:"Depth (cm)"`
	WidthCm     string `json:"Width (cm)"`
	HeightCm    string `json:"Height (cm)"`
	Position2D  [2]int `json:"2D Position"`
	DisparityPx int    `json:"Disparity (px)"`
}

// MeasurementReport is the downloadable JSON for one run.
type MeasurementReport struct {
	Timestamp    string      `json:"timestamp"`
	Source       string      `json:"source"`
	Outcome      string      `json:"outcome"`
	Measurements []ReportRow `json:"measurements"`
}

func newRow(object string, confidence, depth, width, height float64, x, y, disparity int) ReportRow {
	return ReportRow{
		Object:      object,
		Confidence:  fmt.Sprintf("%.2f", confidence),
		DepthCm:     fmt.Sprintf("%.1f", depth),
		WidthCm:     fmt.Sprintf("%.1f", width),
		HeightCm:    fmt.Sprintf("%.1f", height),
		Position2D:  [2]int{x, y},
		DisparityPx: disparity,
	}
}

// NewReport builds a report from in-memory pipeline measurements.
func NewReport(ts time.Time, source, outcome string, measurements []stereo.Measurement) MeasurementReport {
	rows := make([]ReportRow, 0, len(measurements))
	for _, m := range measurements {
		rows = append(rows, newRow(m.Object, m.Confidence, m.DepthCm, m.WidthCm, m.HeightCm, m.Position2D.X, m.Position2D.Y, m.DisparityPx))
	}
	return MeasurementReport{
		Timestamp:    ts.Format(time.RFC3339),
		Source:       source,
		Outcome:      outcome,
		Measurements: rows,
	}
}

// NewStoredReport builds a report from a persisted run.
func NewStoredReport(run model.Run, measurements []model.Measurement) MeasurementReport {
	rows := make([]ReportRow, 0, len(measurements))
	for _, m := range measurements {
		rows = append(rows, newRow(m.Object, m.Confidence, m.DepthCm, m.WidthCm, m.HeightCm, m.X, m.Y, m.DisparityPx))
	}
	return MeasurementReport{
		Timestamp:    run.Timestamp.Format(time.RFC3339),
		Source:       run.Source,
		Outcome:      run.Outcome,
		Measurements: rows,
	}
}

// ReportFilename is the download name for a report taken at ts.
func ReportFilename(ts time.Time) string {
	return "measurements_" + ts.Format("20060102_150405") + ".json"
}
