package dto

// JobEvent is pushed to websocket clients while a job progresses.
type JobEvent struct {
	JobID     string             `json:"jobId"`
	State     string             `json:"state"`
	Message   string             `json:"message,omitempty"`
	Countdown int                `json:"countdown,omitempty"`
	RunID     int64              `json:"runId,omitempty"`
	Report    *MeasurementReport `json:"report,omitempty"`
	Error     string             `json:"error,omitempty"`
}
