package model

// Measurement is a stored stereo measurement belonging to a run.
type Measurement struct {
	ID          int64   `json:"id"`
	RunID       int64   `json:"run_id"`
	Object      string  `json:"object"`
	Confidence  float64 `json:"confidence"`
	DepthCm     float64 `json:"depth_cm"`
	WidthCm     float64 `json:"width_cm"`
	HeightCm    float64 `json:"height_cm"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	DisparityPx int     `json:"disparity_px"`
}
