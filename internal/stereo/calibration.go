package stereo

import "fmt"

// Calibration holds the fixed camera assumptions used by the matcher and the estimator.
// None of these are measured; they stand in until a real calibration step exists.
type Calibration struct {
	BaselineCm     float64 // Horizontal distance between the two capture positions
	FocalLengthPx  float64 // Assumed focal length, in pixels
	FrameHeightPx  float64 // Reference frame height used to normalise vertical offsets
	MatchThreshold float64 // A pair is accepted only when its score is strictly greater than this
	MinDisparityPx int     // Pairs with a smaller horizontal offset are rejected
	MinDepthCm     float64
	MaxDepthCm     float64
}

const (
	DefaultBaselineCm     = 15.0
	DefaultFocalLengthPx  = 1000.0
	DefaultFrameHeightPx  = 720.0
	DefaultMatchThreshold = 0.3
	DefaultMinDisparityPx = 5
	DefaultMinDepthCm     = 20.0
	DefaultMaxDepthCm     = 500.0
)

// DefaultCalibration returns the stock hand-held stereo setup.
func DefaultCalibration() Calibration {
	return Calibration{
		BaselineCm:     DefaultBaselineCm,
		FocalLengthPx:  DefaultFocalLengthPx,
		FrameHeightPx:  DefaultFrameHeightPx,
		MatchThreshold: DefaultMatchThreshold,
		MinDisparityPx: DefaultMinDisparityPx,
		MinDepthCm:     DefaultMinDepthCm,
		MaxDepthCm:     DefaultMaxDepthCm,
	}
}

// Validate reports the first value that would make the geometry meaningless.
func (c Calibration) Validate() error {
	switch {
	case c.BaselineCm <= 0:
		return fmt.Errorf("baseline must be positive, got %v", c.BaselineCm)
	case c.FocalLengthPx <= 0:
		return fmt.Errorf("focal length must be positive, got %v", c.FocalLengthPx)
	case c.FrameHeightPx <= 0:
		return fmt.Errorf("frame height must be positive, got %v", c.FrameHeightPx)
	case c.MatchThreshold < 0 || c.MatchThreshold >= 1:
		return fmt.Errorf("match threshold must be in [0,1), got %v", c.MatchThreshold)
	case c.MinDisparityPx < 1:
		return fmt.Errorf("minimum disparity must be at least 1, got %v", c.MinDisparityPx)
	case c.MinDepthCm <= 0 || c.MaxDepthCm < c.MinDepthCm:
		return fmt.Errorf("depth range [%v, %v] is invalid", c.MinDepthCm, c.MaxDepthCm)
	}
	return nil
}
