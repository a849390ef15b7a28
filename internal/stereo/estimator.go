package stereo

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Measurement is the physical interpretation of one matched pair.
// Values are kept at full precision; Label and the report DTOs round for display.
type Measurement struct {
	Object      string  `json:"object"`
	Confidence  float64 `json:"confidence"`
	DepthCm     float64 `json:"depth_cm"`
	WidthCm     float64 `json:"width_cm"`
	HeightCm    float64 `json:"height_cm"`
	Position2D  Point   `json:"position_2d"`
	DisparityPx int     `json:"disparity_px"`
}

// Label is the annotation text drawn next to the object, eg "Book @ 500.0 cm".
func (m Measurement) Label() string {
	return fmt.Sprintf("%s @ %.1f cm", m.Object, m.DepthCm)
}

// Estimator triangulates matched pairs using a fixed calibration.
type Estimator struct {
	Calibration Calibration
}

func NewEstimator(cal Calibration) Estimator {
	return Estimator{Calibration: cal}
}

// Depth converts a disparity into a clamped depth. The disparity must be positive.
func (e Estimator) Depth(disparityPx int) float64 {
	c := e.Calibration
	depth := c.BaselineCm * c.FocalLengthPx / float64(disparityPx)
	return max(c.MinDepthCm, min(c.MaxDepthCm, depth))
}

// Estimate returns ErrRejected when the horizontal offset between the two centers is below
// the calibration's minimum disparity.
func (e Estimator) Estimate(pair MatchedPair) (Measurement, error) {
	c := e.Calibration
	disparity := pair.LeftCenter.X - pair.RightCenter.X
	if disparity < 0 {
		disparity = -disparity
	}
	if disparity < c.MinDisparityPx {
		return Measurement{}, fmt.Errorf("%w: %s disparity %d px < %d px", ErrRejected, pair.ClassName, disparity, c.MinDisparityPx)
	}

	depth := e.Depth(disparity)
	return Measurement{
		Object:      titleCase(pair.ClassName),
		Confidence:  pair.Confidence,
		DepthCm:     depth,
		WidthCm:     float64(pair.LeftBox.Width()) * depth / c.FocalLengthPx,
		HeightCm:    float64(pair.LeftBox.Height()) * depth / c.FocalLengthPx,
		Position2D:  pair.LeftCenter,
		DisparityPx: disparity,
	}, nil
}

// titleCase upper-cases the first letter of every word ("cell phone" -> "Cell Phone").
// A cases.Caser is stateful, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
