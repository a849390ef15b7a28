package stereo

import (
	"encoding/json"
	"fmt"
)

// Point is a pixel position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BBox is an axis aligned box in pixel coordinates, corners inclusive of (X1,Y1).
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Width() int {
	return b.X2 - b.X1
}

func (b BBox) Height() int {
	return b.Y2 - b.Y1
}

func (b BBox) Center() Point {
	return Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

func (b BBox) valid() bool {
	return b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// Detection is one object found in one image.
// Use NewDetection to build one; the zero value is not a valid detection.
type Detection struct {
	className  string
	confidence float64
	box        BBox
	center     Point
	width      int
	height     int
}

// NewDetection validates the record and caches its derived geometry.
func NewDetection(className string, confidence float64, box BBox) (Detection, error) {
	if className == "" {
		return Detection{}, fmt.Errorf("%w: empty class name", ErrInvalidInput)
	}
	// Written so that NaN fails too
	if !(confidence >= 0 && confidence <= 1) {
		return Detection{}, fmt.Errorf("%w: %s confidence %v outside [0,1]", ErrInvalidInput, className, confidence)
	}
	if !box.valid() {
		return Detection{}, fmt.Errorf("%w: %s box %v is inverted", ErrInvalidInput, className, box)
	}
	return Detection{
		className:  className,
		confidence: confidence,
		box:        box,
		center:     box.Center(),
		width:      box.Width(),
		height:     box.Height(),
	}, nil
}

func (d Detection) ClassName() string   { return d.className }
func (d Detection) Confidence() float64 { return d.confidence }
func (d Detection) Box() BBox           { return d.box }
func (d Detection) Center() Point       { return d.center }
func (d Detection) Width() int          { return d.width }
func (d Detection) Height() int         { return d.height }

// Validate re-checks a detection that may not have come from NewDetection (eg the zero value).
func (d Detection) Validate() error {
	_, err := NewDetection(d.className, d.confidence, d.box)
	return err
}

type detectionJSON struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	Center     *Point  `json:"center,omitempty"`
	Width      *int    `json:"width,omitempty"`
	Height     *int    `json:"height,omitempty"`
}

// MarshalJSON writes the record along with its derived geometry.
func (d Detection) MarshalJSON() ([]byte, error) {
	return json.Marshal(detectionJSON{
		ClassName:  d.className,
		Confidence: d.confidence,
		BBox:       d.box,
		Center:     &d.center,
		Width:      &d.width,
		Height:     &d.height,
	})
}

// UnmarshalJSON reads class_name, confidence and bbox. Derived fields in the input are ignored
// and recomputed, so a detection read from JSON is always validated.
func (d *Detection) UnmarshalJSON(b []byte) error {
	var raw detectionJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	det, err := NewDetection(raw.ClassName, raw.Confidence, raw.BBox)
	if err != nil {
		return err
	}
	*d = det
	return nil
}
