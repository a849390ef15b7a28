package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"stereomeasure/internal/stereo"
)

var (
	green = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Draw marks every annotation on img in place: a filled dot on the object and its depth label.
func Draw(img *gocv.Mat, annotations []stereo.Annotation) error {
	for _, a := range annotations {
		pt := image.Pt(a.Position.X, a.Position.Y)
		if err := gocv.Circle(img, pt, 10, green, -1); err != nil {
			return fmt.Errorf("failed to draw marker: %w", err)
		}
		if err := gocv.PutTextWithParams(img, a.Label, image.Pt(pt.X+15, pt.Y+5),
			gocv.FontHersheySimplex, 0.6, white, 2, gocv.LineAA, false); err != nil {
			return fmt.Errorf("failed to draw label: %w", err)
		}
	}
	return nil
}

// EncodeJPEG returns a copy of img as JPEG bytes.
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Render draws the annotations on a copy of left and encodes it. The left image is not modified.
func Render(left gocv.Mat, annotations []stereo.Annotation) ([]byte, error) {
	if len(annotations) == 0 {
		return EncodeJPEG(left)
	}

	canvas := left.Clone()
	defer canvas.Close()
	if err := Draw(&canvas, annotations); err != nil {
		return nil, err
	}
	return EncodeJPEG(canvas)
}
