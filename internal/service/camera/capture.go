package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"stereomeasure/internal/config"
	"stereomeasure/internal/logger"
)

// ErrCaptureFailure is returned when no frame could be read from the camera.
var ErrCaptureFailure = errors.New("camera capture failed")

const warmupPause = 50 * time.Millisecond

// CaptureService grabs single frames from a device index or a stream URL.
type CaptureService struct {
	source       string
	warmupFrames int
	logger       *logger.Logger
}

func NewCaptureService(config *config.Config, logger *logger.Logger) *CaptureService {
	return &CaptureService{
		source:       config.CameraSource,
		warmupFrames: config.WarmupFrames,
		logger:       logger,
	}
}

// Source is the configured camera source.
func (s *CaptureService) Source() string {
	return s.source
}

// Capture opens the camera, discards the warm-up frames and returns the next frame.
// The camera is released before returning; the caller owns the returned Mat.
func (s *CaptureService) Capture(ctx context.Context) (gocv.Mat, error) {
	var device interface{} = s.source
	if id, err := strconv.Atoi(s.source); err == nil {
		device = id
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: open %s: %v", ErrCaptureFailure, s.source, err)
	}
	defer vc.Close()

	frame := gocv.NewMat()
	for i := 0; i < s.warmupFrames; i++ {
		vc.Read(&frame)
		select {
		case <-ctx.Done():
			frame.Close()
			return gocv.Mat{}, ctx.Err()
		case <-time.After(warmupPause):
		}
	}

	if ok := vc.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, fmt.Errorf("%w: no frame from %s", ErrCaptureFailure, s.source)
	}

	s.logger.Info("Captured %dx%d frame from camera %s", frame.Cols(), frame.Rows(), s.source)
	return frame, nil
}
