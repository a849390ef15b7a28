package ai

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"stereomeasure/internal/config"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/stereo"
)

// Supported model output layouts.
const (
	FormatSSD    = "ssd"
	FormatYOLOv8 = "yolov8"
)

// ErrModelUnavailable is returned by Detect when the network could not be loaded.
var ErrModelUnavailable = errors.New("detection network not initialized")

// DetectorService wraps one DNN. A gocv.Net must not be used from two goroutines
// at once, so callers that detect in parallel need one DetectorService each.
type DetectorService struct {
	net          gocv.Net
	ready        bool
	format       string
	classes      []string
	nmsThreshold float32
	modelPath    string
	configPath   string
	logger       *logger.Logger
}

// NewDetectorService creates a detector from the configured model files.
// A missing or broken model is logged, and leaves the service in a state where
// every Detect call fails with ErrModelUnavailable.
func NewDetectorService(config *config.Config, logger *logger.Logger) *DetectorService {
	service := &DetectorService{
		format:       config.ModelFormat,
		classes:      COCOClasses,
		nmsThreshold: float32(config.NmsThreshold),
		modelPath:    config.ModelPath,
		configPath:   config.ConfigPath,
		logger:       logger,
	}

	if config.ClassesPath != "" {
		classes, err := LoadClassFile(config.ClassesPath)
		if err != nil {
			logger.Warning("Using built-in COCO classes: %v", err)
		} else {
			service.classes = classes
		}
	}

	if err := service.initializeNet(); err != nil {
		service.logger.Warning("Could not initialize detection network: %v", err)
		return service
	}

	return service
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if s.format != FormatSSD && s.format != FormatYOLOv8 {
		return fmt.Errorf("unknown model format %q", s.format)
	}

	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	// ONNX exports carry their own graph description
	configPath := s.configPath
	if s.format == FormatYOLOv8 {
		configPath = ""
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	net := gocv.ReadNet(s.modelPath, configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.ready = true
	s.logger.Info("Detection network initialized successfully (%s, %d classes)", s.format, len(s.classes))
	return nil
}

// Ready reports whether a network is loaded.
func (s *DetectorService) Ready() bool {
	return s.ready
}

// Detect runs the network on img and returns every detection whose confidence is above threshold.
func (s *DetectorService) Detect(img gocv.Mat, threshold float64) ([]stereo.Detection, error) {
	if !s.ready {
		return nil, ErrModelUnavailable
	}
	if img.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}

	if s.format == FormatYOLOv8 {
		return s.detectYOLOv8(img, float32(threshold))
	}
	return s.detectSSD(img, float32(threshold))
}

// detectSSD handles SSD MobileNet output rows: [batch_id, class_id, confidence, x1, y1, x2, y2], normalised.
func (s *DetectorService) detectSSD(img gocv.Mat, threshold float32) ([]stereo.Detection, error) {
	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	cols, rows := float32(img.Cols()), float32(img.Rows())
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var results []stereo.Detection
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if confidence <= threshold {
			continue
		}
		classID := int(reshaped.GetFloatAt(i, 1))
		box := image.Rect(
			int(reshaped.GetFloatAt(i, 3)*cols),
			int(reshaped.GetFloatAt(i, 4)*rows),
			int(reshaped.GetFloatAt(i, 5)*cols),
			int(reshaped.GetFloatAt(i, 6)*rows),
		)
		results = s.appendDetection(results, img, classLabel(s.classes, FormatSSD, classID), confidence, box)
	}
	return results, nil
}

// detectYOLOv8 handles the [1, 4+classes, N] output of an ONNX YOLOv8 export:
// per column, cx, cy, w, h in input pixels followed by one score per class.
func (s *DetectorService) detectYOLOv8(img gocv.Mat, threshold float32) ([]stereo.Detection, error) {
	const inputSize = 640

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected yolov8 output shape %v", dims)
	}
	attrs := output.Reshape(1, dims[1])
	defer attrs.Close()
	rowsMat := gocv.NewMat()
	defer rowsMat.Close()
	gocv.Transpose(attrs, &rowsMat)

	xScale := float32(img.Cols()) / inputSize
	yScale := float32(img.Rows()) / inputSize

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int
	for i := 0; i < rowsMat.Rows(); i++ {
		best, bestScore := -1, float32(0)
		for c := 4; c < rowsMat.Cols(); c++ {
			if score := rowsMat.GetFloatAt(i, c); score > bestScore {
				best, bestScore = c-4, score
			}
		}
		if best < 0 || bestScore <= threshold {
			continue
		}
		cx, cy := rowsMat.GetFloatAt(i, 0)*xScale, rowsMat.GetFloatAt(i, 1)*yScale
		w, h := rowsMat.GetFloatAt(i, 2)*xScale, rowsMat.GetFloatAt(i, 3)*yScale
		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, bestScore)
		classIDs = append(classIDs, best)
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	var results []stereo.Detection
	for _, idx := range gocv.NMSBoxes(boxes, scores, threshold, s.nmsThreshold) {
		results = s.appendDetection(results, img, classLabel(s.classes, FormatYOLOv8, classIDs[idx]), scores[idx], boxes[idx])
	}
	return results, nil
}

// appendDetection clips box to the image and appends it if it forms a valid detection.
func (s *DetectorService) appendDetection(results []stereo.Detection, img gocv.Mat, label string, confidence float32, box image.Rectangle) []stereo.Detection {
	bbox := clipBox(box, img.Cols(), img.Rows())
	d, err := stereo.NewDetection(label, min(1, float64(confidence)), bbox)
	if err != nil {
		s.logger.Warning("Dropping detection: %v", err)
		return results
	}
	s.logger.Info("Detected %s (%.2f) at %v", label, confidence, bbox)
	return append(results, d)
}

// clipBox keeps a box inside a width x height image.
func clipBox(r image.Rectangle, width, height int) stereo.BBox {
	return stereo.BBox{
		X1: clamp(r.Min.X, 0, width),
		Y1: clamp(r.Min.Y, 0, height),
		X2: clamp(r.Max.X, 0, width),
		Y2: clamp(r.Max.Y, 0, height),
	}
}

// Close releases the network.
func (s *DetectorService) Close() error {
	if !s.ready {
		return nil
	}
	s.ready = false
	return s.net.Close()
}
