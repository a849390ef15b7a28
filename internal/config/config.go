package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"stereomeasure/internal/stereo"
)

const (
	// MinCaptureDelay and MaxCaptureDelay bound the pause (seconds) between the left and right capture.
	MinCaptureDelay = 3
	MaxCaptureDelay = 10
)

type Config struct {
	Port                int
	Password            string
	ModelPath           string
	ConfigPath          string
	ModelFormat         string  // "ssd" or "yolov8"
	ClassesPath         string  // Optional text file with one class name per line
	ConfidenceThreshold float64 // Detections below this are discarded by the detector
	NmsThreshold        float64
	CameraSource        string // Device index ("0") or stream URL
	CaptureDelay        int    // Seconds to wait while the user moves the camera to the right
	WarmupFrames        int    // Frames discarded before the real grab
	ImageDirectory      string
	DatabasePath        string
	LogDirectory        string
	ProcessingWorkers   int
	QueueSize           int
	MatchMode           string // "greedy" or "exclusive"

	BaselineCm     float64
	FocalLengthPx  float64
	FrameHeightPx  float64
	MatchThreshold float64
	MinDisparityPx int
	MinDepthCm     float64
	MaxDepthCm     float64
}

// Load reads an optional .env file in the working directory, and then the environment.
// Variables already present in the environment win over the .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		Password:            getEnv("PASSWORD", "stereo"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:          getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ModelFormat:         getEnv("MODEL_FORMAT", "ssd"),
		ClassesPath:         getEnv("CLASSES_PATH", ""),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NmsThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		CameraSource:        getEnv("CAMERA_SOURCE", "0"),
		CaptureDelay:        clampInt(getEnvAsInt("CAPTURE_DELAY", 6), MinCaptureDelay, MaxCaptureDelay),
		WarmupFrames:        getEnvAsInt("WARMUP_FRAMES", 5),
		ImageDirectory:      getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(".", "data", "measurements.db")),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
		ProcessingWorkers:   getEnvAsInt("PROCESSING_WORKERS", 1),
		QueueSize:           getEnvAsInt("QUEUE_SIZE", 8),
		MatchMode:           getEnv("MATCH_MODE", "greedy"),

		BaselineCm:     getEnvAsFloat("BASELINE_CM", stereo.DefaultBaselineCm),
		FocalLengthPx:  getEnvAsFloat("FOCAL_LENGTH_PX", stereo.DefaultFocalLengthPx),
		FrameHeightPx:  getEnvAsFloat("FRAME_HEIGHT_PX", stereo.DefaultFrameHeightPx),
		MatchThreshold: getEnvAsFloat("MATCH_THRESHOLD", stereo.DefaultMatchThreshold),
		MinDisparityPx: getEnvAsInt("MIN_DISPARITY_PX", stereo.DefaultMinDisparityPx),
		MinDepthCm:     getEnvAsFloat("MIN_DEPTH_CM", stereo.DefaultMinDepthCm),
		MaxDepthCm:     getEnvAsFloat("MAX_DEPTH_CM", stereo.DefaultMaxDepthCm),
	}
}

// Calibration builds the stereo calibration from the configured constants.
func (c *Config) Calibration() (stereo.Calibration, error) {
	cal := stereo.Calibration{
		BaselineCm:     c.BaselineCm,
		FocalLengthPx:  c.FocalLengthPx,
		FrameHeightPx:  c.FrameHeightPx,
		MatchThreshold: c.MatchThreshold,
		MinDisparityPx: c.MinDisparityPx,
		MinDepthCm:     c.MinDepthCm,
		MaxDepthCm:     c.MaxDepthCm,
	}
	return cal, cal.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
