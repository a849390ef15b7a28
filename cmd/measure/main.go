package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"gocv.io/x/gocv"

	"stereomeasure/internal/config"
	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/service/ai"
	"stereomeasure/internal/service/annotate"
	"stereomeasure/internal/service/storage"
	"stereomeasure/internal/stereo"
)

// detectionsFile holds precomputed detections for both views.
type detectionsFile struct {
	Left  []json.RawMessage `json:"left"`
	Right []json.RawMessage `json:"right"`
}

// loadDetections reads a detections file. Malformed records are skipped and reported in the returned error.
func loadDetections(path string) ([]stereo.Detection, []stereo.Detection, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var f detectionsFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var errs []error
	decode := func(side string, raw []json.RawMessage) []stereo.Detection {
		dets := make([]stereo.Detection, 0, len(raw))
		for i, r := range raw {
			var d stereo.Detection
			if err := json.Unmarshal(r, &d); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: %w", side, i, err))
				continue
			}
			dets = append(dets, d)
		}
		return dets
	}
	left := decode("left", f.Left)
	right := decode("right", f.Right)
	return left, right, errors.Join(errs...)
}

// flagWarnings lists flag combinations that are accepted but have no effect.
func flagWarnings(annotated, detections string) []string {
	var warnings []string
	if annotated != "" && detections != "" {
		warnings = append(warnings, "--annotated is ignored with --detections: there is no image to draw on")
	}
	return warnings
}

func main() {
	os.Exit(run(os.Args))
}

// run returns the exit status: 0 on success, 1 on failure, 2 when nothing matched.
func run(args []string) int {
	cfg := config.Load()

	parser := argparse.NewParser("measure", "Measure objects in a left/right stereo image pair")
	leftPath := parser.String("l", "left", &argparse.Options{Help: "Left image"})
	rightPath := parser.String("r", "right", &argparse.Options{Help: "Right image"})
	modelPath := parser.String("m", "model", &argparse.Options{Help: "Detection model file", Default: cfg.ModelPath})
	configPath := parser.String("c", "config", &argparse.Options{Help: "Detection model config (SSD only)", Default: cfg.ConfigPath})
	format := parser.Selector("f", "format", []string{ai.FormatSSD, ai.FormatYOLOv8}, &argparse.Options{Help: "Model output format", Default: cfg.ModelFormat})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Detection confidence threshold", Default: cfg.ConfidenceThreshold})
	output := parser.String("o", "output", &argparse.Options{Help: "Write the JSON report to this file instead of stdout"})
	annotated := parser.String("a", "annotated", &argparse.Options{Help: "Write the annotated left image to this file"})
	exclusive := parser.Flag("", "exclusive", &argparse.Options{Help: "Let each right detection be matched at most once", Default: cfg.MatchMode == "exclusive"})
	detections := parser.String("", "detections", &argparse.Options{Help: "JSON file with precomputed {\"left\":[...],\"right\":[...]} detections; skips the model"})
	err := parser.Parse(args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		return 1
	}
	for _, w := range flagWarnings(*annotated, *detections) {
		log.Printf("Warning: %s", w)
	}

	cal, err := cfg.Calibration()
	if err != nil {
		log.Printf("Invalid calibration: %v", err)
		return 1
	}
	mode := stereo.MatchGreedy
	if *exclusive {
		mode = stereo.MatchExclusive
	}

	var left, right []stereo.Detection
	var leftImg gocv.Mat
	if *detections != "" {
		left, right, err = loadDetections(*detections)
		if left == nil && right == nil && err != nil {
			log.Printf("Failed to load detections: %v", err)
			return 1
		}
		if err != nil {
			log.Printf("Skipped detections: %v", err)
		}
	} else {
		if *leftPath == "" || *rightPath == "" {
			fmt.Print(parser.Usage(errors.New("--left and --right are required without --detections")))
			return 1
		}

		cfg.ModelPath, cfg.ConfigPath, cfg.ModelFormat = *modelPath, *configPath, *format
		l, err := logger.New(cfg.LogDirectory)
		if err != nil {
			log.Printf("Failed to set up logging: %v", err)
			return 1
		}
		defer l.Close()

		detector := ai.NewDetectorService(cfg, l)
		defer detector.Close()

		leftImg = gocv.IMRead(*leftPath, gocv.IMReadColor)
		defer leftImg.Close()
		rightImg := gocv.IMRead(*rightPath, gocv.IMReadColor)
		defer rightImg.Close()
		if leftImg.Empty() || rightImg.Empty() {
			log.Printf("Failed to read %s or %s", *leftPath, *rightPath)
			return 1
		}

		if left, err = detector.Detect(leftImg, *threshold); err != nil {
			log.Printf("Left detection failed: %v", err)
			return 1
		}
		if right, err = detector.Detect(rightImg, *threshold); err != nil {
			log.Printf("Right detection failed: %v", err)
			return 1
		}
	}

	res := stereo.NewPipeline(cal, mode).Run(left, right)
	if res.Invalid != nil {
		log.Printf("Skipped invalid detections: %v", res.Invalid)
	}
	for _, pair := range res.Rejected {
		log.Printf("Rejected %s: disparity below %d px", pair.ClassName, cal.MinDisparityPx)
	}

	ts := time.Now()
	report := dto.NewReport(ts, "cli", storage.Outcome(res), res.Measurements)
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("Failed to encode report: %v", err)
		return 1
	}

	if *output != "" {
		if err := os.WriteFile(*output, b, 0644); err != nil {
			log.Printf("Failed to write report: %v", err)
			return 1
		}
		fmt.Printf("Report written to %s\n", *output)
	} else {
		fmt.Println(string(b))
	}

	if *annotated != "" && *detections == "" {
		img, err := annotate.Render(leftImg, res.Annotations)
		if err != nil {
			log.Printf("Failed to annotate: %v", err)
			return 1
		}
		if err := os.WriteFile(*annotated, img, 0644); err != nil {
			log.Printf("Failed to write annotated image: %v", err)
			return 1
		}
	}

	if !res.OK() {
		fmt.Fprintln(os.Stderr, res.Err())
		return 2
	}
	return 0
}
