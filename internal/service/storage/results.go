package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"stereomeasure/internal/config"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/model"
	"stereomeasure/internal/repository"
	"stereomeasure/internal/stereo"
)

// Run outcomes as stored in the database.
const (
	OutcomeDone      = "done"
	OutcomeNoMatches = "no_matches"
)

const (
	timestampLayout = "2006-01-02_15-04-05.000"
	maxNameAttempts = 100
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// RunRecord is everything produced by one finished pipeline pass.
type RunRecord struct {
	Source     string
	Timestamp  time.Time
	LeftCount  int
	RightCount int
	Result     *stereo.Result
	Image      []byte // annotated JPEG
}

// Outcome names the stored outcome of a pipeline result.
func Outcome(res *stereo.Result) string {
	if res.OK() {
		return OutcomeDone
	}
	return OutcomeNoMatches
}

// ResultService persists annotated images and their measurements.
type ResultService struct {
	imagesDir       string
	logger          *logger.Logger
	runRepo         repository.RunRepository
	measurementRepo repository.MeasurementRepository
}

// NewResultService creates a ResultService writing images into the configured directory.
func NewResultService(config *config.Config, logger *logger.Logger, runRepo repository.RunRepository, measurementRepo repository.MeasurementRepository) *ResultService {
	return &ResultService{
		imagesDir:       config.ImageDirectory,
		logger:          logger,
		runRepo:         runRepo,
		measurementRepo: measurementRepo,
	}
}

// Filename builds "<timestamp>_<source>_<objects>.jpg" with every part reduced to file-safe characters.
func Filename(ts time.Time, source string, measurements []stereo.Measurement) string {
	objects := make([]string, 0, len(measurements))
	for _, m := range measurements {
		objects = append(objects, sanitize(m.Object))
	}
	if len(objects) == 0 {
		objects = append(objects, "none")
	}
	return fmt.Sprintf("%s_%s_%s.jpg", ts.Format(timestampLayout), sanitize(source), strings.Join(objects, "_"))
}

func sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(s, "-"), "-")
}

// Save writes the image to disk and stores the run with its measurements.
func (s *ResultService) Save(rec RunRecord) (*model.Run, error) {
	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	filename, err := s.writeImage(Filename(rec.Timestamp, rec.Source, rec.Result.Measurements), rec.Image)
	if err != nil {
		return nil, err
	}
	fullpath := filepath.Join(s.imagesDir, filename)

	run := &model.Run{
		Source:        rec.Source,
		Outcome:       Outcome(rec.Result),
		LeftCount:     rec.LeftCount,
		RightCount:    rec.RightCount,
		PairCount:     len(rec.Result.Pairs),
		RejectedCount: len(rec.Result.Rejected),
		Filename:      filename,
		FilePath:      fullpath,
		FileSize:      int64(len(rec.Image)),
		Timestamp:     rec.Timestamp,
	}

	id, err := s.runRepo.Insert(run)
	if err != nil {
		os.Remove(fullpath)
		return nil, err
	}
	run.ID = id

	rows := make([]model.Measurement, 0, len(rec.Result.Measurements))
	for _, m := range rec.Result.Measurements {
		rows = append(rows, model.Measurement{
			RunID:       id,
			Object:      m.Object,
			Confidence:  m.Confidence,
			DepthCm:     m.DepthCm,
			WidthCm:     m.WidthCm,
			HeightCm:    m.HeightCm,
			X:           m.Position2D.X,
			Y:           m.Position2D.Y,
			DisparityPx: m.DisparityPx,
		})
	}
	if err := s.measurementRepo.InsertBatch(rows); err != nil {
		s.logger.Error("Error saving measurements for run %d: %v", id, err)
		// Never leave a run without its measurements
		if derr := s.runRepo.Delete(id); derr != nil {
			s.logger.Error("Error removing incomplete run %d: %v", id, derr)
		}
		os.Remove(fullpath)
		return nil, err
	}

	s.logger.Info("Saved run %d (%s, %d measurements) as %s", id, run.Outcome, len(rows), filename)
	return run, nil
}

// writeImage creates the image under name, adding "-1", "-2", ... before the extension
// when a file with that name already exists. It returns the name actually used.
func (s *ResultService) writeImage(name string, data []byte) (string, error) {
	base := strings.TrimSuffix(name, ".jpg")
	for i := 0; i < maxNameAttempts; i++ {
		filename := name
		if i > 0 {
			filename = fmt.Sprintf("%s-%d.jpg", base, i)
		}
		f, err := os.OpenFile(filepath.Join(s.imagesDir, filename), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to save image %s: %w", filename, err)
		}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(filepath.Join(s.imagesDir, filename))
			return "", fmt.Errorf("failed to save image %s: %w", filename, err)
		}
		return filename, nil
	}
	return "", fmt.Errorf("failed to save image %s: too many runs with the same name", name)
}

// Get returns a stored run and its measurements. A missing run yields nil, nil, nil.
func (s *ResultService) Get(id int64) (*model.Run, []model.Measurement, error) {
	run, err := s.runRepo.GetByID(id)
	if err != nil || run == nil {
		return nil, nil, err
	}
	measurements, err := s.measurementRepo.GetByRunID(id)
	if err != nil {
		return nil, nil, err
	}
	return run, measurements, nil
}

// ImagePath resolves a stored image name inside the image directory, rejecting path traversal.
func (s *ResultService) ImagePath(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	return filepath.Join(s.imagesDir, filename), nil
}

// Delete removes a run, its measurements and its image. A missing image file is not an error.
func (s *ResultService) Delete(id int64) error {
	run, err := s.runRepo.GetByID(id)
	if err != nil {
		return err
	}
	if run == nil {
		return os.ErrNotExist
	}

	if err := s.runRepo.Delete(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.imagesDir, run.Filename)); err != nil && !os.IsNotExist(err) {
		s.logger.Warning("Could not remove image %s: %v", run.Filename, err)
	}
	return nil
}

// Clear removes every run and every stored image.
func (s *ResultService) Clear() error {
	if err := s.runRepo.DeleteAll(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.imagesDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read image directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".jpg") {
			continue
		}
		if err := os.Remove(filepath.Join(s.imagesDir, entry.Name())); err != nil {
			s.logger.Warning("Could not remove image %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	s.logger.Info("Cleared %d images", removed)
	return nil
}
