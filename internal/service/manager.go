package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"stereomeasure/internal/config"
	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/metrics"
	"stereomeasure/internal/model"
	"stereomeasure/internal/service/annotate"
	"stereomeasure/internal/service/storage"
	"stereomeasure/internal/stereo"
)

var (
	// ErrQueueFull is returned when a job is submitted while every queue slot is taken.
	ErrQueueFull = errors.New("processing queue full")
	// ErrStopped is returned for jobs submitted after Stop.
	ErrStopped = errors.New("manager stopped")
	// ErrInvalidImage is returned when an uploaded image cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
	// ErrNoCamera is returned by StartSession when no camera is configured.
	ErrNoCamera = errors.New("no camera configured")
)

// Job states, as reported to websocket viewers.
const (
	StateQueued         = "queued"
	StateCapturingLeft  = "capturing_left"
	StateWaiting        = "waiting"
	StateCapturingRight = "capturing_right"
	StateDetecting      = "detecting"
	StateMatching       = "matching"
	StateEstimating     = "estimating"
	StateDone           = "done"
	StateEmpty          = "empty"
	StateFailed         = "failed"
)

// Detector finds objects in one image.
type Detector interface {
	Detect(img gocv.Mat, threshold float64) ([]stereo.Detection, error)
}

// DetectorPair is owned by a single worker, so the left and right images can be processed at once.
type DetectorPair struct {
	Left  Detector
	Right Detector
}

// Camera grabs one frame per call.
type Camera interface {
	Capture(ctx context.Context) (gocv.Mat, error)
	Source() string
}

// ResultStore persists finished runs.
type ResultStore interface {
	Save(rec storage.RunRecord) (*model.Run, error)
}

// Broadcaster pushes job events to viewers.
type Broadcaster interface {
	BroadcastEvent(event dto.JobEvent)
}

type jobKind int

const (
	jobUpload jobKind = iota
	jobCamera
)

type job struct {
	id     string
	kind   jobKind
	source string
	left   []byte
	right  []byte
	done   chan *Outcome
}

// Outcome is the result of one job.
type Outcome struct {
	JobID  string
	Run    *model.Run // nil if the run could not be stored
	Result *stereo.Result
	Report dto.MeasurementReport
	Image  []byte
	Err    error
}

type Manager struct {
	detectors []DetectorPair
	camera    Camera
	results   ResultStore
	hub       Broadcaster
	pipeline  *stereo.Pipeline
	metrics   *metrics.Metrics
	logger    *logger.Logger

	threshold    float64
	captureDelay int
	tick         time.Duration

	processingQueue chan *job
	seq             atomic.Uint64
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.RWMutex
	stopped         bool
	wg              sync.WaitGroup
}

// NewManager starts one processing worker per detector pair.
func NewManager(detectors []DetectorPair, camera Camera, results ResultStore, hub Broadcaster, pipeline *stereo.Pipeline,
	metrics *metrics.Metrics, config *config.Config, logger *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		detectors:       detectors,
		camera:          camera,
		results:         results,
		hub:             hub,
		pipeline:        pipeline,
		metrics:         metrics,
		logger:          logger,
		threshold:       config.ConfidenceThreshold,
		captureDelay:    config.CaptureDelay,
		tick:            time.Second,
		processingQueue: make(chan *job, max(1, config.QueueSize)),
		ctx:             ctx,
		cancel:          cancel,
	}

	for i := range detectors {
		manager.wg.Add(1)
		go manager.processingWorker(i)
	}

	manager.logger.Info("Manager started with %d worker(s), queue size %d", len(detectors), cap(manager.processingQueue))
	return manager
}

func (m *Manager) nextID() string {
	return fmt.Sprintf("job-%d", m.seq.Add(1))
}

func (m *Manager) submit(j *job) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return ErrStopped
	}

	select {
	case m.processingQueue <- j:
		m.metrics.QueueLength.Add(1)
		m.logger.Info("Job %s queued (%s)", j.id, j.source)
		m.emit(dto.JobEvent{JobID: j.id, State: StateQueued})
		return nil
	default:
		m.metrics.JobsDropped.Add(1)
		m.logger.Warning("Processing queue full - refusing job from %s", j.source)
		return ErrQueueFull
	}
}

// Measure runs one uploaded left/right JPEG pair through the pipeline and waits for the outcome.
func (m *Manager) Measure(ctx context.Context, left, right []byte) (*Outcome, error) {
	j := &job{id: m.nextID(), kind: jobUpload, source: "upload", left: left, right: right, done: make(chan *Outcome, 1)}
	if err := m.submit(j); err != nil {
		return nil, err
	}

	select {
	case out := <-j.done:
		return out, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartSession queues a camera session and returns its job id. Progress is reported through the hub.
func (m *Manager) StartSession() (string, error) {
	if m.camera == nil {
		return "", ErrNoCamera
	}
	j := &job{id: m.nextID(), kind: jobCamera, source: "camera:" + m.camera.Source()}
	if err := m.submit(j); err != nil {
		return "", err
	}
	return j.id, nil
}

func (m *Manager) emit(event dto.JobEvent) {
	if m.hub != nil {
		m.hub.BroadcastEvent(event)
	}
}

// processingWorker handles jobs until the queue is closed.
func (m *Manager) processingWorker(workerID int) {
	defer m.wg.Done()

	m.logger.Info("Processing worker %d started", workerID)

	for j := range m.processingQueue {
		m.metrics.QueueLength.Add(-1)
		out := m.process(j, m.detectors[workerID])
		if j.done != nil {
			j.done <- out
		}
	}

	m.logger.Info("Processing worker %d stopped", workerID)
}

func (m *Manager) process(j *job, detectors DetectorPair) *Outcome {
	out := m.run(j, detectors)
	out.JobID = j.id
	if out.Err != nil {
		m.metrics.RunsFailed.Add(1)
		m.logger.Error("Job %s failed: %v", j.id, out.Err)
		m.emit(dto.JobEvent{JobID: j.id, State: StateFailed, Error: out.Err.Error()})
	}
	return out
}

func (m *Manager) run(j *job, detectors DetectorPair) *Outcome {
	left, right, err := m.images(j)
	if err != nil {
		return &Outcome{Err: err}
	}
	defer left.Close()
	defer right.Close()

	m.emit(dto.JobEvent{JobID: j.id, State: StateDetecting})
	leftDets, rightDets, err := m.detect(detectors, left, right)
	if err != nil {
		m.metrics.DetectionFailures.Add(1)
		return &Outcome{Err: err}
	}

	pipeline := *m.pipeline
	pipeline.OnState = func(s stereo.State) {
		switch s {
		case stereo.StateMatching:
			m.emit(dto.JobEvent{JobID: j.id, State: StateMatching})
		case stereo.StateEstimating:
			m.emit(dto.JobEvent{JobID: j.id, State: StateEstimating})
		}
	}
	res := pipeline.Run(leftDets, rightDets)
	m.record(j, res)

	img, err := annotate.Render(left, res.Annotations)
	if err != nil {
		return &Outcome{Result: res, Err: err}
	}

	ts := time.Now()
	outcome := storage.Outcome(res)
	out := &Outcome{
		Result: res,
		Report: dto.NewReport(ts, j.source, outcome, res.Measurements),
		Image:  img,
	}

	if m.results != nil {
		run, err := m.results.Save(storage.RunRecord{
			Source:     j.source,
			Timestamp:  ts,
			LeftCount:  len(leftDets),
			RightCount: len(rightDets),
			Result:     res,
			Image:      img,
		})
		if err != nil {
			m.logger.Error("Job %s: could not store run: %v", j.id, err)
		}
		out.Run = run
	}

	event := dto.JobEvent{JobID: j.id, State: StateDone, Report: &out.Report}
	if !res.OK() {
		event.State = StateEmpty
		event.Message = res.Err().Error()
	}
	if out.Run != nil {
		event.RunID = out.Run.ID
	}
	m.emit(event)
	return out
}

// images decodes the uploaded pair, or captures it from the camera with a pause in between.
func (m *Manager) images(j *job) (gocv.Mat, gocv.Mat, error) {
	if j.kind == jobUpload {
		left, err := decode(j.left, "left")
		if err != nil {
			return gocv.Mat{}, gocv.Mat{}, err
		}
		right, err := decode(j.right, "right")
		if err != nil {
			left.Close()
			return gocv.Mat{}, gocv.Mat{}, err
		}
		return left, right, nil
	}

	m.emit(dto.JobEvent{JobID: j.id, State: StateCapturingLeft, Message: "Capturing left image"})
	left, err := m.camera.Capture(m.ctx)
	if err != nil {
		m.metrics.CaptureFailures.Add(1)
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("left capture: %w", err)
	}

	if err := m.countdown(j.id); err != nil {
		left.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}

	m.emit(dto.JobEvent{JobID: j.id, State: StateCapturingRight, Message: "Capturing right image"})
	right, err := m.camera.Capture(m.ctx)
	if err != nil {
		left.Close()
		m.metrics.CaptureFailures.Add(1)
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("right capture: %w", err)
	}
	return left, right, nil
}

// countdown gives the user captureDelay ticks to move the camera to the right.
func (m *Manager) countdown(jobID string) error {
	for n := m.captureDelay; n > 0; n-- {
		m.emit(dto.JobEvent{JobID: jobID, State: StateWaiting, Message: "Move the camera to the right", Countdown: n})
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-time.After(m.tick):
		}
	}
	return nil
}

func decode(b []byte, side string) (gocv.Mat, error) {
	if len(b) == 0 {
		return gocv.Mat{}, fmt.Errorf("%w: %s image is empty", ErrInvalidImage, side)
	}
	mat, err := gocv.IMDecode(b, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %s: %v", ErrInvalidImage, side, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s image could not be decoded", ErrInvalidImage, side)
	}
	return mat, nil
}

// detect runs both detectors concurrently.
func (m *Manager) detect(detectors DetectorPair, left, right gocv.Mat) ([]stereo.Detection, []stereo.Detection, error) {
	start := time.Now()
	var leftDets, rightDets []stereo.Detection

	var g errgroup.Group
	g.Go(func() error {
		var err error
		leftDets, err = detectors.Left.Detect(left, m.threshold)
		if err != nil {
			return fmt.Errorf("left detection: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rightDets, err = detectors.Right.Detect(right, m.threshold)
		if err != nil {
			return fmt.Errorf("right detection: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	m.metrics.UpdateDetectionLatency(time.Since(start))
	return leftDets, rightDets, nil
}

// record updates metrics and logs what the pipeline dropped.
func (m *Manager) record(j *job, res *stereo.Result) {
	if res.Invalid != nil {
		n := 1
		if joined, ok := res.Invalid.(interface{ Unwrap() []error }); ok {
			n = len(joined.Unwrap())
		}
		m.metrics.InvalidDetections.Add(uint64(n))
		m.logger.Warning("Job %s: skipped %d invalid detection(s): %v", j.id, n, res.Invalid)
	}

	for _, pair := range res.Rejected {
		m.logger.Info("Job %s: rejected %s, disparity below %d px", j.id, pair.ClassName, m.pipeline.Estimator.Calibration.MinDisparityPx)
	}

	m.metrics.PairsMatched.Add(uint64(len(res.Pairs)))
	m.metrics.Measurements.Add(uint64(len(res.Measurements)))
	m.metrics.RejectedPairs.Add(uint64(len(res.Rejected)))
	if res.OK() {
		m.metrics.RunsDone.Add(1)
	} else {
		m.metrics.RunsNoMatches.Add(1)
	}
	m.logger.Info("Job %s: %d pair(s), %d measurement(s), %d rejected", j.id, len(res.Pairs), len(res.Measurements), len(res.Rejected))
}

// Stop cancels running camera sessions, drains the queue and waits for the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.cancel()
	close(m.processingQueue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("All processing workers stopped")
}
