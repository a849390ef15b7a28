package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"stereomeasure/internal/config"
	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/metrics"
	"stereomeasure/internal/model"
	"stereomeasure/internal/service/storage"
	"stereomeasure/internal/stereo"
)

type fakeDetector struct {
	dets  []stereo.Detection
	err   error
	delay time.Duration
}

func (f *fakeDetector) Detect(img gocv.Mat, threshold float64) ([]stereo.Detection, error) {
	time.Sleep(f.delay)
	return f.dets, f.err
}

type fakeCamera struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeCamera) Source() string { return "0" }

func (c *fakeCamera) Capture(ctx context.Context) (gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return gocv.Mat{}, c.err
	}
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 480, 640, gocv.MatTypeCV8UC3), nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []dto.JobEvent
}

func (h *fakeHub) BroadcastEvent(event dto.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHub) states(jobID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.events {
		if e.JobID == jobID {
			out = append(out, e.State)
		}
	}
	return out
}

type fakeStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (s *fakeStore) Save(rec storage.RunRecord) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, rec)
	return &model.Run{ID: int64(len(s.runs)), Source: rec.Source, Outcome: storage.Outcome(rec.Result)}, nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func det(t *testing.T, class string, x1, y1, x2, y2 int) stereo.Detection {
	t.Helper()
	d, err := stereo.NewDetection(class, 0.9, stereo.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2})
	require.NoError(t, err)
	return d
}

type harness struct {
	manager *Manager
	hub     *fakeHub
	store   *fakeStore
	camera  *fakeCamera
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, pairs []DetectorPair, queueSize int) *harness {
	t.Helper()

	l, err := logger.New(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	t.Cleanup(l.Close)

	h := &harness{hub: &fakeHub{}, store: &fakeStore{}, camera: &fakeCamera{}, metrics: metrics.New()}
	cfg := &config.Config{ConfidenceThreshold: 0.5, CaptureDelay: 3, QueueSize: queueSize}
	h.manager = NewManager(pairs, h.camera, h.store, h.hub, stereo.NewPipeline(stereo.DefaultCalibration(), stereo.MatchGreedy), h.metrics, cfg, l)
	h.manager.tick = time.Millisecond
	t.Cleanup(h.manager.Stop)
	return h
}

func bottlePair(t *testing.T) DetectorPair {
	return DetectorPair{
		Left:  &fakeDetector{dets: []stereo.Detection{det(t, "bottle", 400, 300, 480, 460)}},
		Right: &fakeDetector{dets: []stereo.Detection{det(t, "bottle", 250, 300, 330, 460)}},
	}
}

func TestMeasureUpload(t *testing.T) {
	h := newHarness(t, []DetectorPair{bottlePair(t)}, 4)
	img := testJPEG(t)

	out, err := h.manager.Measure(context.Background(), img, img)
	require.NoError(t, err)
	require.True(t, out.Result.OK())
	require.Len(t, out.Result.Measurements, 1)

	m := out.Result.Measurements[0]
	assert.Equal(t, "Bottle", m.Object)
	assert.Equal(t, 150, m.DisparityPx)
	assert.InDelta(t, 100.0, m.DepthCm, 1e-9)
	assert.InDelta(t, 8.0, m.WidthCm, 1e-9)
	assert.InDelta(t, 16.0, m.HeightCm, 1e-9)

	assert.Equal(t, "done", out.Report.Outcome)
	assert.Equal(t, "100.0", out.Report.Measurements[0].DepthCm)
	assert.Equal(t, []byte{0xFF, 0xD8}, out.Image[:2])
	require.NotNil(t, out.Run)
	assert.Equal(t, int64(1), out.Run.ID)

	assert.Equal(t, []string{StateQueued, StateDetecting, StateMatching, StateEstimating, StateDone}, h.hub.states(out.JobID))

	values, err := h.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["stereo_runs_done_total"])
	assert.Equal(t, 1.0, values["stereo_measurements_total"])
	assert.Equal(t, 0.0, values["stereo_queue_length"])
}

func TestMeasureNoMatches(t *testing.T) {
	pair := DetectorPair{
		Left:  &fakeDetector{dets: []stereo.Detection{det(t, "cup", 100, 100, 150, 160)}},
		Right: &fakeDetector{dets: []stereo.Detection{det(t, "book", 100, 100, 150, 160)}},
	}
	h := newHarness(t, []DetectorPair{pair}, 4)
	img := testJPEG(t)

	out, err := h.manager.Measure(context.Background(), img, img)
	require.NoError(t, err)
	assert.False(t, out.Result.OK())
	assert.ErrorIs(t, out.Result.Err(), stereo.ErrNoMatches)
	assert.Equal(t, "no_matches", out.Report.Outcome)
	assert.Empty(t, out.Report.Measurements)

	states := h.hub.states(out.JobID)
	assert.Equal(t, StateEmpty, states[len(states)-1])

	values, err := h.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["stereo_runs_no_matches_total"])
}

func TestMeasureRejectsBadImage(t *testing.T) {
	h := newHarness(t, []DetectorPair{bottlePair(t)}, 4)

	_, err := h.manager.Measure(context.Background(), []byte("not a jpeg"), testJPEG(t))
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = h.manager.Measure(context.Background(), testJPEG(t), nil)
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Empty(t, h.store.runs)
}

func TestMeasureDetectorFailure(t *testing.T) {
	boom := errors.New("boom")
	pair := DetectorPair{Left: &fakeDetector{}, Right: &fakeDetector{err: boom}}
	h := newHarness(t, []DetectorPair{pair}, 4)

	_, err := h.manager.Measure(context.Background(), testJPEG(t), testJPEG(t))
	assert.ErrorIs(t, err, boom)

	values, err := h.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["stereo_detection_failures_total"])
	assert.Equal(t, 1.0, values["stereo_runs_failed_total"])
}

func TestQueueFull(t *testing.T) {
	slow := DetectorPair{
		Left:  &fakeDetector{delay: 200 * time.Millisecond},
		Right: &fakeDetector{delay: 200 * time.Millisecond},
	}
	h := newHarness(t, []DetectorPair{slow}, 1)
	img := testJPEG(t)

	// One job in the worker, one in the queue, the rest are refused
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.Measure(context.Background(), img, img)
			errs <- err
		}()
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
	close(errs)

	full := 0
	for err := range errs {
		if errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	assert.GreaterOrEqual(t, full, 1)

	values, err := h.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, float64(full), values["stereo_jobs_dropped_total"])
}

func TestCameraSession(t *testing.T) {
	h := newHarness(t, []DetectorPair{bottlePair(t)}, 4)

	id, err := h.manager.StartSession()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		states := h.hub.states(id)
		return len(states) > 0 && states[len(states)-1] == StateDone
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{
		StateQueued, StateCapturingLeft,
		StateWaiting, StateWaiting, StateWaiting,
		StateCapturingRight, StateDetecting, StateMatching, StateEstimating, StateDone,
	}, h.hub.states(id))
	assert.Equal(t, 2, h.camera.calls)

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	require.Len(t, h.store.runs, 1)
	assert.Equal(t, "camera:0", h.store.runs[0].Source)
}

func TestCameraSessionCaptureFailure(t *testing.T) {
	h := newHarness(t, []DetectorPair{bottlePair(t)}, 4)
	h.camera.err = errors.New("no frame")

	id, err := h.manager.StartSession()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		states := h.hub.states(id)
		return len(states) > 0 && states[len(states)-1] == StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	values, err := h.metrics.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, values["stereo_capture_failures_total"])
}

func TestStoppedManagerRefusesJobs(t *testing.T) {
	h := newHarness(t, []DetectorPair{bottlePair(t)}, 4)
	h.manager.Stop()

	_, err := h.manager.Measure(context.Background(), testJPEG(t), testJPEG(t))
	assert.ErrorIs(t, err, ErrStopped)

	_, err = h.manager.StartSession()
	assert.ErrorIs(t, err, ErrStopped)
}
