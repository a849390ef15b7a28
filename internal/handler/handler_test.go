package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stereomeasure/internal/config"
	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/model"
	"stereomeasure/internal/repository/sqlite"
	"stereomeasure/internal/service"
	"stereomeasure/internal/service/ai"
	"stereomeasure/internal/service/storage"
	"stereomeasure/internal/stereo"
)

// ========================================
// Test Setup Helpers
// ========================================

func setupLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

type testStore struct {
	runs         *sqlite.RunRepository
	measurements *sqlite.MeasurementRepository
	results      *storage.ResultService
}

func setupStore(t *testing.T, l *logger.Logger) *testStore {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := &testStore{runs: sqlite.NewRunRepository(db), measurements: sqlite.NewMeasurementRepository(db)}
	s.results = storage.NewResultService(&config.Config{ImageDirectory: filepath.Join(dir, "images")}, l, s.runs, s.measurements)
	return s
}

func saveRun(t *testing.T, s *testStore, source string, objects ...string) *model.Run {
	t.Helper()
	res := &stereo.Result{State: stereo.StateEmpty}
	if len(objects) > 0 {
		res.State = stereo.StateDone
	}
	for i, o := range objects {
		res.Pairs = append(res.Pairs, stereo.MatchedPair{ClassName: o})
		res.Measurements = append(res.Measurements, stereo.Measurement{
			Object: o, Confidence: 0.9, DepthCm: 100 + float64(i), WidthCm: 8, HeightCm: 16,
			Position2D: stereo.Point{X: 440, Y: 380}, DisparityPx: 150,
		})
	}
	run, err := s.results.Save(storage.RunRecord{Source: source, Timestamp: time.Now(), Result: res, Image: []byte("jpeg-bytes")})
	require.NoError(t, err)
	return run
}

type fakeMeasurer struct {
	out *service.Outcome
	err error
	got [2][]byte
}

func (f *fakeMeasurer) Measure(ctx context.Context, left, right []byte) (*service.Outcome, error) {
	f.got = [2][]byte{left, right}
	return f.out, f.err
}

type fakeStarter struct {
	id  string
	err error
}

func (f *fakeStarter) StartSession() (string, error) { return f.id, f.err }

func multipartRequest(t *testing.T, parts map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range parts {
		fw, err := mw.CreateFormFile(name, name+".jpg")
		require.NoError(t, err)
		fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/measure", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// ========================================
// Measure / Session Handler Tests
// ========================================

func TestMeasureHandler(t *testing.T) {
	ts := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	res := &stereo.Result{State: stereo.StateDone}
	m := &fakeMeasurer{out: &service.Outcome{
		JobID:  "job-7",
		Run:    &model.Run{ID: 3, Filename: "a.jpg"},
		Result: res,
		Report: dto.NewReport(ts, "upload", "done", []stereo.Measurement{{Object: "Bottle", DepthCm: 100}}),
	}}

	rec := httptest.NewRecorder()
	MeasureHandler(m, setupLogger(t)).ServeHTTP(rec, multipartRequest(t, map[string]string{"left": "L", "right": "R"}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "L", string(m.got[0]))
	assert.Equal(t, "R", string(m.got[1]))

	var resp MeasureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-7", resp.JobID)
	assert.Equal(t, int64(3), resp.RunID)
	assert.Equal(t, "done", resp.Outcome)
	assert.Equal(t, "100.0", resp.Report.Measurements[0].DepthCm)
}

func TestMeasureHandlerNoMatchesIsOK(t *testing.T) {
	m := &fakeMeasurer{out: &service.Outcome{
		Result: &stereo.Result{State: stereo.StateEmpty},
		Report: dto.NewReport(time.Now(), "upload", "no_matches", nil),
	}}

	rec := httptest.NewRecorder()
	MeasureHandler(m, setupLogger(t)).ServeHTTP(rec, multipartRequest(t, map[string]string{"left": "L", "right": "R"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MeasureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no_matches", resp.Outcome)
	assert.Equal(t, stereo.ErrNoMatches.Error(), resp.Message)
}

func TestMeasureHandlerErrors(t *testing.T) {
	l := setupLogger(t)

	tests := []struct {
		name     string
		err      error
		parts    map[string]string
		expected int
	}{
		{"missing right", nil, map[string]string{"left": "L"}, http.StatusBadRequest},
		{"bad image", service.ErrInvalidImage, map[string]string{"left": "L", "right": "R"}, http.StatusBadRequest},
		{"queue full", service.ErrQueueFull, map[string]string{"left": "L", "right": "R"}, http.StatusServiceUnavailable},
		{"model unavailable", fmt.Errorf("left detection: %w", ai.ErrModelUnavailable), map[string]string{"left": "L", "right": "R"}, http.StatusServiceUnavailable},
		{"detector fault", fmt.Errorf("right detection: input image is empty"), map[string]string{"left": "L", "right": "R"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			MeasureHandler(&fakeMeasurer{err: tt.err}, l).ServeHTTP(rec, multipartRequest(t, tt.parts))
			assert.Equal(t, tt.expected, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	MeasureHandler(&fakeMeasurer{}, l).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/measure", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionHandler(t *testing.T) {
	l := setupLogger(t)

	rec := httptest.NewRecorder()
	SessionHandler(&fakeStarter{id: "job-1"}, l).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"job-1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	SessionHandler(&fakeStarter{err: service.ErrNoCamera}, l).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ========================================
// Runs Handler Tests
// ========================================

func TestGetRunsHandler(t *testing.T) {
	l := setupLogger(t)
	s := setupStore(t, l)
	saveRun(t, s, "upload", "Bottle")
	saveRun(t, s, "camera:0", "Cell Phone", "Cup")
	saveRun(t, s, "upload")

	rec := httptest.NewRecorder()
	GetRunsHandler(l, s.runs, s.measurements).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Runs []struct {
			ID      int64    `json:"id"`
			Objects []string `json:"objects"`
		} `json:"runs"`
		Objects    []string `json:"objects"`
		Sources    []string `json:"sources"`
		Length     int      `json:"length"`
		TotalPages int      `json:"totalPages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	assert.Len(t, data.Runs, 2)
	assert.Equal(t, 3, data.Length)
	assert.Equal(t, 2, data.TotalPages)
	assert.Equal(t, []string{"Bottle", "Cell Phone", "Cup"}, data.Objects)
	assert.Equal(t, []string{"camera:0", "upload"}, data.Sources)

	rec = httptest.NewRecorder()
	q := url.Values{"object": {"Cell Phone"}}
	GetRunsHandler(l, s.runs, s.measurements).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?"+q.Encode(), nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
	require.Len(t, data.Runs, 1)
	assert.Equal(t, []string{"Cell Phone", "Cup"}, data.Runs[0].Objects)
}

func TestRunReportHandler(t *testing.T) {
	l := setupLogger(t)
	s := setupStore(t, l)
	run := saveRun(t, s, "upload", "Bottle")

	rec := httptest.NewRecorder()
	RunReportHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/report?id="+itoa(run.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="measurements_`)

	var report dto.MeasurementReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Measurements, 1)
	assert.Equal(t, "Bottle", report.Measurements[0].Object)
	assert.Equal(t, "100.0", report.Measurements[0].DepthCm)
	assert.Equal(t, [2]int{440, 380}, report.Measurements[0].Position2D)

	rec = httptest.NewRecorder()
	RunReportHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/report?id=999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	RunReportHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/report?id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunImageHandler(t *testing.T) {
	l := setupLogger(t)
	s := setupStore(t, l)
	run := saveRun(t, s, "upload", "Bottle")

	rec := httptest.NewRecorder()
	RunImageHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/image?id="+itoa(run.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
}

func TestDeleteAndClearRunsHandlers(t *testing.T) {
	l := setupLogger(t)
	s := setupStore(t, l)
	first := saveRun(t, s, "upload", "Bottle")
	saveRun(t, s, "upload", "Cup")

	rec := httptest.NewRecorder()
	DeleteRunHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/delete?id="+itoa(first.ID), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	DeleteRunHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/delete?id="+itoa(first.ID), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	count, err := s.runs.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec = httptest.NewRecorder()
	ClearRunsHandler(l, s.results).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	count, err = s.runs.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ========================================
// Log / Auth Handler Tests
// ========================================

func TestLogsHandlers(t *testing.T) {
	l := setupLogger(t)
	l.Info("measurement finished")

	rec := httptest.NewRecorder()
	ShowLogsHandler(l, logger.InfoFile).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "measurement finished")

	rec = httptest.NewRecorder()
	ClearLogsHandler(l, logger.InfoFile).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logs/info/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	b, err := os.ReadFile(filepath.Join(l.Dir(), logger.InfoFile))
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestLoginHandler(t *testing.T) {
	l := setupLogger(t)
	cfg := &config.Config{Password: "secret"}

	form := strings.NewReader("password=secret")
	req := httptest.NewRequest(http.MethodPost, "/auth/login", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	LoginHandler(cfg, l).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, "true", rec.Result().Cookies()[0].Value)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("password=nope"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	LoginHandler(cfg, l).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, atoiDefault(tt.input, tt.def), "atoiDefault(%q, %d)", tt.input, tt.def)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
