package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
	"stereomeasure/internal/service"
	"stereomeasure/internal/service/ai"
)

// MaxUploadSize bounds a left+right multipart upload.
const MaxUploadSize = 32 << 20

// Measurer runs an uploaded image pair through the pipeline.
type Measurer interface {
	Measure(ctx context.Context, left, right []byte) (*service.Outcome, error)
}

// SessionStarter queues a camera capture session.
type SessionStarter interface {
	StartSession() (string, error)
}

// MeasureResponse is returned by POST /api/measure.
type MeasureResponse struct {
	JobID   string                `json:"jobId"`
	RunID   int64                 `json:"runId,omitempty"`
	Image   string                `json:"image,omitempty"`
	Outcome string                `json:"outcome"`
	Message string                `json:"message,omitempty"`
	Report  dto.MeasurementReport `json:"report"`
}

// statusFor maps job errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrStopped),
		errors.Is(err, service.ErrNoCamera), errors.Is(err, ai.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func readPart(r *http.Request, name string) ([]byte, error) {
	file, _, err := r.FormFile(name)
	if err != nil {
		return nil, fmt.Errorf("missing %q image: %w", name, err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

// MeasureHandler handles POST /api/measure with multipart "left" and "right" JPEG files.
// A pair with no matches is still a 200, with outcome "no_matches".
func MeasureHandler(measurer Measurer, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			http.Error(w, "Invalid upload", http.StatusBadRequest)
			return
		}

		left, err := readPart(r, "left")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		right, err := readPart(r, "right")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out, err := measurer.Measure(r.Context(), left, right)
		if err != nil {
			logger.Error("Measurement failed: %v", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		resp := MeasureResponse{
			JobID:   out.JobID,
			Outcome: out.Report.Outcome,
			Report:  out.Report,
		}
		if out.Run != nil {
			resp.RunID = out.Run.ID
			resp.Image = out.Run.Filename
		}
		if err := out.Result.Err(); err != nil {
			resp.Message = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("Error encoding JSON response: %v", err)
		}
	}
}

// SessionHandler handles POST /api/session. The session runs in the background
// and reports through the websocket; the response only carries the job id.
func SessionHandler(starter SessionStarter, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id, err := starter.StartSession()
		if err != nil {
			logger.Warning("Could not start camera session: %v", err)
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"jobId": id})
	}
}
