package camera

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stereomeasure/internal/config"
	"stereomeasure/internal/logger"
)

func TestCaptureFromMissingSource(t *testing.T) {
	dir := t.TempDir()
	l, err := logger.New(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	defer l.Close()

	s := NewCaptureService(&config.Config{CameraSource: filepath.Join(dir, "no-such-stream.mjpg")}, l)
	assert.Equal(t, filepath.Join(dir, "no-such-stream.mjpg"), s.Source())

	_, err = s.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureFailure)
}
