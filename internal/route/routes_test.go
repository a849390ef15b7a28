package route

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicHTMLHandler(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "index.html"), []byte("<h1>index</h1>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "runs.html"), []byte("<h1>runs</h1>"), 0644))

	tests := []struct {
		path     string
		expected int
		body     string
	}{
		{"/", http.StatusOK, "index"},
		{"/runs", http.StatusOK, "runs"},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		dynamicHTMLHandler(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.expected, rec.Code, tt.path)
		assert.Contains(t, rec.Body.String(), tt.body)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
