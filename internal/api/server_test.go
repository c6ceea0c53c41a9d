package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/aggregate"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/drawee"
	"github.com/drawee/drawee-go/internal/stage"
)

// stubService answers only the public endpoints
type stubService struct{}

func (stubService) Classify(context.Context, drawee.ClassifyRequest) (*drawee.Classification, error) {
	return nil, datastore.ErrChildNotFound
}

func (stubService) ClassifyForName(context.Context, string, string, []byte) (*drawee.Classification, error) {
	return nil, datastore.ErrChildNotFound
}

func (stubService) ListHistory(context.Context, string, string) ([]datastore.Result, error) {
	return nil, nil
}

func (stubService) Summarize(context.Context, string, string) (*aggregate.Summary, error) {
	return nil, datastore.ErrChildNotFound
}

func (stubService) DeleteResult(context.Context, string, string) error { return nil }

func (stubService) DeleteChild(context.Context, string, string) error { return nil }

func (stubService) ListChildren(context.Context, string) ([]datastore.ChildSummary, error) {
	return []datastore.ChildSummary{}, nil
}

func (stubService) Stages() []stage.Info { return stage.MustDefault().Entries() }

func (stubService) FormatTimestamp(t time.Time) string { return t.String() }

func TestServerRoutesAndErrorHandler(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{
		Upload:    conf.UploadSettings{MaxBytes: 1 << 20},
		WebServer: conf.WebServerSettings{Listen: "127.0.0.1:0"},
	}
	s, err := New(settings, stubService{}, nil)
	require.NoError(t, err)
	require.NotNil(t, s.Controller())

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/children", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "correlation_id")
}

func TestServerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{
		WebServer: conf.WebServerSettings{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second},
	}
	s, err := New(settings, stubService{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerServesLocalDrawings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "user_uploads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_uploads", "a.png"), []byte("png"), 0o600))

	settings := &conf.Settings{
		Storage: conf.StorageSettings{Type: conf.StorageLocal, BasePath: dir},
	}
	s, err := New(settings, stubService{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, FilesPrefix+"/user_uploads/a.png", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())
}

func TestServerHidesUploadDotfiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	uploads := filepath.Join(dir, "user_uploads")
	require.NoError(t, os.MkdirAll(uploads, 0o755))
	for _, name := range []string{"a.png", ".upload-123", ".write_test"} {
		require.NoError(t, os.WriteFile(filepath.Join(uploads, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drawee.db"), []byte("db"), 0o600))

	settings := &conf.Settings{
		Storage: conf.StorageSettings{Type: conf.StorageLocal, BasePath: dir},
	}
	s, err := New(settings, stubService{}, nil)
	require.NoError(t, err)

	tests := []struct {
		path string
		want int
	}{
		{FilesPrefix + "/user_uploads/a.png", http.StatusOK},
		{FilesPrefix + "/user_uploads/.upload-123", http.StatusNotFound},
		{FilesPrefix + "/user_uploads/.write_test", http.StatusNotFound},
		{FilesPrefix + "/user_uploads/missing.png", http.StatusNotFound},
		{FilesPrefix + "/drawee.db", http.StatusNotFound},
		{FilesPrefix + "/user_uploads/..%2Fdrawee.db", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}
