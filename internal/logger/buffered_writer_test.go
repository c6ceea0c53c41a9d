package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedFileWriter_Write(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "test.log")
	writer, err := NewBufferedFileWriter(logPath, WithFlushInterval(0))
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	testData := "classified drawing\n"
	n, err := writer.Write([]byte(testData))
	require.NoError(t, err)
	assert.Equal(t, len(testData), n)
	assert.Positive(t, writer.Buffered())

	require.NoError(t, writer.Flush())
	assert.Equal(t, 0, writer.Buffered())

	content, err := os.ReadFile(logPath) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	assert.Equal(t, testData, string(content))
}

func TestBufferedFileWriter_AutoFlush(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "autoflush.log")
	writer, err := NewBufferedFileWriter(logPath, WithFlushInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	_, err = writer.Write([]byte("auto\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return writer.Buffered() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBufferedFileWriter_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "close.log")
	writer, err := NewBufferedFileWriter(logPath)
	require.NoError(t, err)

	_, err = writer.Write([]byte("before close\n"))
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	_, err = writer.Write([]byte("after close\n"))
	require.Error(t, err)

	content, err := os.ReadFile(logPath) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	assert.Equal(t, "before close\n", string(content))
}

func TestBufferedFileWriter_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	writer, err := NewBufferedFileWriter(logPath, WithBufferSize(256))
	require.NoError(t, err)

	const goroutines, writes = 8, 50
	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range writes {
				_, _ = fmt.Fprintf(writer, "g%d-%d\n", g, i)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	content, err := os.ReadFile(logPath) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	assert.Len(t, lines, goroutines*writes)
}

func TestBufferedFileWriter_AppendMode(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "append.log")
	require.NoError(t, os.WriteFile(logPath, []byte("existing\n"), 0o600))

	writer, err := NewBufferedFileWriter(logPath)
	require.NoError(t, err)
	_, err = writer.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	content, err := os.ReadFile(logPath) //nolint:gosec // t.TempDir path
	require.NoError(t, err)
	assert.Equal(t, "existing\nnew\n", string(content))
	assert.Equal(t, logPath, writer.FilePath())
}

func TestNewBufferedFileWriter_InvalidPath(t *testing.T) {
	t.Parallel()

	_, err := NewBufferedFileWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	require.Error(t, err)
}
