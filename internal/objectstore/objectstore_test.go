package objectstore

import (
	"context"
	"io"
	"net"
	"regexp"
	"testing"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^user_uploads/[0-9a-f]{32}\.png$`)
	a, b := ObjectPath(), ObjectPath()
	assert.Regexp(t, re, a)
	assert.Regexp(t, re, b)
	assert.NotEqual(t, a, b)
}

func TestCleanPath(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"", "/etc/passwd", "../x.png", "a/../../x", "..", ".", `a\b.png`} {
		_, err := cleanPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}

	p, err := cleanPath("user_uploads//a/./b.png")
	require.NoError(t, err)
	assert.Equal(t, "user_uploads/a/b.png", p)
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user_uploads/a.png", publicURL("", "user_uploads/a.png"))
	assert.Equal(t, "https://cdn.example.com/user_uploads/a.png", publicURL("https://cdn.example.com/", "user_uploads/a.png"))
}

func TestLocalStorePutDelete(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store := NewLocalStoreFs(fs, "https://example.com/media")
	ctx := context.Background()

	p := ObjectPath()
	url, err := store.Put(ctx, p, []byte("png-bytes"), ContentTypePNG)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/media/"+p, url)

	data, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// no temporary files are left behind
	entries, err := afero.ReadDir(fs, UploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, store.Delete(ctx, p))
	exists, err := afero.Exists(fs, p)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Delete(ctx, p), "deleting a missing object succeeds")
}

func TestLocalStoreRejectsEscapingPath(t *testing.T) {
	t.Parallel()

	store := NewLocalStoreFs(afero.NewMemMapFs(), "")
	_, err := store.Put(context.Background(), "../outside.png", []byte("x"), ContentTypePNG)
	require.ErrorIs(t, err, ErrInvalidPath)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestLocalStoreOnDisk(t *testing.T) {
	t.Parallel()

	store := NewLocalStore(t.TempDir(), "")
	require.NoError(t, store.Validate(context.Background()))

	p := ObjectPath()
	url, err := store.Put(context.Background(), p, []byte{1, 2, 3}, ContentTypePNG)
	require.NoError(t, err)
	assert.Equal(t, p, url)
}

func TestLocalStoreHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalStoreFs(afero.NewMemMapFs(), "").Put(ctx, ObjectPath(), []byte("x"), ContentTypePNG)
	require.ErrorIs(t, err, context.Canceled)
}

// pipeDialer serves an in-memory SFTP filesystem over net.Pipe, one server per connection
func pipeDialer(t *testing.T, handlers sftp.Handlers) sftpDialer {
	t.Helper()
	return func(context.Context) (*sftp.Client, func() error, error) {
		clientConn, serverConn := net.Pipe()
		server := sftp.NewRequestServer(serverConn, handlers)
		go func() { _ = server.Serve() }()

		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			_ = server.Close()
			return nil, nil, err
		}
		return client, func() error {
			err := client.Close()
			_ = server.Close()
			return err
		}, nil
	}
}

func TestSFTPStorePutDelete(t *testing.T) {
	t.Parallel()

	handlers := sftp.InMemHandler()
	store := newSFTPStore("/srv/drawee/", "https://files.example.com", pipeDialer(t, handlers))
	ctx := context.Background()

	require.NoError(t, store.Validate(ctx))

	p := ObjectPath()
	url, err := store.Put(ctx, p, []byte("drawing"), ContentTypePNG)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/"+p, url)

	// read it back through a separate connection
	client, closeFn, err := store.dial(ctx)
	require.NoError(t, err)
	f, err := client.Open("/srv/drawee/" + p)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, closeFn())
	assert.Equal(t, []byte("drawing"), data)

	require.NoError(t, store.Delete(ctx, p))
	require.NoError(t, store.Delete(ctx, p))
}

func TestSFTPStoreRequiresHostAndAuth(t *testing.T) {
	t.Parallel()

	_, err := NewSFTPStore(&conf.SFTPSettings{}, "")
	require.Error(t, err)

	_, err = NewSFTPStore(&conf.SFTPSettings{Host: "files.example.com"}, "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	store, err := NewSFTPStore(&conf.SFTPSettings{Host: "files.example.com", Username: "u", Password: "p"}, "")
	require.NoError(t, err)
	assert.Equal(t, "sftp", store.Name())
}

func TestFTPStoreDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewFTPStore(&conf.FTPSettings{}, "")
	require.Error(t, err)

	store, err := NewFTPStore(&conf.FTPSettings{Host: "ftp.example.com", Path: "/pub/"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ftp.example.com:21", store.addr)
	assert.Equal(t, "/pub/user_uploads/a.png", store.remotePath("user_uploads/a.png"))
	assert.Equal(t, defaultTimeout, store.timeout)
	require.NoError(t, store.Close())
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	assert.False(t, isTransientError(nil))
	assert.True(t, isTransientError(errors.NewStd("read tcp: connection reset by peer")))
	assert.True(t, isTransientError(errors.NewStd("421 Service not available")))
	assert.False(t, isTransientError(errors.NewStd("530 Login incorrect")))
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	err := withRetry(context.Background(), 3, 0, func() error {
		calls++
		if calls == 1 {
			return errors.NewStd("connection reset")
		}
		return errors.NewStd("530 Login incorrect")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withRetry(context.Background(), 3, 0, func() error {
		calls++
		return errors.NewStd("broken pipe")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNewSelectsBackend(t *testing.T) {
	t.Parallel()

	store, err := New(&conf.StorageSettings{Type: conf.StorageLocal, BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())

	store, err = New(&conf.StorageSettings{Type: conf.StorageFTP, FTP: conf.FTPSettings{Host: "ftp.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "ftp", store.Name())

	_, err = New(&conf.StorageSettings{Type: "s3"})
	require.Error(t, err)
}
