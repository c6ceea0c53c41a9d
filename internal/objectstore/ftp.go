package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

const (
	defaultFTPPort  = 21
	defaultMaxConns = 4
)

// FTPStore keeps objects on an FTP server, reusing idle connections and
// retrying transient transport errors.
type FTPStore struct {
	addr     string
	username string
	password string
	basePath string
	baseURL  string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	pool     chan *ftp.ServerConn
}

// NewFTPStore configures an FTP store. No connection is made until the first operation.
func NewFTPStore(cfg *conf.FTPSettings, publicBaseURL string) (*FTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	port := cfg.Port
	if port == 0 {
		port = defaultFTPPort
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &FTPStore{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username: cfg.Username,
		password: cfg.Password,
		basePath: strings.TrimRight(cfg.Path, "/"),
		baseURL:  publicBaseURL,
		timeout:  timeout,
		retries:  defaultMaxRetries,
		backoff:  defaultRetryBackoff,
		pool:     make(chan *ftp.ServerConn, defaultMaxConns),
	}, nil
}

func (s *FTPStore) Name() string {
	return "ftp"
}

func (s *FTPStore) remotePath(p string) string {
	if s.basePath == "" {
		return p
	}
	return path.Join(s.basePath, p)
}

// getConnection takes a live connection from the pool or dials a new one
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.pool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return s.connect(ctx)
}

// returnConnection parks conn for reuse or closes it when the pool is full
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.pool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			GetLogger().Debug("failed to close ftp connection", logger.Error(err))
		}
	}
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(s.addr, ftp.DialWithTimeout(s.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp: connection failed: %w", err)
	}
	if s.username != "" {
		if err := conn.Login(s.username, s.password); err != nil {
			_ = conn.Quit()
			return nil, fmt.Errorf("ftp: login failed: %w", err)
		}
	}
	return conn, nil
}

// withConnection runs op on a pooled connection. Failed connections are
// discarded and transient failures are retried.
func (s *FTPStore) withConnection(ctx context.Context, op func(*ftp.ServerConn) error) error {
	return withRetry(ctx, s.retries, s.backoff, func() error {
		conn, err := s.getConnection(ctx)
		if err != nil {
			return err
		}
		if err := op(conn); err != nil {
			_ = conn.Quit()
			return err
		}
		s.returnConnection(conn)
		return nil
	})
}

// Put uploads to a temporary name and renames it into place.
func (s *FTPStore) Put(ctx context.Context, p string, data []byte, _ string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", storageError(err, s.Name(), "put", p)
	}

	target := s.remotePath(p)
	err = s.withConnection(ctx, func(conn *ftp.ServerConn) error {
		if err := makeDirs(conn, path.Dir(target)); err != nil {
			return err
		}
		tmp := path.Join(path.Dir(target), "tmp-"+uuid.NewString())
		if err := conn.Stor(tmp, bytes.NewReader(data)); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp: upload failed: %w", err)
		}
		if err := conn.Rename(tmp, target); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp: failed to rename temporary file: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", storageError(err, s.Name(), "put", p)
	}

	GetLogger().Debug("stored object", logger.String("backend", s.Name()), logger.String("path", p))
	return publicURL(s.baseURL, p), nil
}

func (s *FTPStore) Delete(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return storageError(err, s.Name(), "delete", p)
	}

	err = s.withConnection(ctx, func(conn *ftp.ServerConn) error {
		if err := conn.Delete(s.remotePath(p)); err != nil && !isFTPNotFound(err) {
			return fmt.Errorf("ftp: failed to delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return storageError(err, s.Name(), "delete", p)
	}
	return nil
}

// Validate checks that the upload directory can be created.
func (s *FTPStore) Validate(ctx context.Context) error {
	err := s.withConnection(ctx, func(conn *ftp.ServerConn) error {
		return makeDirs(conn, s.remotePath(UploadDir))
	})
	if err != nil {
		return storageError(err, s.Name(), "validate", "")
	}
	return nil
}

// Close quits every pooled connection.
func (s *FTPStore) Close() error {
	for {
		select {
		case conn := <-s.pool:
			_ = conn.Quit()
		default:
			return nil
		}
	}
}

// makeDirs creates each component of dir, treating "exists" replies as success
func makeDirs(conn *ftp.ServerConn, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isFTPExists(err) {
			return fmt.Errorf("ftp: failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

func isFTPExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exists") || strings.HasPrefix(msg, "550")
}

func isFTPNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.HasPrefix(msg, "550") || strings.Contains(msg, "no such file") || strings.Contains(msg, "not found")
}
