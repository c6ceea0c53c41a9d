package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

const defaultSSHPort = 22

// sftpDialer opens a client; the returned close func releases the client and its transport
type sftpDialer func(ctx context.Context) (*sftp.Client, func() error, error)

// SFTPStore keeps objects on an SFTP server. Each operation uses its own connection.
type SFTPStore struct {
	basePath string
	baseURL  string
	dial     sftpDialer
}

// NewSFTPStore configures an SFTP store. No connection is made until the first operation.
func NewSFTPStore(cfg *conf.SFTPSettings, publicBaseURL string) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	port := cfg.Port
	if port == 0 {
		port = defaultSSHPort
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	clientConfig, err := sshClientConfig(cfg, timeout)
	if err != nil {
		return nil, errors.New(err).
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Context("backend", "sftp").
			Build()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	return newSFTPStore(cfg.Path, publicBaseURL, func(ctx context.Context) (*sftp.Client, func() error, error) {
		return dialSFTP(ctx, addr, clientConfig)
	}), nil
}

func newSFTPStore(basePath, publicBaseURL string, dial sftpDialer) *SFTPStore {
	return &SFTPStore{
		basePath: strings.TrimRight(basePath, "/"),
		baseURL:  publicBaseURL,
		dial:     dial,
	}
}

func sshClientConfig(cfg *conf.SFTPSettings, timeout time.Duration) (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    cfg.Username,
		Timeout: timeout,
	}

	switch {
	case cfg.KeyFile != "":
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cfg.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(cfg.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}

	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		GetLogger().Warn("sftp host key checking disabled", logger.String("host", cfg.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in through an empty known_hosts_file
	}

	return config, nil
}

// dialSFTP connects in the background so that ctx can abandon a slow handshake
func dialSFTP(ctx context.Context, addr string, config *ssh.ClientConfig) (*sftp.Client, func() error, error) {
	type connResult struct {
		client *sftp.Client
		ssh    *ssh.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client: client, ssh: sshConn}
	}()

	select {
	case <-ctx.Done():
		// release a connection that completes after we stopped waiting
		go func() {
			if r := <-resultChan; r.err == nil {
				_ = r.client.Close()
				_ = r.ssh.Close()
			}
		}()
		return nil, nil, ctx.Err()
	case r := <-resultChan:
		if r.err != nil {
			return nil, nil, r.err
		}
		closeFn := func() error {
			err := r.client.Close()
			if sshErr := r.ssh.Close(); err == nil {
				err = sshErr
			}
			return err
		}
		return r.client, closeFn, nil
	}
}

func (s *SFTPStore) Name() string {
	return "sftp"
}

func (s *SFTPStore) remotePath(p string) string {
	if s.basePath == "" {
		return p
	}
	return path.Join(s.basePath, p)
}

// Put uploads to a temporary name and renames it into place.
func (s *SFTPStore) Put(ctx context.Context, p string, data []byte, _ string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", storageError(err, s.Name(), "put", p)
	}

	client, closeFn, err := s.dial(ctx)
	if err != nil {
		return "", storageError(err, s.Name(), "connect", p)
	}
	defer func() { _ = closeFn() }()

	target := s.remotePath(p)
	if err := client.MkdirAll(path.Dir(target)); err != nil {
		return "", storageError(fmt.Errorf("sftp: failed to create directory: %w", err), s.Name(), "put", p)
	}

	tmp := path.Join(path.Dir(target), ".upload-"+uuid.NewString())
	if err := writeRemote(client, tmp, data); err != nil {
		_ = client.Remove(tmp)
		return "", storageError(err, s.Name(), "put", p)
	}

	if err := renameRemote(client, tmp, target); err != nil {
		_ = client.Remove(tmp)
		return "", storageError(fmt.Errorf("sftp: failed to rename: %w", err), s.Name(), "put", p)
	}

	GetLogger().Debug("stored object", logger.String("backend", s.Name()), logger.String("path", p))
	return publicURL(s.baseURL, p), nil
}

func writeRemote(client *sftp.Client, name string, data []byte) error {
	f, err := client.Create(name)
	if err != nil {
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("sftp: failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sftp: failed to close file: %w", err)
	}
	return nil
}

// renameRemote replaces target atomically when the server supports posix-rename
func renameRemote(client *sftp.Client, from, to string) error {
	if _, ok := client.HasExtension("posix-rename@openssh.com"); ok {
		return client.PosixRename(from, to)
	}
	if err := client.Remove(to); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return client.Rename(from, to)
}

func (s *SFTPStore) Delete(ctx context.Context, p string) error {
	p, err := cleanPath(p)
	if err != nil {
		return storageError(err, s.Name(), "delete", p)
	}

	client, closeFn, err := s.dial(ctx)
	if err != nil {
		return storageError(err, s.Name(), "connect", p)
	}
	defer func() { _ = closeFn() }()

	if err := client.Remove(s.remotePath(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageError(fmt.Errorf("sftp: failed to delete: %w", err), s.Name(), "delete", p)
	}
	return nil
}

// Validate creates and removes a test directory under the upload directory.
func (s *SFTPStore) Validate(ctx context.Context) error {
	client, closeFn, err := s.dial(ctx)
	if err != nil {
		return storageError(err, s.Name(), "connect", "")
	}
	defer func() { _ = closeFn() }()

	testDir := s.remotePath(path.Join(UploadDir, ".write_test"))
	if err := client.MkdirAll(testDir); err != nil {
		return storageError(fmt.Errorf("sftp: failed to create test directory: %w", err), s.Name(), "validate", testDir)
	}
	if err := client.RemoveDirectory(testDir); err != nil {
		GetLogger().Warn("failed to remove sftp test directory", logger.String("path", testDir), logger.Error(err))
	}
	return nil
}
