package classifier

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveSource downloads weights from Google Drive by file id.
type DriveSource struct {
	service *drive.Service
}

// NewDriveSource creates a Drive client. A credentials file takes
// precedence over an API key; with neither, requests are unauthenticated.
func NewDriveSource(ctx context.Context, apiKey, credentialsFile string, extra ...option.ClientOption) (*DriveSource, error) {
	opts := make([]option.ClientOption, 0, len(extra)+2)
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile), option.WithScopes(drive.DriveReadonlyScope))
	case apiKey != "":
		opts = append(opts, option.WithAPIKey(apiKey))
	default:
		opts = append(opts, option.WithoutAuthentication())
	}
	opts = append(opts, extra...)

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveSource{service: service}, nil
}

// Name returns "drive"
func (s *DriveSource) Name() string {
	return "drive"
}

// Fetch streams the content of file id into w.
func (s *DriveSource) Fetch(ctx context.Context, id string, w io.Writer) error {
	resp, err := s.service.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("drive download %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("drive download %s: %w", id, err)
	}
	return nil
}
