package classifier

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/drawee/drawee-go/internal/httpclient"
)

// URLPlaceholder is replaced by the blob id in an HTTPSource template
const URLPlaceholder = "{id}"

// HTTPSource downloads weights from a URL template.
type HTTPSource struct {
	client   *httpclient.Client
	template string
}

// NewHTTPSource returns a source fetching template with the id substituted
func NewHTTPSource(client *httpclient.Client, template string) (*HTTPSource, error) {
	if !strings.Contains(template, URLPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s placeholder", template, URLPlaceholder)
	}
	return &HTTPSource{client: client, template: template}, nil
}

// Name returns "http"
func (s *HTTPSource) Name() string {
	return "http"
}

// URL returns the download URL for id
func (s *HTTPSource) URL(id string) string {
	return strings.ReplaceAll(s.template, URLPlaceholder, url.PathEscape(id))
}

// Fetch streams the body at URL(id) into w
func (s *HTTPSource) Fetch(ctx context.Context, id string, w io.Writer) error {
	_, err := s.client.Download(ctx, s.URL(id), w)
	return err
}
