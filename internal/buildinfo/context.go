// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

import "time"

// Set at build time: -ldflags "-X github.com/drawee/drawee-go/internal/buildinfo.version=v1.2.3"
var (
	version   string
	buildDate string
)

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	Version   string
	BuildDate string
	StartedAt time.Time
}

// Current returns the metadata of the running binary.
func Current() *Context {
	return &Context{Version: version, BuildDate: buildDate, StartedAt: startedAt}
}

var startedAt = time.Now()

// GetVersion returns the version, or "unknown" for development builds
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate returns the build date, or "unknown" for development builds
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}

// Uptime returns the time since the process started
func (c *Context) Uptime() time.Duration {
	if c == nil || c.StartedAt.IsZero() {
		return 0
	}
	return time.Since(c.StartedAt)
}
