// Package api provides the v2 JSON endpoints of the drawee server.
package api

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/drawee/drawee-go/internal/aggregate"
	"github.com/drawee/drawee-go/internal/api/middleware"
	"github.com/drawee/drawee-go/internal/buildinfo"
	"github.com/drawee/drawee-go/internal/classifier"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/drawee"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/imageprep"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
	"github.com/drawee/drawee-go/internal/stage"
)

const (
	// summaryCacheTTL is how long a child's summary is served from cache
	summaryCacheTTL = 5 * time.Minute
	// summaryCacheCleanup is the expired entry purge interval
	summaryCacheCleanup = 10 * time.Minute

	// StatusClientClosedRequest reports a request the client abandoned
	StatusClientClosedRequest = 499

	correlationIDLength = 8
	correlationCharset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	loggerOnce sync.Once
	apiLogger  logger.Logger
)

// GetLogger returns the api module logger
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		apiLogger = logger.Global().Module("api")
	})
	return apiLogger
}

// Service is the drawee functionality served over HTTP.
type Service interface {
	Classify(ctx context.Context, req drawee.ClassifyRequest) (*drawee.Classification, error)
	ClassifyForName(ctx context.Context, ownerID, childName string, image []byte) (*drawee.Classification, error)
	ListHistory(ctx context.Context, ownerID, childID string) ([]datastore.Result, error)
	Summarize(ctx context.Context, ownerID, childID string) (*aggregate.Summary, error)
	DeleteResult(ctx context.Context, ownerID, resultID string) error
	DeleteChild(ctx context.Context, ownerID, childID string) error
	ListChildren(ctx context.Context, ownerID string) ([]datastore.ChildSummary, error)
	Stages() []stage.Info
	FormatTimestamp(t time.Time) string
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	service      Service
	summaryCache *cache.Cache
	metrics      *metrics.HTTPMetrics
	build        *buildinfo.Context
}

// New creates the controller and registers its routes under /api/v2.
// m may be nil.
func New(e *echo.Echo, svc Service, settings *conf.Settings, m *metrics.HTTPMetrics) (*Controller, error) {
	if svc == nil {
		return nil, errors.Newf("api controller requires a service").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings == nil {
		settings = &conf.Settings{}
	}

	c := &Controller{
		Echo:         e,
		Group:        e.Group("/api/v2"),
		Settings:     settings,
		service:      svc,
		summaryCache: cache.New(summaryCacheTTL, summaryCacheCleanup),
		metrics:      m,
		build:        buildinfo.Current(),
	}
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	// public
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/stages", c.ListStages)

	owned := c.Group.Group("", middleware.RequireOwner())
	owned.GET("/children", c.ListChildren)
	owned.POST("/drawings", c.ClassifyDrawingForName)
	owned.POST("/children/:child_id/drawings", c.ClassifyDrawing, validChildID)
	owned.GET("/children/:child_id/results", c.ListResults, validChildID)
	owned.GET("/children/:child_id/summary", c.GetSummary, validChildID)
	owned.DELETE("/children/:child_id", c.DeleteChild, validChildID)
	owned.DELETE("/results/:id", c.DeleteResult)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error response with a fresh correlation id
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorText := http.StatusText(code)
	if err != nil {
		errorText = err.Error()
	}
	return &ErrorResponse{
		Error:         errorText,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	b := make([]byte, correlationIDLength)
	limit := big.NewInt(int64(len(correlationCharset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			b[i] = correlationCharset[i%len(correlationCharset)]
			continue
		}
		b[i] = correlationCharset[n.Int64()]
	}
	return string(b)
}

// HandleError logs err and writes it as an ErrorResponse.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("method", ctx.Request().Method),
		logger.String("path", ctx.Path()),
		logger.Int("status", code),
		logger.String("category", string(errors.CategoryOf(err))),
		logger.Error(err),
	}
	switch {
	case code >= http.StatusInternalServerError:
		GetLogger().Error(message, fields...)
	default:
		GetLogger().Debug(message, fields...)
	}

	return ctx.JSON(code, resp)
}

// handleServiceError maps a service failure to its status code.
func (c *Controller) handleServiceError(ctx echo.Context, err error) error {
	code, message := StatusFor(err)
	if code == http.StatusInternalServerError && isDefect(err) {
		GetLogger().Error("classification defect",
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Error(err))
	}
	return c.HandleError(ctx, err, message, code)
}

// StatusFor returns the HTTP status and client message for a service error.
func StatusFor(err error) (int, string) {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, http.StatusText(httpErr.Code)
	case errors.Is(err, drawee.ErrInvalidRequest), errors.Is(err, datastore.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, imageprep.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported image format"
	case errors.Is(err, imageprep.ErrDecode):
		return http.StatusBadRequest, "image cannot be decoded"
	case errors.Is(err, classifier.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "classifier is unavailable"
	case errors.Is(err, datastore.ErrChildNotFound):
		return http.StatusNotFound, "child not found"
	case errors.Is(err, datastore.ErrResultNotFound), errors.IsNotFound(err):
		return http.StatusNotFound, "result not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	case isDefect(err):
		return http.StatusInternalServerError, "classification failed"
	case errors.Is(err, datastore.ErrPersistence):
		return http.StatusInternalServerError, "storage failure"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// isDefect reports failures that indicate broken models rather than bad input
func isDefect(err error) bool {
	return errors.Is(err, classifier.ErrInference) ||
		errors.IsCategory(err, errors.CategoryInference) ||
		errors.IsCategory(err, errors.CategoryShapeMismatch)
}

// HTTPErrorHandler renders errors returned by middleware and handlers as ErrorResponse.
func (c *Controller) HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok && m != "" {
			message = m
		}
		_ = c.HandleError(ctx, err, message, httpErr.Code)
		return
	}
	_ = c.handleServiceError(ctx, err)
}

// ownerID returns the identity set by the owner middleware
func ownerID(ctx echo.Context) string {
	return middleware.OwnerID(ctx)
}

func summaryKey(owner, childID string) string {
	return owner + "|" + childID
}

// invalidateSummary drops the cached summary of one child
func (c *Controller) invalidateSummary(owner, childID string) {
	c.summaryCache.Delete(summaryKey(owner, childID))
}

// invalidateOwnerSummaries drops every cached summary of owner
func (c *Controller) invalidateOwnerSummaries(owner string) {
	prefix := summaryKey(owner, "")
	for key := range c.summaryCache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.summaryCache.Delete(key)
		}
	}
}
