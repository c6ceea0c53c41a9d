// Package middleware provides HTTP middleware components for the drawee server.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// NewRequestLogger logs every request to log and records it in m. Both may be nil.
func NewRequestLogger(log logger.Logger, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, m, nil)
}

// NewRequestLoggerWithSkipper is NewRequestLogger with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, m *metrics.HTTPMetrics, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipper,
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRoutePath: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// route templates keep the label set bounded
			m.RecordHTTPRequest(v.Method, v.RoutePath, v.Status, v.Latency.Seconds())

			if log == nil {
				return nil
			}
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
