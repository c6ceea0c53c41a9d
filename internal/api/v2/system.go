package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/drawee/drawee-go/internal/logger"
)

// HealthCheck handles GET /api/v2/health
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := c.build.Uptime()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       c.build.GetVersion(),
		BuildDate:     c.build.GetBuildDate(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		GetLogger().Debug("memory stats unavailable", logger.Error(err))
	} else {
		resp.Memory = &MemoryStats{
			Total:       vm.Total,
			Available:   vm.Available,
			UsedPercent: vm.UsedPercent,
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

// ListStages handles GET /api/v2/stages
func (c *Controller) ListStages(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.service.Stages())
}
