package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/drawee/drawee-go/internal/aggregate"
)

// validChildID rejects :child_id values that are not UUIDs
func validChildID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, err := uuid.Parse(ctx.Param("child_id")); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "child_id must be a UUID")
		}
		return next(ctx)
	}
}

// ListChildren handles GET /api/v2/children
func (c *Controller) ListChildren(ctx echo.Context) error {
	children, err := c.service.ListChildren(ctx.Request().Context(), ownerID(ctx))
	if err != nil {
		return c.handleServiceError(ctx, err)
	}

	resp := make([]ChildResponse, 0, len(children))
	for i := range children {
		ch := &children[i]
		resp = append(resp, ChildResponse{
			ID:          ch.ID,
			Name:        ch.Name,
			ResultCount: ch.ResultCount,
			CreatedAt:   ch.CreatedAt,
		})
	}
	return ctx.JSON(http.StatusOK, resp)
}

// ListResults handles GET /api/v2/children/:child_id/results, newest first
func (c *Controller) ListResults(ctx echo.Context) error {
	history, err := c.service.ListHistory(ctx.Request().Context(), ownerID(ctx), ctx.Param("child_id"))
	if err != nil {
		return c.handleServiceError(ctx, err)
	}

	resp := make([]ResultResponse, 0, len(history))
	for i := range history {
		r := &history[i]
		resp = append(resp, newResultResponse(r, c.service.FormatTimestamp(r.CreatedAt)))
	}
	return ctx.JSON(http.StatusOK, resp)
}

// GetSummary handles GET /api/v2/children/:child_id/summary
func (c *Controller) GetSummary(ctx echo.Context) error {
	owner := ownerID(ctx)
	childID := ctx.Param("child_id")
	key := summaryKey(owner, childID)

	if cached, found := c.summaryCache.Get(key); found {
		if summary, ok := cached.(*aggregate.Summary); ok {
			c.metrics.RecordCacheLookup(true)
			return ctx.JSON(http.StatusOK, summary)
		}
	}
	c.metrics.RecordCacheLookup(false)

	summary, err := c.service.Summarize(ctx.Request().Context(), owner, childID)
	if err != nil {
		return c.handleServiceError(ctx, err)
	}
	c.summaryCache.SetDefault(key, summary)
	return ctx.JSON(http.StatusOK, summary)
}

// DeleteResult handles DELETE /api/v2/results/:id
func (c *Controller) DeleteResult(ctx echo.Context) error {
	owner := ownerID(ctx)
	if err := c.service.DeleteResult(ctx.Request().Context(), owner, ctx.Param("id")); err != nil {
		return c.handleServiceError(ctx, err)
	}
	// the result's child is not known here
	c.invalidateOwnerSummaries(owner)
	return ctx.NoContent(http.StatusNoContent)
}

// DeleteChild handles DELETE /api/v2/children/:child_id
func (c *Controller) DeleteChild(ctx echo.Context) error {
	owner := ownerID(ctx)
	childID := ctx.Param("child_id")
	if err := c.service.DeleteChild(ctx.Request().Context(), owner, childID); err != nil {
		return c.handleServiceError(ctx, err)
	}
	c.invalidateSummary(owner, childID)
	return ctx.NoContent(http.StatusNoContent)
}
