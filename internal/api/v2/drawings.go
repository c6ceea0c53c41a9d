package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/drawee/drawee-go/internal/drawee"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
)

const (
	// imageField is the multipart field holding the drawing
	imageField = "image"
	// childNameField names the child on the name-based upload
	childNameField = "child_name"
	// defaultMaxUpload applies when upload.max_bytes is unset
	defaultMaxUpload = 10 << 20
)

// ClassifyDrawing handles POST /api/v2/children/:child_id/drawings
func (c *Controller) ClassifyDrawing(ctx echo.Context) error {
	owner := ownerID(ctx)
	childID := ctx.Param("child_id")

	image, err := c.readImage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "an image file is required", http.StatusBadRequest)
	}

	result, err := c.service.Classify(ctx.Request().Context(), drawee.ClassifyRequest{
		OwnerID: owner,
		ChildID: childID,
		Image:   image,
	})
	if err != nil {
		return c.handleServiceError(ctx, err)
	}
	c.invalidateSummary(owner, childID)

	return ctx.JSON(http.StatusCreated, newClassificationResponse(result, c.service.FormatTimestamp(result.Result.CreatedAt)))
}

// ClassifyDrawingForName handles POST /api/v2/drawings. The child is
// created on first use of its name.
func (c *Controller) ClassifyDrawingForName(ctx echo.Context) error {
	owner := ownerID(ctx)

	name := strings.TrimSpace(ctx.FormValue(childNameField))
	if name == "" {
		return c.HandleError(ctx, nil, "child_name is required", http.StatusBadRequest)
	}

	image, err := c.readImage(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "an image file is required", http.StatusBadRequest)
	}

	result, err := c.service.ClassifyForName(ctx.Request().Context(), owner, name, image)
	if err != nil {
		return c.handleServiceError(ctx, err)
	}
	c.invalidateSummary(owner, result.Result.ChildID)

	GetLogger().Debug("drawing classified by child name",
		logger.String("child_id", result.Result.ChildID),
		logger.String("stage", result.Result.Prediction))

	return ctx.JSON(http.StatusCreated, newClassificationResponse(result, c.service.FormatTimestamp(result.Result.CreatedAt)))
}

// readImage reads the uploaded drawing, bounded by upload.max_bytes.
func (c *Controller) readImage(ctx echo.Context) ([]byte, error) {
	fh, err := ctx.FormFile(imageField)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: missing %q file: %w", drawee.ErrInvalidRequest, imageField, err)).
			Component("api").
			Category(errors.CategoryValidation).
			Priority(errors.PriorityLow).
			Build()
	}

	f, err := fh.Open()
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Context("operation", "open-upload").
			Build()
	}
	defer func() { _ = f.Close() }()

	limit := c.Settings.Upload.MaxBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryHTTP).
			Context("operation", "read-upload").
			Build()
	}
	if int64(len(data)) > limit {
		return nil, errors.New(fmt.Errorf("%w: image exceeds %d bytes", drawee.ErrInvalidRequest, limit)).
			Component("api").
			Category(errors.CategoryValidation).
			Priority(errors.PriorityLow).
			Build()
	}
	return data, nil
}
