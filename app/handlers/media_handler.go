package handlers

import (
	"context"
	"fmt"

	businessflow "github.com/amirphl/event-rsvp-engine/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// MediaHandler serves uploaded documents to operators
type MediaHandler struct {
	baseHandler
	flow businessflow.MediaFlow
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(flow businessflow.MediaFlow, log zerolog.Logger) *MediaHandler {
	return &MediaHandler{
		baseHandler: newBaseHandler(log, "media_handler"),
		flow:        flow,
	}
}

// Download returns the original file of an upload
// @Summary Download upload
// @Tags Media
// @Produce application/octet-stream
// @Param id path int true "Upload ID"
// @Success 200 {string} string "Binary file"
// @Failure 404 {object} dto.APIResponse "Not found"
// @Router /api/v1/uploads/{id} [get]
func (h *MediaHandler) Download(c fiber.Ctx) error {
	return h.serve(c, "/api/v1/uploads/{id}", "attachment", h.flow.DownloadUpload)
}

// Preview returns a JPEG thumbnail of an image upload
// @Summary Preview upload
// @Tags Media
// @Produce image/jpeg
// @Param id path int true "Upload ID"
// @Success 200 {string} string "JPEG thumbnail"
// @Failure 409 {object} dto.APIResponse "Not an image"
// @Router /api/v1/uploads/{id}/preview [get]
func (h *MediaHandler) Preview(c fiber.Ctx) error {
	return h.serve(c, "/api/v1/uploads/{id}/preview", "inline", h.flow.PreviewUpload)
}

func (h *MediaHandler) serve(
	c fiber.Ctx,
	endpoint, disposition string,
	load func(ctx context.Context, uploadID uint) (*businessflow.MediaFile, error),
) error {
	uploadID, ok := pathID(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid upload id", "INVALID_UPLOAD_ID", nil)
	}

	ctx, cancel := createRequestContext(c, endpoint)
	defer cancel()

	file, err := load(ctx, uploadID)
	if err != nil {
		return h.flowError(c, err, "Failed to load upload", "LOAD_UPLOAD_FAILED")
	}

	if file.ContentType != "" {
		c.Set("Content-Type", file.ContentType)
	}
	c.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, file.FileName))
	return c.Send(file.Content)
}
