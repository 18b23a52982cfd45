package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/storefront/pkg/errors"
	"github.com/charlesng35/storefront/pkg/response"
)

// attachmentCacheControl is one month. Stored objects are content-addressed,
// so a cached copy can never go stale: replacing an attachment changes its URL.
const attachmentCacheControl = "max-age=2629746"

// Download handles GET /api/items/:id/attachments/:attachmentID
func (h *ItemHandler) Download(c *gin.Context) {
	if h == nil || h.svc == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	itemID := strings.TrimSpace(c.Param("id"))
	attachmentID := strings.TrimSpace(c.Param("attachmentID"))
	if itemID == "" || attachmentID == "" {
		response.Error(c, apperrors.NewBadRequest("item id and attachment id are required"))
		return
	}

	attachment, reader, err := h.svc.OpenAttachment(requestContext(c), itemID, attachmentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer reader.Close()

	etag := `"` + attachment.Checksum + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", attachmentCacheControl)

	if match := c.GetHeader("If-None-Match"); match != "" && strings.Contains(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", attachment.FileName))
	c.DataFromReader(http.StatusOK, attachment.ByteSize, attachment.ContentType, reader, nil)
}
