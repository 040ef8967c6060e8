package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/gin-gonic/gin"
)

// MediaHandler serves uploaded media at the public URL handed to the
// upstream platform
type MediaHandler struct {
	logger *slog.Logger
	media  MediaReader
}

// NewMediaHandler creates a new MediaHandler instance
func NewMediaHandler(deps *Dependencies) *MediaHandler {
	return &MediaHandler{
		logger: deps.Logger,
		media:  deps.Media,
	}
}

// GetMedia handles GET /media/*key
func (h *MediaHandler) GetMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
		return
	}

	obj, err := h.media.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
			return
		}
		h.logger.Error("Failed to read media",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Storage is unavailable, please retry"})
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, obj.Size, contentType, obj.Body, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}
