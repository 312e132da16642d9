package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"pairchat/internal/infra/storage/memory"
)

// BlobHandler serves attachments kept by the in-memory blob store.
type BlobHandler struct {
	Store *memory.BlobStore
}

func (h BlobHandler) Get(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "blob store unavailable"})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, contentType, ok := h.Store.Object(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

var _ BlobHTTP = BlobHandler{}
