package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler báo tình trạng server. Journal là nil khi dùng journal trong bộ nhớ.
type HealthHandler struct {
	Journal func(ctx context.Context) error
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "journal": "memory"}
	if h.Journal != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Journal(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "journal": "down", "error": err.Error()})
			return
		}
		status["journal"] = "mongo"
	}
	c.JSON(http.StatusOK, status)
}
