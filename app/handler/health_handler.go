package handler

import (
	"net/http"

	"lavamon/internal/jobs"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness and the run history of the background jobs
type HealthHandler struct {
	statuses func() []jobs.Status
}

// NewHealthHandler creates a health handler; statuses may be nil when no
// background jobs run
func NewHealthHandler(statuses func() []jobs.Status) *HealthHandler {
	return &HealthHandler{statuses: statuses}
}

// Healthz reports liveness
// @Router /healthz [get]
func (h *HealthHandler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.statuses != nil {
		body["jobs"] = h.statuses()
	}
	c.JSON(http.StatusOK, body)
}
