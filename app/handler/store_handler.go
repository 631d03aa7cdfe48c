package handler

import (
	"errors"
	"net/http"
	"strings"

	"lavamon/internal/model"
	"lavamon/internal/service"
	"lavamon/pkg/logger"
	"lavamon/pkg/monitoring"
	"lavamon/pkg/store/sqlite"

	"github.com/gin-gonic/gin"
)

// StoreHandler serves read-only queries over the sampled stores
type StoreHandler struct {
	storeService *service.StoreService
}

// NewStoreHandler creates a new store handler
func NewStoreHandler(storeService *service.StoreService) *StoreHandler {
	return &StoreHandler{storeService: storeService}
}

// ListTables lists the tables of one class store
// @Router /v1/stores/{class}/tables [get]
func (h *StoreHandler) ListTables(c *gin.Context) {
	class, err := model.ParseClass(c.Param("class"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tables, err := h.storeService.Tables(c.Request.Context(), class)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": class, "tables": tables})
}

// GetTable reads one table; ?keys=A,B restricts the columns
// @Router /v1/stores/{class}/tables/{table} [get]
func (h *StoreHandler) GetTable(c *gin.Context) {
	class, err := model.ParseClass(c.Param("class"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var keys []string
	for _, raw := range c.QueryArray("keys") {
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
	}

	table, err := h.storeService.Table(c.Request.Context(), class, c.Param("table"), keys)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

// GetJobResource aggregates the resource samples of one job
// @Router /v1/jobs/{job_id}/resource [get]
func (h *StoreHandler) GetJobResource(c *gin.Context) {
	record, err := h.storeService.JobResource(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *StoreHandler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.ErrorCtx(c.Request.Context(), "store query failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, sqlite.ErrStoreMissing),
		errors.Is(err, sqlite.ErrTableMissing),
		errors.Is(err, monitoring.ErrNoSamples):
		return http.StatusNotFound
	case errors.Is(err, sqlite.ErrUnknownColumn),
		errors.Is(err, sqlite.ErrInvalidIdentifier),
		errors.Is(err, monitoring.ErrInvalidJobID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
