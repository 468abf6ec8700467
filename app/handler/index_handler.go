package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"yarrow/internal/service"
	"yarrow/pkg/constants"
	"yarrow/pkg/logger"
)

// IndexHandler handles the index-allocation APIs
type IndexHandler struct {
	indexService *service.IndexService
	terminate    chan struct{}
	once         sync.Once
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(indexService *service.IndexService) *IndexHandler {
	return &IndexHandler{
		indexService: indexService,
		terminate:    make(chan struct{}),
	}
}

// Terminated is closed once a client has requested the service to stop
func (h *IndexHandler) Terminated() <-chan struct{} {
	return h.terminate
}

// NextID allocates the next index of a session
// @Summary Allocate index
// @Description Returns the next sequential index of the session, starting from 0
// @Tags Index
// @Produce json
// @Param session query string false "Session id (default: default)"
// @Param vmid query string false "Requesting VM id, echoed back"
// @Success 200 {object} interfaces.NextIDResponse
// @Router /nextid [get]
func (h *IndexHandler) NextID(c *gin.Context) {
	session := c.DefaultQuery(constants.IndexParamSession, constants.IndexDefaultSession)
	vmid := c.Query(constants.IndexParamVMID)

	resp, err := h.indexService.NextID(c.Request.Context(), session, vmid)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "Failed to allocate index: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Terminate acknowledges the request and signals the service to shut down
// @Summary Terminate service
// @Tags Index
// @Produce plain
// @Success 200 {string} string "Terminated"
// @Router /terminate_n0w [get]
func (h *IndexHandler) Terminate(c *gin.Context) {
	logger.InfoCtx(c.Request.Context(), "Termination requested by %s", c.ClientIP())
	c.String(http.StatusOK, constants.IndexTerminated)
	h.once.Do(func() { close(h.terminate) })
}

// Identify answers every other path with the service identification
func (h *IndexHandler) Identify(c *gin.Context) {
	c.String(http.StatusOK, constants.IndexIdentification)
}
