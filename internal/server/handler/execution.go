package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/engine"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

type executor interface {
	Execute(ctx context.Context, req *request.ContractExecution) (*engine.Result, error)
}

// ExecutionHandler serves contract execution.
type ExecutionHandler struct {
	exec   executor
	logger *zap.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(exec executor, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{exec: exec, logger: logger}
}

// Register mounts the execution route.
func (h *ExecutionHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/contracts/execute", h.Execute)
}

// ExecutionResponse is the body of a successful execution.
type ExecutionResponse struct {
	StatusCode status.Code `json:"status_code"`
	Status     string      `json:"status"`
	*engine.Result
}

// Execute handles POST /contracts/execute.
func (h *ExecutionHandler) Execute(c *gin.Context) {
	var req request.ContractExecution
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.exec.Execute(c.Request.Context(), &req)
	RecordExecution(status.CodeOf(err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ExecutionResponse{StatusCode: status.OK, Status: status.OK.String(), Result: res})
}
