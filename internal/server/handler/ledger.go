package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/validation"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

type validator interface {
	Validate(ctx context.Context, req *request.LedgerValidation) (*validation.Result, error)
	RetrieveProof(ctx context.Context, req *request.AssetProofRetrieval) (*asset.Proof, error)
	ValidateAssets(ctx context.Context, ids []string) ([]*validation.Result, error)
}

// MaxBatchAssets bounds POST /ledger/validate/batch.
const MaxBatchAssets = 1000

// LedgerHandler serves ledger validation and proof retrieval.
type LedgerHandler struct {
	svc    validator
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc validator, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

// Register mounts the ledger routes. guard, when non-nil, protects the
// unsigned batch validation route.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, guard gin.HandlerFunc) {
	l := rg.Group("/ledger")
	{
		l.POST("/validate", h.Validate)
		l.POST("/proofs", h.RetrieveProof)
		if guard != nil {
			l.POST("/validate/batch", guard, h.ValidateBatch)
		} else {
			l.POST("/validate/batch", h.ValidateBatch)
		}
	}
}

// Validate handles POST /ledger/validate. Tamper findings are reported in
// a 200 response; the status fields of the body carry the finding.
func (h *LedgerHandler) Validate(c *gin.Context) {
	var req request.LedgerValidation
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.svc.Validate(c.Request.Context(), &req)
	if err != nil {
		RecordValidation(status.CodeOf(err))
		writeError(c, h.logger, err)
		return
	}
	RecordValidation(res.Code)
	c.JSON(http.StatusOK, res)
}

// RetrieveProof handles POST /ledger/proofs.
func (h *LedgerHandler) RetrieveProof(c *gin.Context) {
	var req request.AssetProofRetrieval
	if !bindJSON(c, h.logger, &req) {
		return
	}
	p, err := h.svc.RetrieveProof(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type batchRequest struct {
	AssetIDs []string `json:"asset_ids" binding:"required"`
}

// ValidateBatch handles POST /ledger/validate/batch: full-history
// validation of many assets at once, for operators.
func (h *LedgerHandler) ValidateBatch(c *gin.Context) {
	var req batchRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if len(req.AssetIDs) == 0 || len(req.AssetIDs) > MaxBatchAssets {
		writeError(c, h.logger, status.New(status.InvalidRequest, "asset_ids must name between 1 and %d assets", MaxBatchAssets))
		return
	}
	results, err := h.svc.ValidateAssets(c.Request.Context(), req.AssetIDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	for _, r := range results {
		RecordValidation(r.Code)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
