package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/internal/contract"
	"github.com/jmerrifield20/NexusLedger/internal/function"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

type keyRegistrar interface {
	Register(ctx context.Context, id identity.KeyID, material string) error
}

type contractRegistrar interface {
	Register(ctx context.Context, req *request.ContractRegistration) (*contract.Entry, error)
	List(ctx context.Context) ([]contract.Entry, error)
}

type functionRegistrar interface {
	Register(ctx context.Context, req *request.FunctionRegistration) (*function.Entry, error)
}

// RegistrationHandler serves certificate, secret, contract and function
// registration.
type RegistrationHandler struct {
	certs     keyRegistrar
	secrets   keyRegistrar
	contracts contractRegistrar
	functions functionRegistrar
	logger    *zap.Logger
}

// NewRegistrationHandler creates a RegistrationHandler. functions may be
// nil when the ledger runs without functions.
func NewRegistrationHandler(certs, secrets keyRegistrar, contracts contractRegistrar, functions functionRegistrar, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		certs:     certs,
		secrets:   secrets,
		contracts: contracts,
		functions: functions,
		logger:    logger,
	}
}

// Register mounts the registration routes. guard, when non-nil, protects
// the routes that are not self-authenticating: key material and functions
// carry no client signature.
func (h *RegistrationHandler) Register(rg *gin.RouterGroup, guard gin.HandlerFunc) {
	protected := rg.Group("")
	if guard != nil {
		protected.Use(guard)
	}
	protected.POST("/certificates", h.RegisterCertificate)
	protected.POST("/secrets", h.RegisterSecret)
	protected.POST("/functions", h.RegisterFunction)
	protected.GET("/contracts", h.ListContracts)

	rg.POST("/contracts", h.RegisterContract)
}

type registeredResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// RegisterCertificate handles POST /certificates.
func (h *RegistrationHandler) RegisterCertificate(c *gin.Context) {
	var req request.CertificateRegistration
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, "certificate", status.Wrap(status.InvalidRequest, err, "certificate registration"))
		return
	}
	id := identity.KeyID{EntityID: req.EntityID, KeyVersion: req.KeyVersion}
	if err := h.certs.Register(c.Request.Context(), id, req.CertPEM); err != nil {
		h.fail(c, "certificate", err)
		return
	}
	RecordRegistration("certificate", status.OK)
	c.JSON(http.StatusCreated, registeredResponse{Status: status.OK.String(), ID: id.String()})
}

// RegisterSecret handles POST /secrets.
func (h *RegistrationHandler) RegisterSecret(c *gin.Context) {
	var req request.SecretRegistration
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, "secret", status.Wrap(status.InvalidRequest, err, "secret registration"))
		return
	}
	id := identity.KeyID{EntityID: req.EntityID, KeyVersion: req.KeyVersion}
	if err := h.secrets.Register(c.Request.Context(), id, req.Secret); err != nil {
		h.fail(c, "secret", err)
		return
	}
	RecordRegistration("secret", status.OK)
	c.JSON(http.StatusCreated, registeredResponse{Status: status.OK.String(), ID: id.String()})
}

// RegisterContract handles POST /contracts. The request is signed by the
// registering entity.
func (h *RegistrationHandler) RegisterContract(c *gin.Context) {
	var req request.ContractRegistration
	if !bindJSON(c, h.logger, &req) {
		return
	}
	entry, err := h.contracts.Register(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "contract", err)
		return
	}
	RecordRegistration("contract", status.OK)
	c.JSON(http.StatusCreated, registeredResponse{Status: status.OK.String(), ID: entry.ID})
}

type contractSummary struct {
	ID         string `json:"contract_id"`
	BinaryName string `json:"binary_name"`
	EntityID   string `json:"entity_id"`
	KeyVersion uint32 `json:"key_version"`
}

// ListContracts handles GET /contracts.
func (h *RegistrationHandler) ListContracts(c *gin.Context) {
	entries, err := h.contracts.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]contractSummary, len(entries))
	for i, e := range entries {
		out[i] = contractSummary{ID: e.ID, BinaryName: e.BinaryName, EntityID: e.EntityID, KeyVersion: e.KeyVersion}
	}
	c.JSON(http.StatusOK, gin.H{"contracts": out})
}

// RegisterFunction handles POST /functions.
func (h *RegistrationHandler) RegisterFunction(c *gin.Context) {
	if h.functions == nil {
		h.fail(c, "function", status.New(status.InvalidRequest, "functions are disabled on this ledger"))
		return
	}
	var req request.FunctionRegistration
	if !bindJSON(c, h.logger, &req) {
		return
	}
	entry, err := h.functions.Register(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "function", err)
		return
	}
	RecordRegistration("function", status.OK)
	c.JSON(http.StatusCreated, registeredResponse{Status: status.OK.String(), ID: entry.ID})
}

func (h *RegistrationHandler) fail(c *gin.Context, kind string, err error) {
	RecordRegistration(kind, status.CodeOf(err))
	writeError(c, h.logger, err)
}
