package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	StatusCode status.Code `json:"status_code"`
	Status     string      `json:"status"`
	Error      string      `json:"error"`
}

// HTTPStatus maps a ledger status code to the HTTP status of the response.
func HTTPStatus(code status.Code) int {
	switch code {
	case status.OK:
		return http.StatusOK
	case status.InvalidSignature, status.Unauthorized,
		status.CertificateNotFound, status.SecretNotFound:
		return http.StatusUnauthorized
	case status.ContractNotFound, status.FunctionNotFound, status.AssetNotFound:
		return http.StatusNotFound
	case status.CertificateAlreadyRegistered, status.ContractAlreadyRegistered,
		status.SecretAlreadyRegistered, status.FunctionAlreadyRegistered, status.Conflict:
		return http.StatusConflict
	case status.ContractContextualError:
		return http.StatusUnprocessableEntity
	case status.Unavailable:
		return http.StatusServiceUnavailable
	}
	switch {
	case code.IsTamper():
		return http.StatusUnprocessableEntity
	case code.IsClientError():
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends err as an ErrorResponse. Server-side failures are
// logged; their detail is not returned to the caller.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	code := status.CodeOf(err)
	httpStatus := HTTPStatus(code)
	msg := err.Error()
	if httpStatus >= http.StatusInternalServerError && code != status.Unavailable {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Stringer("status", code),
			zap.Error(err),
		)
		msg = "internal error"
	}
	if code == status.Conflict {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(httpStatus, ErrorResponse{StatusCode: code, Status: code.String(), Error: msg})
}

// bindJSON decodes the request body into v and reports an INVALID_REQUEST
// on failure.
func bindJSON(c *gin.Context, logger *zap.Logger, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, logger, status.Wrap(status.InvalidRequest, err, "request body"))
		return false
	}
	return true
}
