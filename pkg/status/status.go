// Package status defines the status codes returned by the ledger and the
// typed error that carries them across package and process boundaries.
//
// Codes are grouped by class:
//   - 2xx  success
//   - 3xx  tamper findings reported by ledger validation
//   - 4xx  the request was syntactically or cryptographically invalid
//   - 5xx  the server failed or the request lost a write-write race
package status

import (
	"errors"
	"fmt"
)

// Code is a ledger status code.
type Code int

const (
	OK Code = 200

	InvalidHash        Code = 300
	InvalidPrevHash    Code = 301
	InvalidContract    Code = 302
	InvalidOutput      Code = 303
	InvalidNonce       Code = 304
	InconsistentStates Code = 305

	InvalidSignature             Code = 400
	UnloadableKey                Code = 401
	UnloadableContract           Code = 402
	CertificateNotFound          Code = 403
	ContractNotFound             Code = 404
	CertificateAlreadyRegistered Code = 405
	ContractAlreadyRegistered    Code = 406
	InvalidRequest               Code = 407
	ContractContextualError      Code = 408
	AssetNotFound                Code = 409
	FunctionNotFound             Code = 410
	UnloadableFunction           Code = 411
	InvalidFunction              Code = 412
	SecretAlreadyRegistered      Code = 413
	SecretNotFound               Code = 414
	FunctionAlreadyRegistered    Code = 415
	InvalidAuditorConfiguration  Code = 416
	Unauthorized                 Code = 417

	DatabaseError            Code = 500
	UnknownTransactionStatus Code = 501
	RuntimeError             Code = 502
	Unavailable              Code = 503
	Conflict                 Code = 504
)

var names = map[Code]string{
	OK:                           "OK",
	InvalidHash:                  "INVALID_HASH",
	InvalidPrevHash:              "INVALID_PREV_HASH",
	InvalidContract:              "INVALID_CONTRACT",
	InvalidOutput:                "INVALID_OUTPUT",
	InvalidNonce:                 "INVALID_NONCE",
	InconsistentStates:           "INCONSISTENT_STATES",
	InvalidSignature:             "INVALID_SIGNATURE",
	UnloadableKey:                "UNLOADABLE_KEY",
	UnloadableContract:           "UNLOADABLE_CONTRACT",
	CertificateNotFound:          "CERTIFICATE_NOT_FOUND",
	ContractNotFound:             "CONTRACT_NOT_FOUND",
	CertificateAlreadyRegistered: "CERTIFICATE_ALREADY_REGISTERED",
	ContractAlreadyRegistered:    "CONTRACT_ALREADY_REGISTERED",
	InvalidRequest:               "INVALID_REQUEST",
	ContractContextualError:      "CONTRACT_CONTEXTUAL_ERROR",
	AssetNotFound:                "ASSET_NOT_FOUND",
	FunctionNotFound:             "FUNCTION_NOT_FOUND",
	UnloadableFunction:           "UNLOADABLE_FUNCTION",
	InvalidFunction:              "INVALID_FUNCTION",
	SecretAlreadyRegistered:      "SECRET_ALREADY_REGISTERED",
	SecretNotFound:               "SECRET_NOT_FOUND",
	FunctionAlreadyRegistered:    "FUNCTION_ALREADY_REGISTERED",
	InvalidAuditorConfiguration:  "INVALID_AUDITOR_CONFIGURATION",
	Unauthorized:                 "UNAUTHORIZED",
	DatabaseError:                "DATABASE_ERROR",
	UnknownTransactionStatus:     "UNKNOWN_TRANSACTION_STATUS",
	RuntimeError:                 "RUNTIME_ERROR",
	Unavailable:                  "UNAVAILABLE",
	Conflict:                     "CONFLICT",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

// ParseCode maps a symbolic name back to its code.
func ParseCode(name string) (Code, bool) {
	for c, n := range names {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// IsTamper reports whether c is a validation finding (3xx).
func (c Code) IsTamper() bool { return c >= 300 && c < 400 }

// IsClientError reports whether c describes an invalid request (4xx).
func (c Code) IsClientError() bool { return c >= 400 && c < 500 }

// IsRetryable reports whether the caller may retry the same request.
func (c Code) IsRetryable() bool { return c == Conflict || c == Unavailable }

// Error is an error carrying a status code. Lower-level causes are kept in
// Err so errors.Is / errors.As keep working across the boundary.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New returns a status error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a status error wrapping err. A nil err yields nil.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the status code from err. A nil error is OK; an error that
// carries no code is a RuntimeError.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return RuntimeError
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
