package contract

import (
	"errors"
	"fmt"
)

// ContextualError is returned by contract logic that rejects a request on
// its own terms, for example an insufficient balance. The transaction is
// aborted and nothing is written.
type ContextualError struct {
	Msg string
}

func (e *ContextualError) Error() string { return e.Msg }

// Contextualf returns a *ContextualError.
func Contextualf(format string, args ...any) error {
	return &ContextualError{Msg: fmt.Sprintf(format, args...)}
}

// IsContextual reports whether err carries a *ContextualError.
func IsContextual(err error) bool {
	var ce *ContextualError
	return errors.As(err, &ce)
}
