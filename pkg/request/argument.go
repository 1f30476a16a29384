package request

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	argumentVersion   = "V2"
	argumentSeparator = "\x01"
	fieldSeparator    = "\x03"
	legacyNonceKey    = "nonce"
)

// Argument is a parsed argument envelope.
type Argument struct {
	Nonce       string
	FunctionIDs []string
	Raw         string
	// Legacy is set for arguments that predate the envelope: a JSON object
	// that carries its own "nonce" member and is passed to the contract whole.
	Legacy bool
}

// FormatArgument wraps a contract argument together with the request nonce
// and the ids of functions to run after the contract.
func FormatArgument(nonce string, functionIDs []string, raw string) string {
	var b strings.Builder
	b.WriteString(argumentVersion)
	b.WriteString(argumentSeparator)
	b.WriteString(nonce)
	b.WriteString(fieldSeparator)
	b.WriteString(strings.Join(functionIDs, ","))
	b.WriteString(fieldSeparator)
	b.WriteString(raw)
	return b.String()
}

// ParseArgument splits an argument envelope back into its parts. Arguments
// without the envelope header are read as legacy JSON objects.
func ParseArgument(s string) (Argument, error) {
	header := argumentVersion + argumentSeparator
	if !strings.HasPrefix(s, header) {
		return parseLegacyArgument(s)
	}
	parts := strings.SplitN(strings.TrimPrefix(s, header), fieldSeparator, 3)
	if len(parts) != 3 {
		return Argument{}, fmt.Errorf("malformed argument envelope")
	}
	arg := Argument{Nonce: parts[0], Raw: parts[2]}
	if parts[1] != "" {
		arg.FunctionIDs = strings.Split(parts[1], ",")
	}
	return arg, nil
}

func parseLegacyArgument(s string) (Argument, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Argument{}, fmt.Errorf("argument is neither an envelope nor a JSON object: %w", err)
	}
	nonce, _ := obj[legacyNonceKey].(string)
	return Argument{Nonce: nonce, Raw: s, Legacy: true}, nil
}
