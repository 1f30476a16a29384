// Package identity implements the ledger's identity and crypto layer.
//
// It provides:
//   - Signer / Validator       ECDSA P-256 digital signatures and HMAC-SHA256
//   - CertificateManager       registered certificates and cached validators
//   - SecretManager            registered HMAC secrets and cached validators
//   - ClientKeyValidator       resolves (entity id, key version) to a Validator
//   - CAManager / Issuer       a development CA that issues entity certificates
//   - TokenIssuer              HS256 operator tokens for the admin API
//   - AdminAuthenticator       bcrypt check of the admin secret
//   - Sealer                   secretbox encryption of secrets at rest
//   - RequireToken             Gin middleware enforcing an operator token
package identity

import (
	"fmt"
	"strconv"
)

// AuthenticationMethod selects how requests and proofs are signed.
type AuthenticationMethod int

const (
	DigitalSignature AuthenticationMethod = iota
	HMAC
	// PassThrough is used by relays that forward pre-signed requests and
	// hold no key of their own.
	PassThrough
)

func (m AuthenticationMethod) String() string {
	switch m {
	case DigitalSignature:
		return "digital-signature"
	case HMAC:
		return "hmac"
	case PassThrough:
		return "pass-through"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseAuthenticationMethod parses the configuration spelling of a method.
func ParseAuthenticationMethod(s string) (AuthenticationMethod, error) {
	switch s {
	case "digital-signature", "":
		return DigitalSignature, nil
	case "hmac":
		return HMAC, nil
	case "pass-through":
		return PassThrough, nil
	default:
		return 0, fmt.Errorf("unknown authentication method %q", s)
	}
}

// KeyID names one key of an entity.
type KeyID struct {
	EntityID   string
	KeyVersion uint32
}

func (k KeyID) String() string {
	return k.EntityID + "/" + strconv.FormatUint(uint64(k.KeyVersion), 10)
}
