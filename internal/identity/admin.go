package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadAdminSecret is returned when the presented admin secret does not match.
var ErrBadAdminSecret = errors.New("admin secret does not match")

// AdminAuthenticator checks the admin secret an operator exchanges for a
// token. Only the bcrypt hash is kept in configuration.
type AdminAuthenticator struct {
	hash []byte
}

// NewAdminAuthenticator creates an AdminAuthenticator from a bcrypt hash.
func NewAdminAuthenticator(hash string) (*AdminAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("admin secret hash: %w", err)
	}
	return &AdminAuthenticator{hash: []byte(hash)}, nil
}

// Authenticate returns ErrBadAdminSecret unless secret matches.
func (a *AdminAuthenticator) Authenticate(secret string) error {
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(secret)); err != nil {
		return ErrBadAdminSecret
	}
	return nil
}

// HashAdminSecret returns the bcrypt hash to place in configuration.
func HashAdminSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty admin secret")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(h), nil
}
