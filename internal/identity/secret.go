package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned when an operator secret does not match its hash.
var ErrSecretMismatch = errors.New("operator secret does not match")

// HashSecret returns the bcrypt hash of an operator secret.
func HashSecret(secret string) (string, error) {
	if len(secret) < 12 {
		return "", fmt.Errorf("operator secret must be at least 12 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// CheckSecret compares secret with a hash produced by HashSecret.
func CheckSecret(hash, secret string) error {
	if hash == "" {
		return fmt.Errorf("no operator secret hash configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrSecretMismatch
		}
		return fmt.Errorf("check secret: %w", err)
	}
	return nil
}
