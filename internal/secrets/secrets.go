// Package secrets abstracts the credential store. The transport to the real
// secret manager is an external collaborator; this package defines the
// narrow Store interface the rest of the service consumes, plus an
// env-backed implementation for development and a Redis read-through cache
// so hot documents (placement mapping, directory credentials) are not
// re-fetched on every run.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "onboarder/pkg/domain-errors"
)

// Store retrieves a named secret document as flat key-value pairs.
type Store interface {
	Get(ctx context.Context, name string) (map[string]string, error)
}

// GenerateTempPassword creates a cryptographically secure one-time secret
// for a freshly provisioned account.
func GenerateTempPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the provided secret. The run ledger stores
// only the hash, never the plaintext.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeValidation, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}
