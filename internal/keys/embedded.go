package keys

import (
	"crypto/rsa"
	"fmt"
	"os"

	apperrors "licensekit/internal/errors"
)

// EmbeddedPublicKeyPEM is the verification key compiled into client builds:
//
//	go build -ldflags "-X 'licensekit/internal/keys.EmbeddedPublicKeyPEM=$(cat keys/public.pem)'"
//
// Empty in development builds.
var EmbeddedPublicKeyPEM string

// ResolvePublicKey returns the key clients verify with. A configured path wins
// over the embedded key; with neither available the validator cannot be built.
func ResolvePublicKey(path string) (*rsa.PublicKey, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key %s: %w", path, err)
		}
		return ParsePublicKeyPEM(data)
	}
	if EmbeddedPublicKeyPEM != "" {
		return ParsePublicKeyPEM([]byte(EmbeddedPublicKeyPEM))
	}
	return nil, apperrors.ErrPublicKeyMissing
}
