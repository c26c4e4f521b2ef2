package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
)

var (
	keyOnce sync.Once
	keyA    *rsa.PrivateKey
	keyB    *rsa.PrivateKey
	keyErr  error
)

// RSAKeys returns two distinct 2048-bit RSA keys shared by the test binary.
// Generation is done once since it dominates test time.
func RSAKeys(t testing.TB) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		keyA, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		keyB, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("failed to generate test keys: %v", keyErr)
	}
	return keyA, keyB
}

// HardwareID returns a syntactically valid 64 hex character hardware id
// built from a single repeated hex digit
func HardwareID(digit byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = digit
	}
	return string(b)
}
