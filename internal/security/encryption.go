package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"math/bits"

	"golang.org/x/crypto/scrypt"
)

const (
	sealVersion  = 1
	sealSaltSize = 32
	sealKeyLen   = 32 // AES-256
	sealHeader   = 4  // version, log2(N), r, p
)

// ErrSealedDataInvalid is returned when sealed data is truncated, tampered
// with or the passphrase is wrong
var ErrSealedDataInvalid = errors.New("sealed data invalid or passphrase incorrect")

// EncryptionConfig holds the scrypt cost parameters used for sealing
type EncryptionConfig struct {
	SCryptN int // CPU/memory cost, power of two
	SCryptR int
	SCryptP int
}

// DefaultEncryptionConfig returns OWASP recommended scrypt parameters
func DefaultEncryptionConfig() EncryptionConfig {
	return EncryptionConfig{
		SCryptN: 32768,
		SCryptR: 8,
		SCryptP: 1,
	}
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from the
// passphrase with scrypt. The cost parameters, salt and nonce are stored in
// the output so Open needs only the passphrase.
//
// Layout: version | log2(N) | r | p | salt(32) | nonce(12) | ciphertext+tag
func Seal(plaintext, passphrase []byte, cfg EncryptionConfig) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext cannot be empty")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase cannot be empty")
	}
	if cfg.SCryptN < 2 || cfg.SCryptN&(cfg.SCryptN-1) != 0 {
		return nil, fmt.Errorf("scrypt N must be a power of two > 1, got %d", cfg.SCryptN)
	}
	if cfg.SCryptR <= 0 || cfg.SCryptR > 255 || cfg.SCryptP <= 0 || cfg.SCryptP > 255 {
		return nil, fmt.Errorf("scrypt r and p must be within 1..255")
	}

	salt := make([]byte, sealSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newSealCipher(passphrase, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	logN := bits.TrailingZeros(uint(cfg.SCryptN))
	header := []byte{sealVersion, byte(logN), byte(cfg.SCryptR), byte(cfg.SCryptP)}

	out := make([]byte, 0, sealHeader+sealSaltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, header...)
	out = append(out, salt...)
	out = append(out, nonce...)
	// The header is authenticated so cost parameters cannot be downgraded.
	return gcm.Seal(out, nonce, plaintext, header), nil
}

// Open reverses Seal
func Open(sealed, passphrase []byte) ([]byte, error) {
	if len(sealed) < sealHeader+sealSaltSize {
		return nil, ErrSealedDataInvalid
	}
	header := sealed[:sealHeader]
	if header[0] != sealVersion || header[1] == 0 || header[1] > 30 {
		return nil, ErrSealedDataInvalid
	}
	n := 1 << header[1]
	salt := sealed[sealHeader : sealHeader+sealSaltSize]

	gcm, err := newSealCipher(passphrase, salt, n, int(header[2]), int(header[3]))
	if err != nil {
		return nil, err
	}

	rest := sealed[sealHeader+sealSaltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrSealedDataInvalid
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrSealedDataInvalid
	}
	return plaintext, nil
}

func newSealCipher(passphrase, salt []byte, n, r, p int) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, n, r, p, sealKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Wipe zeroes b in place
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
