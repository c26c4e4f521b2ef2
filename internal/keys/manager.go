// Package keys manages the RSA key pair used to sign licenses.
//
// The private key never leaves the issuer machine. The public key is shipped
// with the client application, either embedded at build time
// (EmbeddedPublicKeyPEM) or read from a configured path.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/files"
	"licensekit/internal/security"
)

// File names inside the key directory
const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
	MetadataFile   = "key-metadata.json"
)

// PEM block types
const (
	pemPrivateKey          = "PRIVATE KEY"
	pemEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemPublicKey           = "PUBLIC KEY"
)

// Algorithm is the signature scheme licenses are signed with
const Algorithm = "RSASSA-PKCS1-v1_5-SHA256"

// DefaultKeyBits is the RSA modulus size
const DefaultKeyBits = 2048

// Metadata describes the generated key pair
type Metadata struct {
	Algorithm            string    `json:"algorithm"`
	Bits                 int       `json:"bits"`
	CreatedAt            time.Time `json:"createdAt"`
	PublicKeyFingerprint string    `json:"publicKeyFingerprint"`
	Encrypted            bool      `json:"encrypted"`
}

// Manager owns the key directory
type Manager struct {
	dir        string
	passphrase []byte
	bits       int
	sealCfg    security.EncryptionConfig
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Option configures a Manager
type Option func(*Manager)

// WithPassphrase seals the private key at rest with the given passphrase
func WithPassphrase(passphrase string) Option {
	return func(m *Manager) {
		if passphrase != "" {
			m.passphrase = []byte(passphrase)
		}
	}
}

// WithLogger sets the manager logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for key metadata
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSealConfig overrides the scrypt cost used to seal the private key
func WithSealConfig(cfg security.EncryptionConfig) Option {
	return func(m *Manager) { m.sealCfg = cfg }
}

// NewManager creates a key manager rooted at dir
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:     dir,
		bits:    DefaultKeyBits,
		sealCfg: security.DefaultEncryptionConfig(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "key_manager"))
	return m
}

// Dir returns the key directory
func (m *Manager) Dir() string { return m.dir }

// PrivateKeyPath returns the private key file path
func (m *Manager) PrivateKeyPath() string { return filepath.Join(m.dir, PrivateKeyFile) }

// PublicKeyPath returns the public key file path
func (m *Manager) PublicKeyPath() string { return filepath.Join(m.dir, PublicKeyFile) }

// MetadataPath returns the key metadata file path
func (m *Manager) MetadataPath() string { return filepath.Join(m.dir, MetadataFile) }

// Exists reports whether a private or public key file is present
func (m *Manager) Exists() bool {
	return files.Exists(m.PrivateKeyPath()) || files.Exists(m.PublicKeyPath())
}

// GenerateKeyPair creates a new key pair. Existing keys are only replaced when
// overwrite is true; every license signed with the old key becomes
// unverifiable by clients that embed the new public key.
func (m *Manager) GenerateKeyPair(ctx context.Context, overwrite bool) (*Metadata, error) {
	if m.Exists() && !overwrite {
		return nil, fmt.Errorf("%s: %w", m.dir, apperrors.ErrKeysExist)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	private, err := rsa.GenerateKey(rand.Reader, m.bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privatePEM, err := m.encodePrivateKey(private)
	if err != nil {
		return nil, err
	}
	publicPEM, err := EncodePublicKeyPEM(&private.PublicKey)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Algorithm:            Algorithm,
		Bits:                 m.bits,
		CreatedAt:            m.now().UTC(),
		PublicKeyFingerprint: PublicKeyFingerprint(&private.PublicKey),
		Encrypted:            len(m.passphrase) > 0,
	}

	if err := files.WriteAtomic(m.PrivateKeyPath(), privatePEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := files.WriteAtomic(m.PublicKeyPath(), publicPEM, 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}
	if err := files.WriteJSONAtomic(m.MetadataPath(), meta, 0644); err != nil {
		return nil, fmt.Errorf("failed to write key metadata: %w", err)
	}

	m.mu.Lock()
	m.private = private
	m.public = &private.PublicKey
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "key pair generated",
		slog.String("dir", m.dir),
		slog.Int("bits", m.bits),
		slog.Bool("encrypted", meta.Encrypted),
		slog.String("public_key_fingerprint", meta.PublicKeyFingerprint),
		slog.Bool("overwrite", overwrite))

	return meta, nil
}

// LoadOrGenerate loads the existing key pair or generates one on first run
func (m *Manager) LoadOrGenerate(ctx context.Context) (*Metadata, error) {
	if !files.Exists(m.PrivateKeyPath()) {
		return m.GenerateKeyPair(ctx, false)
	}
	if _, err := m.PrivateKey(); err != nil {
		return nil, err
	}
	return m.Metadata()
}

// PrivateKey returns the signing key, loading it from disk on first use
func (m *Manager) PrivateKey() (*rsa.PrivateKey, error) {
	m.mu.RLock()
	private := m.private
	m.mu.RUnlock()
	if private != nil {
		return private, nil
	}

	data, ok, err := files.ReadIfExists(m.PrivateKeyPath())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", m.PrivateKeyPath(), apperrors.ErrKeyNotFound)
	}

	private, err = m.decodePrivateKey(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.private = private
	m.public = &private.PublicKey
	m.mu.Unlock()
	return private, nil
}

// PublicKey returns the verification key
func (m *Manager) PublicKey() (*rsa.PublicKey, error) {
	m.mu.RLock()
	public := m.public
	m.mu.RUnlock()
	if public != nil {
		return public, nil
	}

	data, err := m.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	public, err = ParsePublicKeyPEM(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.public = public
	m.mu.Unlock()
	return public, nil
}

// PublicKeyPEM returns the PEM encoded public key for distribution
func (m *Manager) PublicKeyPEM() ([]byte, error) {
	data, ok, err := files.ReadIfExists(m.PublicKeyPath())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", m.PublicKeyPath(), apperrors.ErrKeyNotFound)
	}
	return data, nil
}

// Metadata returns the key metadata
func (m *Manager) Metadata() (*Metadata, error) {
	data, ok, err := files.ReadIfExists(m.MetadataPath())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", m.MetadataPath(), apperrors.ErrKeyNotFound)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse key metadata: %w", err)
	}
	return &meta, nil
}

func (m *Manager) encodePrivateKey(private *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(private)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	defer security.Wipe(der)

	if len(m.passphrase) == 0 {
		return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
	}

	sealed, err := security.Seal(der, m.passphrase, m.sealCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to seal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemEncryptedPrivateKey, Bytes: sealed}), nil
}

func (m *Manager) decodePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM encoded: %w", apperrors.ErrInvalidKey)
	}

	der := block.Bytes
	switch block.Type {
	case pemPrivateKey:
	case pemEncryptedPrivateKey:
		if len(m.passphrase) == 0 {
			return nil, fmt.Errorf("private key is encrypted and no passphrase is configured: %w", apperrors.ErrInvalidKey)
		}
		opened, err := security.Open(block.Bytes, m.passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal private key: %w", err)
		}
		defer security.Wipe(opened)
		der = opened
	default:
		return nil, fmt.Errorf("unexpected PEM block %q: %w", block.Type, apperrors.ErrInvalidKey)
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", apperrors.ErrInvalidKey)
	}
	private, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA: %w", key, apperrors.ErrInvalidKey)
	}
	return private, nil
}

// EncodePublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" PEM block
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// ParsePublicKeyPEM parses a PKIX or PKCS#1 RSA public key
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM encoded: %w", apperrors.ErrInvalidKey)
	}

	switch block.Type {
	case pemPublicKey:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", apperrors.ErrInvalidKey)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA: %w", key, apperrors.ErrInvalidKey)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", apperrors.ErrInvalidKey)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block %q: %w", block.Type, apperrors.ErrInvalidKey)
	}
}

// PublicKeyFingerprint returns the SHA-256 hex digest of the PKIX encoding
func PublicKeyFingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
