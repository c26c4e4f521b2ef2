package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

// CurrentVersion is the payload version new licenses are issued with
const CurrentVersion = "1.0"

// IDLength is the number of hex characters kept from the id digest
const IDLength = 16

var (
	ErrSignatureMismatch = errors.New("signature does not match payload")
	ErrLicenseCorrupted  = errors.New("license artifact corrupted")
)

// Canonicalizer turns a payload into the exact bytes that are signed
type Canonicalizer func(p *domain.LicensePayload) ([]byte, error)

var canonicalizers = map[string]Canonicalizer{
	"1.0": canonicalizeV1,
}

// SupportedVersion reports whether payloads of the given version can be verified
func SupportedVersion(version string) bool {
	_, ok := canonicalizers[version]
	return ok
}

// CanonicalBytes returns the signed message for a payload
func CanonicalBytes(p *domain.LicensePayload) ([]byte, error) {
	canonicalize, ok := canonicalizers[p.Version]
	if !ok {
		return nil, fmt.Errorf("version %q: %w", p.Version, apperrors.ErrUnsupportedVersion)
	}
	return canonicalize(p)
}

func canonicalizeV1(p *domain.LicensePayload) ([]byte, error) {
	features := p.Features
	if features == nil {
		features = []string{}
	}

	fields := map[string]interface{}{
		"client":      p.Client,
		"licenseType": p.LicenseType,
		"hardwareId":  p.HardwareID,
		"expires":     p.Expires,
		"version":     p.Version,
		"issuedAt":    p.IssuedAt,
		"features":    features,
	}
	if p.MaxUsers != nil {
		fields["maxUsers"] = *p.MaxUsers
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return canonical, nil
}

// SignPayload signs the canonical payload with RSASSA-PKCS1-v1_5 over SHA-256
// and returns the base64 signature
func SignPayload(key *rsa.PrivateKey, p *domain.LicensePayload) (string, error) {
	message, err := CanonicalBytes(p)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(message)

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature checks the license signature against pub. Every failure,
// including a panic inside the crypto code, comes back as an error.
func VerifySignature(pub *rsa.PublicKey, lic *domain.License) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signature verification panicked: %v: %w", r, ErrSignatureMismatch)
		}
	}()

	if pub == nil {
		return apperrors.ErrPublicKeyMissing
	}

	sig, err := base64.StdEncoding.DecodeString(lic.Signature)
	if err != nil {
		return fmt.Errorf("signature is not base64: %w", ErrSignatureMismatch)
	}

	message, err := CanonicalBytes(&lic.LicensePayload)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// LicenseID derives the deterministic registry id of a license
func LicenseID(client, hardwareID, issuedAt string) string {
	sum := sha256.Sum256([]byte(client + "|" + hardwareID + "|" + issuedAt))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// PayloadID is LicenseID for a payload
func PayloadID(p *domain.LicensePayload) string {
	return LicenseID(p.Client, p.HardwareID, p.IssuedAt)
}
