// Package domain contains the core domain models shared by the issuer and the
// validating client. These types serve as the single source of truth for the
// license artifact, the registry document and validation results.
package domain

import (
	"time"
)

// LicenseType is the feature tier a license is issued for
type LicenseType string

const (
	LicenseTypeDemo       LicenseType = "DEMO"
	LicenseTypeBasic      LicenseType = "BASIC"
	LicenseTypePro        LicenseType = "PRO"
	LicenseTypeEnterprise LicenseType = "ENTERPRISE"
)

// AllLicenseTypes lists the tiers in ascending order
var AllLicenseTypes = []LicenseType{
	LicenseTypeDemo,
	LicenseTypeBasic,
	LicenseTypePro,
	LicenseTypeEnterprise,
}

// ValidationStatus is the closed set of outcomes of a license validation
type ValidationStatus string

const (
	StatusValid            ValidationStatus = "valid"
	StatusExpired          ValidationStatus = "expired"
	StatusInvalidSignature ValidationStatus = "invalid_signature"
	StatusHardwareMismatch ValidationStatus = "hardware_mismatch"
	StatusRevoked          ValidationStatus = "revoked"
	StatusNotFound         ValidationStatus = "not_found"
	StatusCorrupted        ValidationStatus = "corrupted"
)

// Date layouts used on the wire
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// LicensePayload is the signed part of a license artifact.
// IssuedAt is kept as the exact issued string so the canonical bytes never
// depend on re-formatting a parsed time.
type LicensePayload struct {
	Client      string      `json:"client"`
	LicenseType LicenseType `json:"licenseType"`
	HardwareID  string      `json:"hardwareId"`
	Expires     string      `json:"expires"`
	Version     string      `json:"version"`
	IssuedAt    string      `json:"issuedAt"`
	Features    []string    `json:"features"`
	MaxUsers    *int        `json:"maxUsers,omitempty"`
}

// License is the artifact handed to a customer: payload plus signature
type License struct {
	LicensePayload
	Signature string `json:"signature"`
}

// LicenseRecord is the issuer-side registry entry for an issued license
type LicenseRecord struct {
	ID string `json:"id"`
	License
	CreatedAt    time.Time  `json:"createdAt"`
	Notes        string     `json:"notes,omitempty"`
	FilePath     string     `json:"filePath,omitempty"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokeReason string     `json:"revokeReason,omitempty"`
}

// RegistryDocument is the persisted issuer-side state
type RegistryDocument struct {
	Licenses    []LicenseRecord `json:"licenses"`
	Blacklist   []string        `json:"blacklist"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// NewRegistryDocument returns an empty registry document
func NewRegistryDocument() *RegistryDocument {
	return &RegistryDocument{
		Licenses:  []LicenseRecord{},
		Blacklist: []string{},
	}
}

// HardwareFingerprint describes the identifiers obtained for the current machine
type HardwareFingerprint struct {
	MachineID    string    `json:"machineId,omitempty"`
	CPUID        string    `json:"cpuId,omitempty"`
	DiskSerial   string    `json:"diskSerial,omitempty"`
	MACAddress   string    `json:"macAddress,omitempty"`
	Platform     string    `json:"platform"`
	Hostname     string    `json:"hostname"`
	Sources      []string  `json:"sources"`
	FallbackUsed bool      `json:"fallbackUsed"`
	HardwareID   string    `json:"hardwareId"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// StageResult is the per-stage summary collected during a verbose validation
type StageResult struct {
	Stage   string           `json:"stage"`
	Passed  bool             `json:"passed"`
	Skipped bool             `json:"skipped,omitempty"`
	Status  ValidationStatus `json:"status,omitempty"`
	Detail  string           `json:"detail,omitempty"`
}

// ValidationResult is the outcome of running a license through the validator
type ValidationResult struct {
	Status        ValidationStatus `json:"status"`
	Message       string           `json:"message,omitempty"`
	LicenseID     string           `json:"licenseId,omitempty"`
	Client        string           `json:"client,omitempty"`
	LicenseType   LicenseType      `json:"licenseType,omitempty"`
	Features      []string         `json:"features,omitempty"`
	MaxUsers      *int             `json:"maxUsers,omitempty"`
	Expires       string           `json:"expires,omitempty"`
	DaysRemaining *int             `json:"daysRemaining,omitempty"`
	RegistryFound *bool            `json:"registryFound,omitempty"`
	Stages        []StageResult    `json:"stages,omitempty"`
	CheckedAt     time.Time        `json:"checkedAt"`
}

// IsValid reports whether the license passed every hard check
func (r *ValidationResult) IsValid() bool {
	return r != nil && r.Status == StatusValid
}

// RegistryStats aggregates registry records by status and tier
type RegistryStats struct {
	Total   int                 `json:"total"`
	Active  int                 `json:"active"`
	Expired int                 `json:"expired"`
	Revoked int                 `json:"revoked"`
	ByTier  map[LicenseType]int `json:"byTier"`
}

// License error codes
const (
	ErrCodeInvalidLicense   = "INVALID_LICENSE"
	ErrCodeExpiredLicense   = "LICENSE_EXPIRED"
	ErrCodeRevokedLicense   = "LICENSE_REVOKED"
	ErrCodeHardwareMismatch = "HARDWARE_MISMATCH"
	ErrCodeLicenseNotFound  = "LICENSE_NOT_FOUND"
	ErrCodeCorrupted        = "LICENSE_CORRUPTED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)
