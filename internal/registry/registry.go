// Package registry is the issuer-side record of every issued license and the
// revocation blacklist.
//
// Mutations are whole-document load-mutate-store operations through a Store.
// The file backend assumes a single writing process; the SQLite backend runs
// each mutation in one transaction and tolerates several.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/files"
	"licensekit/internal/license"
	"licensekit/pkg/contracts/domain"
)

// Store persists the registry document
type Store interface {
	// Load returns the current document. A store that has never been written
	// returns an empty document.
	Load(ctx context.Context) (*domain.RegistryDocument, error)
	// Update applies fn to the current document and persists the result
	// atomically. Nothing is persisted when fn returns an error.
	Update(ctx context.Context, fn func(doc *domain.RegistryDocument) error) error
	Close() error
}

// Filter selects records in Query. Zero values match everything.
type Filter struct {
	Client      string             `json:"client,omitempty"`
	LicenseType domain.LicenseType `json:"licenseType,omitempty"`
	Active      *bool              `json:"active,omitempty"`
	Revoked     *bool              `json:"revoked,omitempty"`
}

// RevokeResult reports the outcome of Revoke
type RevokeResult struct {
	Record         domain.LicenseRecord `json:"record"`
	AlreadyRevoked bool                 `json:"alreadyRevoked"`
}

// Registry answers queries and performs revocations
type Registry struct {
	store    Store
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
	metrics  *license.LicenseMetrics
}

// Option configures a Registry
type Option func(*Registry)

// WithLocation sets the calendar used to decide whether a license is expired
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records revocations
func WithMetrics(m *license.LicenseMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a registry over store
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		location: time.Local,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "license_registry"))
	return r
}

// Close releases the underlying store
func (r *Registry) Close() error {
	return r.store.Close()
}

// Add appends a record. It implements license.Recorder.
func (r *Registry) Add(ctx context.Context, record domain.LicenseRecord) error {
	if record.ID == "" {
		return errMissingID
	}
	err := r.store.Update(ctx, func(doc *domain.RegistryDocument) error {
		for _, existing := range doc.Licenses {
			if existing.ID == record.ID {
				return fmt.Errorf("%s: %w", record.ID, apperrors.ErrDuplicateLicense)
			}
		}
		doc.Licenses = append(doc.Licenses, record)
		doc.LastUpdated = r.now().UTC()
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to add license",
			slog.String("license_id", record.ID),
			slog.String("error", err.Error()))
		return err
	}

	r.logger.InfoContext(ctx, "license recorded",
		slog.String("license_id", record.ID),
		slog.String("client", record.Client))
	return nil
}

// List returns every record in issue order
func (r *Registry) List(ctx context.Context) ([]domain.LicenseRecord, error) {
	return r.Query(ctx, Filter{})
}

// Query returns the records matching f. Active means neither revoked nor
// expired at the current time.
func (r *Registry) Query(ctx context.Context, f Filter) ([]domain.LicenseRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	client := strings.ToLower(strings.TrimSpace(f.Client))
	out := make([]domain.LicenseRecord, 0, len(doc.Licenses))
	for _, rec := range doc.Licenses {
		if client != "" && !strings.Contains(strings.ToLower(rec.Client), client) {
			continue
		}
		if f.LicenseType != "" && rec.LicenseType != f.LicenseType {
			continue
		}
		if f.Revoked != nil && rec.Revoked != *f.Revoked {
			continue
		}
		if f.Active != nil && r.isActive(rec, now) != *f.Active {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetByID returns the record with the given id
func (r *Registry) GetByID(ctx context.Context, id string) (*domain.LicenseRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range doc.Licenses {
		if doc.Licenses[i].ID == id {
			rec := doc.Licenses[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, apperrors.ErrLicenseNotFound)
}

// GetByHardwareID returns the non-revoked records bound to a machine
func (r *Registry) GetByHardwareID(ctx context.Context, hardwareID string) ([]domain.LicenseRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.LicenseRecord
	for _, rec := range doc.Licenses {
		if rec.HardwareID == hardwareID && !rec.Revoked {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("hardware id %s: %w", hardwareID, apperrors.ErrLicenseNotFound)
	}
	return out, nil
}

// Revoke marks a license revoked and blacklists its id. Revoking an already
// revoked license changes nothing and reports AlreadyRevoked.
func (r *Registry) Revoke(ctx context.Context, id, reason string) (*RevokeResult, error) {
	result := &RevokeResult{}
	err := r.store.Update(ctx, func(doc *domain.RegistryDocument) error {
		idx := -1
		for i := range doc.Licenses {
			if doc.Licenses[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%s: %w", id, apperrors.ErrLicenseNotFound)
		}

		rec := &doc.Licenses[idx]
		if rec.Revoked {
			result.AlreadyRevoked = true
			result.Record = *rec
			return errUnchanged
		}

		now := r.now().UTC()
		rec.Revoked = true
		rec.RevokedAt = &now
		rec.RevokeReason = reason
		if !contains(doc.Blacklist, id) {
			doc.Blacklist = append(doc.Blacklist, id)
		}
		doc.LastUpdated = now
		result.Record = *rec
		return nil
	})
	if errors.Is(err, errUnchanged) {
		err = nil
	}
	if err != nil {
		r.logger.WarnContext(ctx, "revocation failed",
			slog.String("license_id", id),
			slog.String("error", err.Error()))
		return nil, err
	}

	r.metrics.RecordRevocation(ctx, result.AlreadyRevoked)
	if result.AlreadyRevoked {
		r.logger.InfoContext(ctx, "license already revoked", slog.String("license_id", id))
	} else {
		r.logger.InfoContext(ctx, "license revoked",
			slog.String("license_id", id),
			slog.String("reason", reason))
	}
	return result, nil
}

// ExportBlacklist returns a copy of the blacklist in revocation order
func (r *Registry) ExportBlacklist(ctx context.Context) ([]string, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string{}, doc.Blacklist...), nil
}

// WriteBlacklist exports the blacklist to path as a JSON array and returns
// the number of ids written
func (r *Registry) WriteBlacklist(ctx context.Context, path string) (int, error) {
	ids, err := r.ExportBlacklist(ctx)
	if err != nil {
		return 0, err
	}
	if err := files.WriteJSONAtomic(path, ids, 0644); err != nil {
		return 0, fmt.Errorf("failed to write blacklist: %w", err)
	}
	r.logger.InfoContext(ctx, "blacklist exported",
		slog.String("path", path),
		slog.Int("revoked", len(ids)))
	return len(ids), nil
}

// Stats aggregates records by status and tier
func (r *Registry) Stats(ctx context.Context) (*domain.RegistryStats, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	stats := &domain.RegistryStats{ByTier: map[domain.LicenseType]int{}}
	for _, rec := range doc.Licenses {
		stats.Total++
		stats.ByTier[rec.LicenseType]++
		switch {
		case rec.Revoked:
			stats.Revoked++
		case license.IsExpired(rec.Expires, r.location, now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

func (r *Registry) isActive(rec domain.LicenseRecord, now time.Time) bool {
	return !rec.Revoked && !license.IsExpired(rec.Expires, r.location, now)
}

var (
	// errUnchanged aborts an Update without persisting
	errUnchanged = errors.New("registry unchanged")
	errMissingID = errors.New("license record has no id")
)

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// checkDocument enforces the document invariants after a load
func checkDocument(doc *domain.RegistryDocument) error {
	if doc.Licenses == nil {
		doc.Licenses = []domain.LicenseRecord{}
	}
	if doc.Blacklist == nil {
		doc.Blacklist = []string{}
	}

	ids := make(map[string]struct{}, len(doc.Licenses))
	for _, rec := range doc.Licenses {
		if rec.ID == "" {
			return fmt.Errorf("record without id: %w", apperrors.ErrRegistryCorrupted)
		}
		if _, dup := ids[rec.ID]; dup {
			return fmt.Errorf("duplicate id %s: %w", rec.ID, apperrors.ErrRegistryCorrupted)
		}
		if rec.Revoked != (rec.RevokedAt != nil) {
			return fmt.Errorf("record %s has inconsistent revocation fields: %w", rec.ID, apperrors.ErrRegistryCorrupted)
		}
		ids[rec.ID] = struct{}{}
	}
	for _, id := range doc.Blacklist {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("blacklisted id %s has no record: %w", id, apperrors.ErrRegistryCorrupted)
		}
	}
	return nil
}
