package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"licensekit/pkg/contracts/domain"
)

// Fingerprint source names, in the order they contribute to the hardware id
const (
	SourceMachineID    = "machineId"
	SourceCPUID        = "cpuId"
	SourceDiskSerial   = "diskSerial"
	SourceMACAddress   = "macAddress"
	SourceHostname     = "hostname"
	SourcePlatform     = "platform"
	SourceLogicalCores = "logicalCores"
)

// DefaultProbeTimeout bounds each individual probe
const DefaultProbeTimeout = 3 * time.Second

// DefaultMinSources is the number of hardware sources below which the
// hostname, platform and core count are mixed in
const DefaultMinSources = 2

// Prober obtains raw machine identifiers. Each method returns an error or an
// empty string when the identifier is unavailable on this host.
type Prober interface {
	MachineID(ctx context.Context) (string, error)
	CPUID(ctx context.Context) (string, error)
	DiskSerial(ctx context.Context) (string, error)
	MACAddress(ctx context.Context) (string, error)
}

// HostFacts are the low-entropy identifiers used when hardware probes fail
type HostFacts struct {
	Hostname     string
	Platform     string
	LogicalCores int
}

// FingerprintObserver receives derivation measurements
type FingerprintObserver interface {
	ObserveFingerprint(ctx context.Context, duration time.Duration, sources int, fallbackUsed bool)
	ObserveProbeFailure(ctx context.Context, source string)
}

// FingerprintProvider derives and caches the hardware id of the current host.
// It is safe for concurrent use; concurrent first callers share one derivation.
type FingerprintProvider struct {
	prober       Prober
	hostFacts    func(ctx context.Context) HostFacts
	probeTimeout time.Duration
	minSources   int
	observer     FingerprintObserver
	logger       *slog.Logger
	now          func() time.Time

	group  singleflight.Group
	mu     sync.RWMutex
	cached *domain.HardwareFingerprint
}

// ProviderOption configures a FingerprintProvider
type ProviderOption func(*FingerprintProvider)

// WithProbeTimeout sets the per-probe timeout
func WithProbeTimeout(d time.Duration) ProviderOption {
	return func(p *FingerprintProvider) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithMinSources sets how many hardware sources are required before fallbacks
// are skipped
func WithMinSources(n int) ProviderOption {
	return func(p *FingerprintProvider) {
		if n > 0 {
			p.minSources = n
		}
	}
}

// WithHostFacts replaces the fallback fact source
func WithHostFacts(fn func(ctx context.Context) HostFacts) ProviderOption {
	return func(p *FingerprintProvider) { p.hostFacts = fn }
}

// WithObserver attaches a metrics observer
func WithObserver(o FingerprintObserver) ProviderOption {
	return func(p *FingerprintProvider) { p.observer = o }
}

// WithLogger sets the provider logger
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *FingerprintProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for GeneratedAt
func WithClock(now func() time.Time) ProviderOption {
	return func(p *FingerprintProvider) { p.now = now }
}

// NewFingerprintProvider creates a provider over the given prober
func NewFingerprintProvider(prober Prober, opts ...ProviderOption) *FingerprintProvider {
	p := &FingerprintProvider{
		prober:       prober,
		hostFacts:    SystemHostFacts,
		probeTimeout: DefaultProbeTimeout,
		minSources:   DefaultMinSources,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "fingerprint"))
	return p
}

// HardwareID returns the 64 character hardware id of this host
func (p *FingerprintProvider) HardwareID(ctx context.Context) (string, error) {
	fp, err := p.Fingerprint(ctx)
	if err != nil {
		return "", err
	}
	return fp.HardwareID, nil
}

// Fingerprint returns the cached fingerprint, deriving it on first use
func (p *FingerprintProvider) Fingerprint(ctx context.Context) (*domain.HardwareFingerprint, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()
	if cached != nil {
		return copyFingerprint(cached), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fingerprint derivation cancelled: %w", err)
	}

	// The shared derivation outlives any single caller so a cancelled request
	// cannot cache a degraded fingerprint.
	deriveCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("derive", func() (interface{}, error) {
		p.mu.RLock()
		cached := p.cached
		p.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		fp, err := p.derive(deriveCtx)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cached = fp
		p.mu.Unlock()
		return fp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyFingerprint(res.Val.(*domain.HardwareFingerprint)), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("fingerprint derivation cancelled: %w", ctx.Err())
	}
}

// Refresh discards the cached fingerprint and derives a new one
func (p *FingerprintProvider) Refresh(ctx context.Context) (*domain.HardwareFingerprint, error) {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
	return p.Fingerprint(ctx)
}

// Component is one named input of the hardware id
type Component struct {
	Source string
	Value  string
}

func (p *FingerprintProvider) derive(ctx context.Context) (*domain.HardwareFingerprint, error) {
	start := time.Now()

	probes := []struct {
		source string
		fn     func(context.Context) (string, error)
	}{
		{SourceMachineID, p.prober.MachineID},
		{SourceCPUID, p.prober.CPUID},
		{SourceDiskSerial, p.prober.DiskSerial},
		{SourceMACAddress, p.prober.MACAddress},
	}

	results := make([]Component, len(probes))
	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			value, err := runProbe(ctx, p.probeTimeout, probe.fn)
			value = strings.TrimSpace(value)
			if err == nil && IsPlaceholder(value) {
				err = errors.New("placeholder value")
			}
			if err != nil {
				p.logger.DebugContext(ctx, "fingerprint probe unavailable",
					slog.String("source", probe.source),
					slog.String("error", err.Error()))
				if p.observer != nil {
					p.observer.ObserveProbeFailure(ctx, probe.source)
				}
				return nil
			}
			results[i] = Component{Source: probe.source, Value: value}
			return nil
		})
	}
	_ = g.Wait()

	fp := &domain.HardwareFingerprint{
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		Sources:     []string{},
		GeneratedAt: p.now().UTC(),
	}

	var components []Component
	for _, r := range results {
		if r.Source == "" {
			continue
		}
		components = append(components, r)
		fp.Sources = append(fp.Sources, r.Source)
		switch r.Source {
		case SourceMachineID:
			fp.MachineID = r.Value
		case SourceCPUID:
			fp.CPUID = r.Value
		case SourceDiskSerial:
			fp.DiskSerial = r.Value
		case SourceMACAddress:
			fp.MACAddress = r.Value
		}
	}

	facts := p.hostFacts(ctx)
	fp.Hostname = facts.Hostname
	if facts.Platform != "" {
		fp.Platform = facts.Platform
	}

	if hardware := len(components); hardware < p.minSources {
		fp.FallbackUsed = true
		for _, f := range []Component{
			{SourceHostname, facts.Hostname},
			{SourcePlatform, facts.Platform},
			{SourceLogicalCores, logicalCoresString(facts.LogicalCores)},
		} {
			if f.Value == "" {
				continue
			}
			components = append(components, f)
			fp.Sources = append(fp.Sources, f.Source)
		}
		p.logger.WarnContext(ctx, "hardware fingerprint using fallback sources",
			slog.Int("hardware_sources", hardware),
			slog.Any("sources", fp.Sources))
	}

	if len(components) == 0 {
		return nil, errors.New("no fingerprint sources available")
	}

	fp.HardwareID = DeriveHardwareID(components)
	duration := time.Since(start)

	if p.observer != nil {
		p.observer.ObserveFingerprint(ctx, duration, len(fp.Sources), fp.FallbackUsed)
	}
	p.logger.DebugContext(ctx, "hardware fingerprint derived",
		slog.String("hardware_id", fp.HardwareID),
		slog.Any("sources", fp.Sources),
		slog.Bool("fallback_used", fp.FallbackUsed),
		slog.Duration("duration", duration))

	return fp, nil
}

// runProbe runs fn with its own deadline. The call returns when the deadline
// passes even if fn ignores its context.
func runProbe(ctx context.Context, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("probe timed out: %w", ctx.Err())
	}
}

// HardwareIDFormat prefixes the hashed input. Change it whenever the
// derivation changes so old and new ids never collide.
const HardwareIDFormat = "hwid-v2"

// DeriveHardwareID hashes the ordered source=value components into the 64 hex
// character hardware id
func DeriveHardwareID(components []Component) string {
	parts := make([]string, 0, len(components)+1)
	parts = append(parts, HardwareIDFormat)
	for _, c := range components {
		parts = append(parts, c.Source+"="+c.Value)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

var placeholderValues = map[string]struct{}{
	"to be filled by o.e.m.": {},
	"default string":         {},
	"not specified":          {},
	"not applicable":         {},
	"system serial number":   {},
	"none":                   {},
	"null":                   {},
	"unknown":                {},
	"n/a":                    {},
	"0123456789":             {},
}

// IsPlaceholder reports whether a probed value is a vendor placeholder or an
// all-zero identifier that must not contribute to the fingerprint
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return true
	}
	if _, ok := placeholderValues[v]; ok {
		return true
	}

	significant := strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', '.', ' ', '_':
			return -1
		}
		return r
	}, v)
	if significant == "" {
		return true
	}
	return strings.Trim(significant, "0") == "" || strings.Trim(significant, "f") == ""
}

// SystemHostFacts reads hostname, platform and logical core count of the
// current host
func SystemHostFacts(ctx context.Context) HostFacts {
	facts := HostFacts{Platform: runtime.GOOS + "/" + runtime.GOARCH}

	if hostname, err := os.Hostname(); err == nil {
		facts.Hostname = strings.ToLower(strings.TrimSpace(hostname))
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		facts.LogicalCores = cores
	} else {
		facts.LogicalCores = runtime.NumCPU()
	}
	return facts
}

func logicalCoresString(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func copyFingerprint(fp *domain.HardwareFingerprint) *domain.HardwareFingerprint {
	c := *fp
	c.Sources = append([]string(nil), fp.Sources...)
	return &c
}
