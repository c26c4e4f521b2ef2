package app

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensekit/internal/config"
	apierrors "licensekit/internal/errors"
	"licensekit/internal/infrastructure"
	"licensekit/internal/keys"
	"licensekit/internal/license"
	"licensekit/internal/middleware"
	"licensekit/internal/registry"
	"licensekit/internal/security"
	"licensekit/internal/services"
	handlers "licensekit/internal/transport/http"
)

// Version is set at build time with -ldflags "-X licensekit/internal/app.Version=..."
var Version = config.AppVersion

// Application owns the components of one process. Components are built on
// first use so a CLI command only opens what it needs.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry
	Metrics   *license.LicenseMetrics

	mu           sync.Mutex
	keys         *keys.Manager
	registry     *registry.Registry
	issuer       services.IssuerService
	fingerprints *security.FingerprintProvider
	validator    *license.Validator
	client       services.ClientService
	location     *time.Location

	closers []func() error
}

// Option configures New
type Option func(*options)

type options struct {
	logger    *slog.Logger
	telemetry *infrastructure.Telemetry
	prober    security.Prober
}

// WithLogger replaces the logger built from the logging config
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry replaces the telemetry built from the telemetry config
func WithTelemetry(t *infrastructure.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithProber replaces the hardware prober
func WithProber(p security.Prober) Option {
	return func(o *options) { o.prober = p }
}

// New sets up logging and telemetry for cfg. Everything else is opened lazily.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &Application{Config: cfg}

	if o.logger != nil {
		a.Logger = o.logger
	} else {
		logger, closeLog, err := infrastructure.NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
		a.closers = append(a.closers, closeLog)
	}

	if o.telemetry != nil {
		a.Telemetry = o.telemetry
	} else {
		tel, err := infrastructure.NewTelemetry(ctx, cfg.Telemetry, Version, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		a.Telemetry = tel
	}

	metrics, err := license.NewLicenseMetrics(a.Telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}
	a.Metrics = metrics

	loc, err := cfg.License.LoadLocation()
	if err != nil {
		return nil, err
	}
	a.location = loc

	prober := o.prober
	if prober == nil {
		prober = security.NewSystemProber()
	}
	a.fingerprints = security.NewFingerprintProvider(prober,
		security.WithProbeTimeout(cfg.Fingerprint.ProbeTimeout),
		security.WithMinSources(cfg.Fingerprint.MinSources),
		security.WithObserver(metrics),
		security.WithLogger(a.Logger))

	a.Logger.DebugContext(ctx, "application initialized",
		slog.String("version", Version),
		slog.String("base_dir", cfg.BaseDir),
		slog.String("registry_backend", cfg.Registry.Backend))
	return a, nil
}

// Keys returns the signing key manager
func (a *Application) Keys() *keys.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		a.keys = keys.NewManager(a.Config.Keys.Dir,
			keys.WithPassphrase(a.Config.Keys.Passphrase),
			keys.WithLogger(a.Logger))
	}
	return a.keys
}

// Fingerprints returns the hardware fingerprint provider of this host
func (a *Application) Fingerprints() *security.FingerprintProvider {
	return a.fingerprints
}

// Registry opens the configured registry backend
func (a *Application) Registry() (*registry.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registryLocked()
}

func (a *Application) registryLocked() (*registry.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	store, err := registry.OpenStore(a.Config.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	a.registry = registry.New(store,
		registry.WithLocation(a.location),
		registry.WithLogger(a.Logger),
		registry.WithMetrics(a.Metrics))
	a.closers = append(a.closers, a.registry.Close)
	return a.registry, nil
}

// Issuer returns the issuer service. It needs the registry but not the keys:
// a missing private key surfaces when a license is generated.
func (a *Application) Issuer() (services.IssuerService, error) {
	km := a.Keys()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.issuer != nil {
		return a.issuer, nil
	}
	reg, err := a.registryLocked()
	if err != nil {
		return nil, err
	}
	signer := license.NewSigner(km,
		license.WithRecorder(reg),
		license.WithOutputDir(a.Config.Registry.OutputDir),
		license.WithSignerLocation(a.location),
		license.WithSignerLogger(a.Logger),
		license.WithSignerMetrics(a.Metrics))
	a.issuer = services.NewIssuerService(signer, reg, services.IssuerConfig{
		BlacklistPath: a.Config.Registry.BlacklistPath,
		ReportsDir:    a.Config.Registry.ReportsDir,
		Location:      a.location,
	}, a.Logger)
	return a.issuer, nil
}

// PublicKey resolves the verification key: the configured path, then the
// embedded key, then the public half of the local key pair
func (a *Application) PublicKey() (*rsa.PublicKey, error) {
	pub, err := keys.ResolvePublicKey(a.Config.Keys.PublicKeyPath)
	if err == nil {
		return pub, nil
	}
	if !errors.Is(err, apierrors.ErrPublicKeyMissing) {
		return nil, err
	}
	km := a.Keys()
	if !config.FileExists(km.PublicKeyPath()) {
		return nil, err
	}
	return km.PublicKey()
}

// Validator builds the license validator. With watch enabled the blacklist
// file is reloaded on change until Close.
func (a *Application) Validator(ctx context.Context, watch bool) (*license.Validator, error) {
	pub, err := a.PublicKey()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.validator != nil {
		return a.validator, nil
	}

	watcher, err := license.NewBlacklistWatcher(a.Config.License.BlacklistPath, a.Logger)
	if err != nil {
		return nil, err
	}
	if watch {
		if err := watcher.Start(ctx); err != nil {
			infrastructure.WithError(a.Logger, err).WarnContext(ctx, "blacklist watch unavailable, using startup snapshot",
				slog.String("path", a.Config.License.BlacklistPath))
		} else {
			a.closers = append(a.closers, watcher.Close)
		}
	}

	opts := []license.ValidatorOption{
		license.WithBlacklist(watcher),
		license.WithLocation(a.location),
		license.WithLogger(a.Logger),
		license.WithMetrics(a.Metrics),
	}
	if a.Config.Server.EnableIssuer && config.FileExists(a.registryPath()) {
		reg, err := a.registryLocked()
		if err != nil {
			return nil, err
		}
		opts = append(opts, license.WithRegistryLookup(reg))
	}

	v, err := license.NewValidator(pub, opts...)
	if err != nil {
		return nil, err
	}
	a.validator = v
	return v, nil
}

func (a *Application) registryPath() string {
	if a.Config.Registry.Backend == config.RegistryBackendSQLite {
		return a.Config.Registry.DatabasePath
	}
	return a.Config.Registry.Path
}

// Client returns the client service for the installed license
func (a *Application) Client(ctx context.Context) (services.ClientService, error) {
	v, err := a.Validator(ctx, a.Config.License.WatchBlacklist)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		a.client = services.NewClientService(v, a.fingerprints, services.ClientConfig{
			LicensePath:   a.Config.License.Path,
			CheckHardware: a.Config.License.CheckHardware,
			CacheTTL:      a.Config.License.CacheTTL,
		}, a.Logger)
	}
	return a.client, nil
}

// Handler builds the HTTP router. The client surface is always mounted; the
// registry surface only with Server.EnableIssuer.
func (a *Application) Handler(ctx context.Context) (http.Handler, error) {
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	var issuer services.IssuerService
	if a.Config.Server.EnableIssuer {
		if issuer, err = a.Issuer(); err != nil {
			return nil, err
		}
	}

	otelMiddleware, err := middleware.NewOTelMiddleware(a.Telemetry, a.Logger)
	if err != nil {
		return nil, err
	}
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	r := chi.NewRouter()
	r.Use(otelMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(errorHandler.Middleware)
	r.Use(middleware.SecurityHeaders)
	if rl := a.Config.Server.RateLimit; rl.Enabled {
		r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
	}
	r.Use(middleware.NewLicenseGuard(client, a.Logger,
		middleware.WithGuardTracer(a.Telemetry.Tracer),
		middleware.WithGuardMeter(a.Telemetry.Meter)).Handler)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	if a.Telemetry.MetricsHandler != nil {
		r.Handle("/metrics", a.Telemetry.MetricsHandler)
	}

	health := handlers.NewHealthHandler(services.NewHealthService(Version, client, issuer, a.Logger), a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if a.Config.Server.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(a.Config.Server.RequestTimeout))
		}

		r.Get("/health", health.HealthCheck)
		r.Get("/health/live", health.LivenessCheck)
		r.Get("/health/ready", health.ReadinessCheck)

		r.Mount("/license", handlers.NewLicenseHandler(client, a.Logger).Routes())
		if issuer != nil {
			r.Mount("/registry", handlers.NewRegistryHandler(issuer, a.Logger).Routes())
		}
	})

	return r, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := a.Handler(ctx)
	if err != nil {
		return err
	}

	if ln == nil {
		if ln, err = net.Listen("tcp", a.Config.Server.Address()); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Address(), err)
		}
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.InfoContext(ctx, "http server listening",
			slog.String("address", ln.Addr().String()),
			slog.Bool("issuer", a.Config.Server.EnableIssuer))
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.Logger.InfoContext(ctx, "shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Close releases every opened component in reverse order and flushes
// telemetry
func (a *Application) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	if a.Telemetry != nil {
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
