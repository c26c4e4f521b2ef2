package performance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/app"
	"licensekit/internal/config"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/internal/security"
	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

// Load test configuration
const (
	LoadTestDuration = 500 * time.Millisecond
	MaxP99Latency    = time.Second
)

var ConcurrencyLevels = []int{1, 8, 32}

// perfFixture is an application with a delivered license for this host
type perfFixture struct {
	app    *app.Application
	server *httptest.Server
	hwid   string
	data   []byte
}

func setupFixture(tb testing.TB, cacheTTL time.Duration) *perfFixture {
	tb.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.ResolvePaths(tb.TempDir())
	cfg.Server.EnableIssuer = true
	cfg.Server.RateLimit.Enabled = false
	cfg.License.CacheTTL = cacheTTL

	prober := testutil.NewFakeProber(map[string]string{
		security.SourceMachineID:  "perf-machine",
		security.SourceCPUID:      "perf-cpu",
		security.SourceDiskSerial: "perf-disk",
	})
	a, err := app.New(ctx, cfg,
		app.WithLogger(testutil.NopLogger()),
		app.WithTelemetry(infrastructure.NopTelemetry()),
		app.WithProber(prober))
	require.NoError(tb, err)

	_, err = a.Keys().GenerateKeyPair(ctx, false)
	require.NoError(tb, err)
	hwid, err := a.Fingerprints().HardwareID(ctx)
	require.NoError(tb, err)

	issuer, err := a.Issuer()
	require.NoError(tb, err)
	_, err = issuer.Generate(ctx, license.GenerateRequest{
		Client:      "Perf Co",
		LicenseType: string(domain.LicenseTypePro),
		HardwareID:  hwid,
		OutputPath:  cfg.License.Path,
	})
	require.NoError(tb, err)

	data, err := os.ReadFile(cfg.License.Path)
	require.NoError(tb, err)

	handler, err := a.Handler(ctx)
	require.NoError(tb, err)

	f := &perfFixture{app: a, server: httptest.NewServer(handler), hwid: hwid, data: data}
	tb.Cleanup(func() {
		f.server.Close()
		_ = a.Close(context.Background())
	})
	return f
}

func BenchmarkGenerateLicense(b *testing.B) {
	f := setupFixture(b, 0)
	signer := license.NewSigner(f.app.Keys(), license.WithSignerLogger(testutil.NopLogger()))
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, err := signer.Generate(ctx, license.GenerateRequest{
			Client:      fmt.Sprintf("Bench %d", i),
			LicenseType: string(domain.LicenseTypeBasic),
			HardwareID:  f.hwid,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidateLicense(b *testing.B) {
	f := setupFixture(b, 0)
	v, err := f.app.Validator(context.Background(), false)
	require.NoError(b, err)
	opts := license.Options{ExpectedHardwareID: f.hwid}

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			if r := v.Validate(ctx, f.data, opts); !r.IsValid() {
				b.Fatalf("unexpected status %s", r.Status)
			}
		}
	})
}

func BenchmarkLicenseStatusCheck(b *testing.B) {
	for _, ttl := range []time.Duration{0, time.Minute} {
		b.Run(fmt.Sprintf("cache_ttl_%s", ttl), func(b *testing.B) {
			f := setupFixture(b, ttl)
			url := f.server.URL + "/api/license/status"

			b.ResetTimer()
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					resp, err := http.Get(url)
					if err != nil {
						b.Error(err)
						return
					}
					resp.Body.Close()
				}
			})
		})
	}
}

func BenchmarkFingerprintCached(b *testing.B) {
	f := setupFixture(b, 0)
	provider := f.app.Fingerprints()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := provider.HardwareID(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// LoadTestResults summarizes a load test run
type LoadTestResults struct {
	Requests   int64
	Errors     int64
	NonOK      int64
	P50Latency time.Duration
	P99Latency time.Duration
}

func runLoadTest(url string, concurrency int, duration time.Duration) LoadTestResults {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		results   LoadTestResults
	)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	client := &http.Client{Timeout: 5 * time.Second}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				start := time.Now()
				resp, err := client.Get(url)
				latency := time.Since(start)

				atomic.AddInt64(&results.Requests, 1)
				if err != nil {
					atomic.AddInt64(&results.Errors, 1)
					continue
				}
				if resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&results.NonOK, 1)
				}
				resp.Body.Close()

				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		results.P50Latency = latencies[len(latencies)/2]
		results.P99Latency = latencies[len(latencies)*99/100]
	}
	return results
}

func TestLoadLicenseStatusEndpoint(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	f := setupFixture(t, 100*time.Millisecond)

	for _, concurrency := range ConcurrencyLevels {
		t.Run(fmt.Sprintf("concurrency_%d", concurrency), func(t *testing.T) {
			results := runLoadTest(f.server.URL+"/api/license/status", concurrency, LoadTestDuration)

			assert.Positive(t, results.Requests)
			assert.Zero(t, results.Errors)
			assert.Zero(t, results.NonOK)
			assert.Less(t, results.P99Latency, MaxP99Latency)
			t.Logf("requests=%d p50=%v p99=%v", results.Requests, results.P50Latency, results.P99Latency)
		})
	}
}
