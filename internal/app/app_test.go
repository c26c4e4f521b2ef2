package app

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/config"
	"licensekit/internal/infrastructure"
	"licensekit/internal/license"
	"licensekit/internal/security"
	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.ResolvePaths(t.TempDir())
	cfg.License.CacheTTL = 0
	cfg.Server.EnableIssuer = true
	cfg.Server.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	prober := testutil.NewFakeProber(map[string]string{
		security.SourceMachineID:  "machine-1",
		security.SourceCPUID:      "cpu-1",
		security.SourceDiskSerial: "disk-1",
		security.SourceMACAddress: "aa:bb:cc:dd:ee:ff",
	})

	a, err := New(context.Background(), cfg,
		WithLogger(testutil.NopLogger()),
		WithTelemetry(infrastructure.NopTelemetry()),
		WithProber(prober))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

// issueForHost generates keys, issues a license for this host and installs it
func issueForHost(t *testing.T, a *Application, expires string) *license.GenerateResult {
	t.Helper()
	ctx := context.Background()

	_, err := a.Keys().GenerateKeyPair(ctx, false)
	require.NoError(t, err)

	hwid, err := a.Fingerprints().HardwareID(ctx)
	require.NoError(t, err)

	issuer, err := a.Issuer()
	require.NoError(t, err)
	result, err := issuer.Generate(ctx, license.GenerateRequest{
		Client:      "Acme",
		LicenseType: "PRO",
		HardwareID:  hwid,
		Expires:     expires,
		OutputPath:  a.Config.License.Path,
	})
	require.NoError(t, err)
	return result
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func TestApplication_ValidateWithoutPublicKey(t *testing.T) {
	a := newTestApp(t, nil)
	_, err := a.Client(context.Background())
	assert.Error(t, err)
}

func TestApplication_IssueAndServe(t *testing.T) {
	a := newTestApp(t, nil)
	result := issueForHost(t, a, "")

	h, err := a.Handler(context.Background())
	require.NoError(t, err)

	code, body := getJSON(t, h, "/api/license/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StatusValid), body["status"])
	assert.Equal(t, result.Record.ID, body["licenseId"])
	assert.Equal(t, true, body["registryFound"])

	code, body = getJSON(t, h, "/api/license/status?verbose=true")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["stages"], 6)

	code, body = getJSON(t, h, "/api/registry/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total"])

	code, _ = getJSON(t, h, "/api/health/ready")
	assert.Equal(t, http.StatusOK, code)

	// a valid license lets guarded requests through to the router
	code, _ = getJSON(t, h, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestApplication_RevocationClosesGuard(t *testing.T) {
	a := newTestApp(t, nil)
	result := issueForHost(t, a, "")
	ctx := context.Background()

	h, err := a.Handler(ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/registry/licenses/"+result.Record.ID+"/revoke", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	issuer, err := a.Issuer()
	require.NoError(t, err)
	_, n, err := issuer.WriteBlacklist(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// without watching, the running validator keeps its startup snapshot
	v, err := a.Validator(ctx, false)
	require.NoError(t, err)
	res := v.ValidateFile(ctx, a.Config.License.Path, license.Options{})
	require.Equal(t, domain.StatusValid, res.Status)

	a2 := newTestApp(t, func(cfg *config.Config) { *cfg = *a.Config })
	h2, err := a2.Handler(ctx)
	require.NoError(t, err)

	code, body := getJSON(t, h2, "/api/license/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StatusRevoked), body["status"])

	code, body = getJSON(t, h2, "/api/anything")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, domain.ErrCodeRevokedLicense, body["error_code"])
}

func TestApplication_ExpiredLicenseRejected(t *testing.T) {
	a := newTestApp(t, nil)
	issueForHost(t, a, "")

	v, err := license.NewValidator(mustPublicKey(t, a), license.WithClock(func() time.Time {
		return time.Now().AddDate(2, 0, 0)
	}))
	require.NoError(t, err)
	res := v.ValidateFile(context.Background(), a.Config.License.Path, license.Options{})
	assert.Equal(t, domain.StatusExpired, res.Status)
	assert.Nil(t, res.DaysRemaining)
}

func mustPublicKey(t *testing.T, a *Application) *rsa.PublicKey {
	t.Helper()
	pub, err := a.PublicKey()
	require.NoError(t, err)
	return pub
}

func TestApplication_Serve(t *testing.T) {
	a := newTestApp(t, nil)
	issueForHost(t, a, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestApplication_IssuerDisabled(t *testing.T) {
	a := newTestApp(t, nil)
	issueForHost(t, a, "")
	a.Config.Server.EnableIssuer = false

	pem, err := a.Keys().PublicKeyPEM()
	require.NoError(t, err)
	pubPath := filepath.Join(a.Config.BaseDir, "client-public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem, 0644))

	client := newTestApp(t, func(cfg *config.Config) {
		*cfg = *a.Config
		cfg.Keys.Dir = filepath.Join(a.Config.BaseDir, "no-keys-here")
		cfg.Keys.PublicKeyPath = pubPath
	})
	h, err := client.Handler(context.Background())
	require.NoError(t, err)

	code, body := getJSON(t, h, "/api/license/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(domain.StatusValid), body["status"])
	assert.Nil(t, body["registryFound"])

	code, _ = getJSON(t, h, "/api/registry/stats")
	assert.Equal(t, http.StatusNotFound, code)
}
