package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candinet/account-recovery-backend/api"
	"github.com/candinet/account-recovery-backend/api/authorityhandler"
	"github.com/candinet/account-recovery-backend/authority"
	"github.com/candinet/account-recovery-backend/networks"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	master := make([]byte, 32)
	copy(master, []byte("httpserver-test-master-secret-32"))
	signer, err := authority.NewSignerFromMaster(master)
	require.NoError(t, err)

	svc, err := authority.New(authority.Config{
		Networks:   networks.NewResolver(),
		Signer:     signer,
		CodeSender: &authority.LogCodeSender{Log: log},
		Log:        log,
	})
	require.NoError(t, err)

	srv, err := New(&HTTPServerConfig{
		Log:                      log,
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, authorityhandler.NewHandler(svc, log))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := getBody(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "alive")

	code, body = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")
}

func TestDrainUndrain(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := getBody(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "draining")

	code, _ = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = getBody(t, ts.URL+"/drain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "already draining")

	code, body = getBody(t, ts.URL+"/undrain")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")

	code, _ = getBody(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestRPCEndpointMountedAndCounted(t *testing.T) {
	srv, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+api.RPCPath, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"grdn_bogus","params":{}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "unknown method")

	counted := testutil.ToFloat64(srv.handler.Requests.WithLabelValues("grdn_bogus", "method_not_found"))
	assert.Equal(t, float64(1), counted)
}
