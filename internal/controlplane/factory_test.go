package controlplane

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-fleet/internal/cert"
	"github.com/EternisAI/silo-fleet/internal/config"
)

type stubDaemon struct {
	Daemon
	versionErr error
	closed     bool
}

func (s *stubDaemon) Version(context.Context) (VersionInfo, error) {
	if s.versionErr != nil {
		return VersionInfo{}, s.versionErr
	}
	return VersionInfo{Version: "28.5.1", APIVersion: "1.51"}, nil
}

func (s *stubDaemon) Close() error {
	s.closed = true
	return nil
}

type recordingDialer struct {
	calls  int
	tls    *tls.Config
	daemon *stubDaemon
}

func (r *recordingDialer) dial(_ context.Context, _ string, tlsConfig *tls.Config) (Daemon, error) {
	r.calls++
	r.tls = tlsConfig
	return r.daemon, nil
}

func resolve(t *testing.T, overrides config.Values) config.EffectiveConfig {
	t.Helper()
	cfg, err := config.Resolve(config.Sources{Defaults: config.Defaults(), Overrides: overrides})
	require.NoError(t, err)
	return cfg
}

func TestBuild_FailsClosedWithoutDialing(t *testing.T) {
	rec := &recordingDialer{daemon: &stubDaemon{}}
	f := &Factory{Dial: rec.dial}

	cfg := resolve(t, config.Values{config.KeyCertDir: t.TempDir()})
	client, err := f.Build(context.Background(), cfg)

	assert.Nil(t, client)
	var certErr *CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.False(t, certErr.Result.Usable)
	assert.Len(t, certErr.Result.Fatal(), 3)
	assert.Equal(t, 0, rec.calls, "no connection may be attempted with an unusable bundle")
}

func TestBuild_FailsClosedOnExpiredLeaf(t *testing.T) {
	dir := t.TempDir()
	_, err := cert.GenerateDevBundle(cert.DevBundleOptions{Dir: dir, NotAfter: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	rec := &recordingDialer{daemon: &stubDaemon{}}
	f := &Factory{Dial: rec.dial}

	_, err = f.Build(context.Background(), resolve(t, config.Values{config.KeyCertDir: dir}))

	var certErr *CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, cert.Expired, certErr.Result.Problems[0].Kind)
	assert.Equal(t, 0, rec.calls)
}

func TestBuild_InsecureWhenTLSDisabled(t *testing.T) {
	rec := &recordingDialer{daemon: &stubDaemon{}}
	f := &Factory{Dial: rec.dial}

	cfg := resolve(t, config.Values{config.KeyTLSEnabled: "false", config.KeyCertDir: t.TempDir()})
	client, err := f.Build(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, client.Insecure)
	assert.Nil(t, rec.tls)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, "localhost:2376", client.Address)
	assert.Equal(t, "28.5.1", client.Version.Version)
}

func TestBuild_PropagatesWarnings(t *testing.T) {
	dir := t.TempDir()
	b, err := cert.GenerateDevBundle(cert.DevBundleOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, os.Chmod(b.KeyPath, 0644))

	rec := &recordingDialer{daemon: &stubDaemon{}}
	f := &Factory{Dial: rec.dial}

	client, err := f.Build(context.Background(), resolve(t, config.Values{config.KeyCertDir: dir}))

	require.NoError(t, err)
	assert.False(t, client.Insecure)
	require.NotNil(t, rec.tls)
	assert.Len(t, rec.tls.Certificates, 1)
	require.Len(t, client.Warnings, 1)
	assert.Equal(t, cert.InsecureKeyPermissions, client.Warnings[0].Kind)
}

func TestBuild_HandshakeFailureClosesDaemon(t *testing.T) {
	stub := &stubDaemon{versionErr: errors.New("connection refused")}
	rec := &recordingDialer{daemon: stub}
	f := &Factory{Dial: rec.dial}

	cfg := resolve(t, config.Values{config.KeyTLSEnabled: "false"})
	_, err := f.Build(context.Background(), cfg)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "localhost:2376", connErr.Address)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, stub.closed)
}

func TestBuild_UnloadableKeyIsCertificateError(t *testing.T) {
	dir := t.TempDir()
	b, err := cert.GenerateDevBundle(cert.DevBundleOptions{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(b.KeyPath, []byte("garbage"), 0600))

	rec := &recordingDialer{daemon: &stubDaemon{}}
	f := &Factory{Dial: rec.dial}

	_, err = f.Build(context.Background(), resolve(t, config.Values{config.KeyCertDir: dir}))

	var certErr *CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Error(t, certErr.Err)
	assert.Equal(t, 0, rec.calls)
}

// newEngineServer serves the two endpoints the handshake touches, behind TLS
// that demands a client certificate signed by the bundle's CA.
func newEngineServer(t *testing.T, b cert.DevBundle) *httptest.Server {
	t.Helper()

	serverCert, err := tls.LoadX509KeyPair(b.ServerCertPath, b.ServerKeyPath)
	require.NoError(t, err)
	caPEM, err := os.ReadFile(b.CAPath)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Api-Version", "1.51")
		switch {
		case r.URL.Path == "/_ping":
			w.Write([]byte("OK"))
		case strings.HasSuffix(r.URL.Path, "/version"):
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"Version":"28.5.1","ApiVersion":"1.51","Os":"linux","Arch":"amd64"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func daemonOverrides(t *testing.T, srv *httptest.Server, certDir string) config.Values {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return config.Values{
		config.KeyDaemonHost: host,
		config.KeyDaemonPort: port,
		config.KeyCertDir:    certDir,
	}
}

func TestBuild_MutualTLSHandshake(t *testing.T) {
	dir := t.TempDir()
	b, err := cert.GenerateDevBundle(cert.DevBundleOptions{
		Dir:       dir,
		ServerIPs: []net.IP{net.ParseIP("127.0.0.1")},
	})
	require.NoError(t, err)
	srv := newEngineServer(t, b)

	client, err := NewFactory().Build(context.Background(), resolve(t, daemonOverrides(t, srv, dir)))

	require.NoError(t, err)
	defer client.Close()
	assert.False(t, client.Insecure)
	assert.Equal(t, "28.5.1", client.Version.Version)
	assert.Equal(t, "linux", client.Version.OS)
}

func TestBuild_TLSServerNameOverride(t *testing.T) {
	dir := t.TempDir()
	b, err := cert.GenerateDevBundle(cert.DevBundleOptions{
		Dir:         dir,
		ServerNames: []string{"daemon.internal"},
	})
	require.NoError(t, err)
	srv := newEngineServer(t, b)

	overrides := daemonOverrides(t, srv, dir)
	_, err = NewFactory().Build(context.Background(), resolve(t, overrides))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr, "certificate SAN does not cover the dialled address")

	overrides[config.KeyTLSServerName] = "daemon.internal"
	client, err := NewFactory().Build(context.Background(), resolve(t, overrides))
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, "28.5.1", client.Version.Version)
}

func TestBuild_MutualTLSRejectsForeignCA(t *testing.T) {
	serverDir := t.TempDir()
	b, err := cert.GenerateDevBundle(cert.DevBundleOptions{
		Dir:       serverDir,
		ServerIPs: []net.IP{net.ParseIP("127.0.0.1")},
	})
	require.NoError(t, err)
	srv := newEngineServer(t, b)

	clientDir := t.TempDir()
	_, err = cert.GenerateDevBundle(cert.DevBundleOptions{Dir: clientDir})
	require.NoError(t, err)

	_, err = NewFactory().Build(context.Background(), resolve(t, daemonOverrides(t, srv, clientDir)))

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}
