package certs

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafproxy/internal/domain"
)

func TestResolverSelectIdentity(t *testing.T) {
	store, err := Load(newTestCertsDir(t), "", false, testLogger())
	require.NoError(t, err)
	resolver := NewResolver(store)

	assert.Equal(t, "api.example.com", resolver.SelectIdentity("api.example.com").Hostname)
	assert.Equal(t, "*.example.com", resolver.SelectIdentity("shop.example.com").Hostname)
	assert.True(t, resolver.SelectIdentity("").Default)
}

func TestResolverGetCertificate(t *testing.T) {
	store, err := Load(newTestCertsDir(t), "", false, testLogger())
	require.NoError(t, err)
	resolver := NewResolver(store)

	cert, err := resolver.GetCertificate(&tls.ClientHelloInfo{ServerName: "api.example.com"})
	require.NoError(t, err)
	assert.Equal(t, &store.Resolve("api.example.com").Certificate, cert)

	// SNIなしハンドシェイクはデフォルト証明書
	cert, err = resolver.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.Equal(t, &store.Default().Certificate, cert)
}

func TestResolverTLSConfig(t *testing.T) {
	certsDir := newTestCertsDir(t)

	t.Run("mtls enabled requires client certificates", func(t *testing.T) {
		store, err := Load(certsDir, certsDir+"/default/cert.pem", true, testLogger())
		require.NoError(t, err)

		cfg := NewResolver(store).TLSConfig()
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.ClientCAs)
		assert.NotNil(t, cfg.GetCertificate)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("mtls disabled does not request client certificates", func(t *testing.T) {
		store, err := Load(certsDir, "", false, testLogger())
		require.NoError(t, err)

		cfg := NewResolver(store).TLSConfig()
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
		assert.Nil(t, cfg.ClientCAs)
	})
}

type fakeMetrics struct {
	handshakeRejected int
}

func (f *fakeMetrics) RecordRequest(string)                       {}
func (f *fakeMetrics) RecordDecision(domain.AdmissionDecision)    {}
func (f *fakeMetrics) RecordHandshakeRejected()                   { f.handshakeRejected++ }
func (f *fakeMetrics) RecordRateLimited()                         {}
func (f *fakeMetrics) RecordReloadFailure()                       {}
func (f *fakeMetrics) RecordUpstreamError()                       {}
func (f *fakeMetrics) SetRuleSetInfo(uint64, time.Time)           {}

func TestHandshakeErrorWriter(t *testing.T) {
	fm := &fakeMetrics{}
	w := &HandshakeErrorWriter{Log: testLogger(), Metrics: fm}

	_, err := w.Write([]byte("http: TLS handshake error from 10.0.0.5:1234: remote error: tls: bad certificate\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, fm.handshakeRejected)

	// ハンドシェイク以外のサーバーエラーはカウントしない
	_, err = w.Write([]byte("http: response write error\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, fm.handshakeRejected)
}
