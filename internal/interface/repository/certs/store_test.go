package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafproxy/internal/domain"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// writeCertPair は自己署名証明書と鍵をディレクトリに書き込む.
func writeCertPair(t *testing.T, dir, commonName string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certOut, err := os.Create(filepath.Join(dir, "cert.pem"))
	require.NoError(t, err)
	defer certOut.Close()
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	keyOut, err := os.Create(filepath.Join(dir, "key.pem"))
	require.NoError(t, err)
	defer keyOut.Close()
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
}

func newTestCertsDir(t *testing.T) string {
	t.Helper()
	certsDir := t.TempDir()

	writeCertPair(t, filepath.Join(certsDir, "default"), "default.test")
	writeCertPair(t, filepath.Join(certsDir, "sni", "api.example.com"), "api.example.com")
	writeCertPair(t, filepath.Join(certsDir, "wildcard", "example.com"), "*.example.com")
	writeCertPair(t, filepath.Join(certsDir, "wildcard", "shop.example.com"), "*.shop.example.com")

	return certsDir
}

func TestStoreResolve(t *testing.T) {
	store, err := Load(newTestCertsDir(t), "", false, testLogger())
	require.NoError(t, err)

	testCases := []struct {
		name        string
		hostname    string
		wantPattern string
		wantDefault bool
	}{
		{"exact match", "api.example.com", "api.example.com", false},
		{"exact match is case-insensitive", "API.EXAMPLE.COM", "api.example.com", false},
		{"wildcard match", "shop.example.com", "*.example.com", false},
		{"longest wildcard suffix wins", "a.shop.example.com", "*.shop.example.com", false},
		{"unknown hostname falls back to default", "other.test", "", true},
		{"empty sni falls back to default", "", "", true},
		{"trailing dot is normalized", "api.example.com.", "api.example.com", false},
		{"port is stripped", "api.example.com:443", "api.example.com", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			identity := store.Resolve(tc.hostname)
			require.NotNil(t, identity)
			assert.Equal(t, tc.wantDefault, identity.Default)
			if !tc.wantDefault {
				assert.Equal(t, tc.wantPattern, identity.Hostname)
			}
		})
	}
}

func TestLoadMissingDefaultIsFatal(t *testing.T) {
	certsDir := t.TempDir()
	writeCertPair(t, filepath.Join(certsDir, "sni", "api.example.com"), "api.example.com")

	_, err := Load(certsDir, "", false, testLogger())
	require.Error(t, err)

	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadSkipsMalformedEntry(t *testing.T) {
	certsDir := newTestCertsDir(t)

	badDir := filepath.Join(certsDir, "sni", "bad.example.com")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "cert.pem"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "key.pem"), []byte("garbage"), 0644))

	store, err := Load(certsDir, "", false, testLogger())
	require.NoError(t, err)

	// 破損エントリのホストはデフォルトにフォールバック
	assert.True(t, store.Resolve("bad.example.com").Default)
	assert.False(t, store.Resolve("api.example.com").Default)
}

func TestLoadClientCAs(t *testing.T) {
	certsDir := newTestCertsDir(t)
	caPath := filepath.Join(certsDir, "default", "cert.pem")

	t.Run("mtls enabled with valid bundle", func(t *testing.T) {
		store, err := Load(certsDir, caPath, true, testLogger())
		require.NoError(t, err)
		assert.True(t, store.MTLSEnabled())
		assert.NotNil(t, store.ClientCAs())
	})

	t.Run("mtls enabled with missing bundle is fatal", func(t *testing.T) {
		_, err := Load(certsDir, filepath.Join(certsDir, "nope.pem"), true, testLogger())
		require.Error(t, err)

		var cfgErr *domain.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("mtls enabled with invalid bundle is fatal", func(t *testing.T) {
		invalid := filepath.Join(certsDir, "invalid-ca.pem")
		require.NoError(t, os.WriteFile(invalid, []byte("not a cert"), 0644))

		_, err := Load(certsDir, invalid, true, testLogger())
		require.Error(t, err)
	})

	t.Run("mtls disabled ignores bundle", func(t *testing.T) {
		store, err := Load(certsDir, "", false, testLogger())
		require.NoError(t, err)
		assert.False(t, store.MTLSEnabled())
		assert.Nil(t, store.ClientCAs())
	})
}

func TestNormalizeHostname(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com.", "example.com"},
		{"example.com:8443", "example.com"},
		{" example.com ", "example.com"},
		{"[::1]:443", "[::1]:443"},
		{"", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeHostname(tc.in), "input %q", tc.in)
	}
}
