package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafproxy/internal/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileRequiresUpstream(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "upstream", cfgErr.Op)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
upstream:
  url: http://127.0.0.1:3000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPListen)
	assert.Equal(t, ":8443", cfg.Server.HTTPSListen)
	assert.Equal(t, ":9100", cfg.Server.MetricsListen)
	assert.Equal(t, 403, cfg.Server.BlockStatus)
	assert.True(t, cfg.TLS.MTLS)
	assert.Equal(t, 3*time.Second, cfg.Rules.ReloadInterval)
	assert.Equal(t, int64(64*1024), cfg.Rules.MaxBodyScanBytes)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  https_listen: ":9443"
  block_status: 451
upstream:
  url: https://backend.internal:8443
tls:
  certs_dir: /etc/wafproxy/certs
  mtls: false
rules:
  path: /etc/wafproxy/rules.yaml
  reload_interval: 10s
rate_limit:
  enabled: true
  rate: 25
  burst: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.Server.HTTPSListen)
	assert.Equal(t, 451, cfg.Server.BlockStatus)
	assert.Equal(t, "/etc/wafproxy/certs", cfg.TLS.CertsDir)
	assert.False(t, cfg.TLS.MTLS)
	assert.Equal(t, 10*time.Second, cfg.Rules.ReloadInterval)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 25.0, cfg.RateLimit.Rate)
	assert.Equal(t, 50, cfg.RateLimit.Burst)

	u, err := cfg.UpstreamURL()
	require.NoError(t, err)
	assert.Equal(t, "backend.internal:8443", u.Host)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      string
	}{
		{
			name: "invalid block status",
			content: `
server:
  block_status: 42
upstream:
  url: http://127.0.0.1:3000
`,
			op: "server",
		},
		{
			name: "invalid upstream scheme",
			content: `
upstream:
  url: ftp://backend.internal
`,
			op: "upstream",
		},
		{
			name: "non-positive reload interval",
			content: `
upstream:
  url: http://127.0.0.1:3000
rules:
  reload_interval: 0s
`,
			op: "rules",
		},
		{
			name: "rate limit enabled without rate",
			content: `
upstream:
  url: http://127.0.0.1:3000
rate_limit:
  enabled: true
  rate: 0
  burst: 10
`,
			op: "rate_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.content))

			require.Error(t, err)
			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.op, cfgErr.Op)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "server: [unclosed"))

	require.Error(t, err)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config read", cfgErr.Op)
}
