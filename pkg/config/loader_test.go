package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
app:
  machine_id: KIOSK-01
api:
  use_mock: true
store:
  backend: memory
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalYAML)

	cfg, v, err := LoadFile(path, "development")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "KIOSK-01", cfg.App.MachineID)
	assert.Equal(t, []int{200, 300, 400, 500}, cfg.App.Volumes)
	assert.Equal(t, 150000, cfg.UI.DispensingTimeoutMS)
	assert.Equal(t, 300*time.Millisecond, cfg.UI.PollingInterval())
	assert.Equal(t, 3, cfg.UI.PollMaxFailures)
	assert.Equal(t, 90*time.Second, cfg.Security.TokenValidity())
	assert.Equal(t, 150*time.Second, cfg.API.AuthorizeTimeout)
	assert.Equal(t, RateLimitRule{Limit: 10, Window: time.Second}, cfg.Diagnostics.ActionLimit)
	assert.Equal(t, "bierpass_", cfg.Store.Prefix)

	secret, err := cfg.SigningSecret()
	require.NoError(t, err)
	assert.Equal(t, DefaultHMACSecret, secret)
}

func TestLoadFile_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  string
		want string
	}{
		{
			name: "machine id required",
			body: "api:\n  use_mock: true\nstore:\n  backend: memory\n",
			env:  "development",
			want: "MachineID",
		},
		{
			name: "endpoints required without mock",
			body: "app:\n  machine_id: K\nstore:\n  backend: memory\n",
			env:  "development",
			want: "api.saas_url and api.edge_url",
		},
		{
			name: "default secret rejected in production",
			body: minimalYAML,
			env:  "production",
			want: "security.hmac_secret is required in production",
		},
		{
			name: "unknown store backend",
			body: "app:\n  machine_id: K\napi:\n  use_mock: true\nstore:\n  backend: sqlite\n",
			env:  "development",
			want: "Backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, _, err := LoadFile(path, tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReloader(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, minimalYAML)

	_, v, err := LoadFile(path, "development")
	require.NoError(t, err)

	var applied *Config
	var rejected error
	reload := Reloader(v, "development", func(c *Config) { applied = c }, func(err error) { rejected = err })

	writeConfig(t, dir, minimalYAML+"ui:\n  polling_ms: 500\nlogger:\n  level: debug\n")
	require.NoError(t, v.ReadInConfig())
	reload(fsnotify.Event{Name: path, Op: fsnotify.Write})

	require.NotNil(t, applied)
	assert.NoError(t, rejected)
	assert.Equal(t, 500*time.Millisecond, applied.UI.PollingInterval())
	assert.Equal(t, "debug", applied.Logger.Level)

	applied = nil
	writeConfig(t, dir, minimalYAML+"ui:\n  polling_ms: 0\n")
	require.NoError(t, v.ReadInConfig())
	reload(fsnotify.Event{Name: path, Op: fsnotify.Write})

	assert.Nil(t, applied)
	assert.Error(t, rejected)
}
