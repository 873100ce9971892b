package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "authstore.json"), cfg.StorePath)
	assert.Equal(t, 300, cfg.CallbackTimeoutSeconds)
	assert.Equal(t, 5, cfg.RefreshBufferMinutes)
	assert.Empty(t, cfg.SSO.MetadataURL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
storePath: /var/lib/esiauth/store.json
callbackTimeoutSeconds: 60
sso:
  metadataUrl: https://sso.example.com/.well-known/oauth-authorization-server
userAgent:
  appName: my-tool
  appVersion: 2.1.0
  contactEmail: dev@example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/esiauth/store.json", cfg.StorePath)
	assert.Equal(t, 60, cfg.CallbackTimeoutSeconds)
	assert.Equal(t, "https://sso.example.com/.well-known/oauth-authorization-server", cfg.SSO.MetadataURL)
	assert.Equal(t, "my-tool", cfg.UserAgent.AppName)

	// Unset values keep their defaults.
	assert.Equal(t, 5, cfg.RefreshBufferMinutes)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml:::"), 0600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed config")
}

func TestLoad_EmptyStorePathFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("refreshBufferMinutes: 10\n"), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "authstore.json"), cfg.StorePath)
	assert.Equal(t, 10, cfg.RefreshBufferMinutes)
}

func TestUserAgentHeader(t *testing.T) {
	tests := []struct {
		name string
		ua   UserAgentConfig
		want string
	}{
		{"empty", UserAgentConfig{}, "esiauth/dev"},
		{"app only", UserAgentConfig{AppName: "my-tool", AppVersion: "1.2.3"}, "my-tool/1.2.3"},
		{
			"full contact",
			UserAgentConfig{AppName: "my-tool", AppVersion: "1.2.3", ContactEmail: "dev@example.com", CharacterName: "Main Pilot"},
			"my-tool/1.2.3 (eve:Main Pilot; dev@example.com)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ua.Header())
		})
	}
}

func TestWriteExample(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteExample(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)

	// The example must load cleanly.
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.CallbackTimeoutSeconds)
	assert.Equal(t, "my-eve-tool", cfg.UserAgent.AppName)

	// A second init refuses to clobber it.
	_, err = WriteExample(dir)
	assert.Error(t, err)
}
