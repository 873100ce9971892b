// Package config loads the esiauth configuration file and supplies
// defaults. Configuration is always passed into constructors as an explicit
// value; nothing in the codebase reads it as ambient global state.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/esiauth"
	configFileName = "config.yaml"
	storeFileName  = "authstore.json"
)

// Config is the top-level configuration for esiauth.
type Config struct {
	// StorePath is where the auth store file lives. Defaults to
	// ~/.config/esiauth/authstore.json.
	StorePath string `yaml:"storePath,omitempty"`

	// CallbackTimeoutSeconds bounds the wait for the browser callback
	// during login. Defaults to 300.
	CallbackTimeoutSeconds int `yaml:"callbackTimeoutSeconds,omitempty"`

	// RefreshBufferMinutes is how many minutes before expiry a token is
	// refreshed on read. Defaults to 5.
	RefreshBufferMinutes int `yaml:"refreshBufferMinutes,omitempty"`

	// SSO overrides provider endpoints. Leave empty for EVE Online's
	// production SSO.
	SSO SSOConfig `yaml:"sso,omitempty"`

	// UserAgent identifies this installation to CCP on every request.
	UserAgent UserAgentConfig `yaml:"userAgent,omitempty"`
}

// SSOConfig overrides provider endpoints, mostly for tests and mock
// providers.
type SSOConfig struct {
	MetadataURL string `yaml:"metadataUrl,omitempty"`
	JWKSURI     string `yaml:"jwksUri,omitempty"`
	Audience    string `yaml:"audience,omitempty"`
}

// UserAgentConfig holds the pieces of the User-Agent header. CCP's
// third-party developer guidelines ask for an identifying UA with contact
// information.
type UserAgentConfig struct {
	AppName       string `yaml:"appName,omitempty"`
	AppVersion    string `yaml:"appVersion,omitempty"`
	ContactEmail  string `yaml:"contactEmail,omitempty"`
	CharacterName string `yaml:"characterName,omitempty"`
}

// Header renders the User-Agent string.
func (u UserAgentConfig) Header() string {
	appName := u.AppName
	if appName == "" {
		appName = "esiauth"
	}
	appVersion := u.AppVersion
	if appVersion == "" {
		appVersion = "dev"
	}

	header := fmt.Sprintf("%s/%s", appName, appVersion)
	if u.CharacterName != "" || u.ContactEmail != "" {
		header += fmt.Sprintf(" (eve:%s; %s)", u.CharacterName, u.ContactEmail)
	}
	return header
}

// DefaultConfigDir returns the esiauth configuration directory.
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Default returns the built-in defaults rooted at configDir.
func Default(configDir string) Config {
	return Config{
		StorePath:              filepath.Join(configDir, storeFileName),
		CallbackTimeoutSeconds: 300,
		RefreshBufferMinutes:   5,
	}
}

// Load reads config.yaml from configDir, layered over the defaults. A
// missing file is not an error: first runs work with defaults alone.
func Load(configDir string) (Config, error) {
	cfg := Default(configDir)

	configFilePath := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("No config file found, using defaults", "path", configFilePath)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config from %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("malformed config at %s: %w", configFilePath, err)
	}

	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(configDir, storeFileName)
	}

	slog.Debug("Loaded configuration", "path", configFilePath)
	return cfg, nil
}

// exampleConfig is written by `esiauth config init`.
const exampleConfig = `# esiauth configuration.
# All values are optional; the defaults target EVE Online's production SSO.

# Where the auth store (credentials + tokens) is kept.
#storePath: /home/you/.config/esiauth/authstore.json

# Seconds to wait for the browser callback during login.
callbackTimeoutSeconds: 300

# Minutes before expiry at which tokens are refreshed on read.
refreshBufferMinutes: 5

# CCP asks third-party applications to identify themselves.
userAgent:
  appName: my-eve-tool
  appVersion: 1.0.0
  contactEmail: you@example.com
  characterName: Your Main
`

// WriteExample writes an example config.yaml into configDir. Refuses to
// overwrite an existing file.
func WriteExample(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	configFilePath := filepath.Join(configDir, configFileName)
	if _, err := os.Stat(configFilePath); err == nil {
		return "", fmt.Errorf("config file already exists at %s", configFilePath)
	}

	if err := os.WriteFile(configFilePath, []byte(exampleConfig), 0600); err != nil {
		return "", fmt.Errorf("failed to write example config: %w", err)
	}

	return configFilePath, nil
}
