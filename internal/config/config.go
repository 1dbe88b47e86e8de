// Package config loads twin settings from defaults, a JSON config file and
// TWIN_* environment variables, in increasing order of precedence.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Engine      EngineConfig
	Profile     ProfileConfig
	Maintenance MaintenanceConfig
	API         APIConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type EngineConfig struct {
	StyleBlend float64
}

type ProfileConfig struct {
	CacheTTL time.Duration
}

type MaintenanceConfig struct {
	DecayInterval time.Duration
	Concurrency   int
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			StyleBlend: 0.25,
		},
		Profile: ProfileConfig{
			CacheTTL: 60 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			DecayInterval: time.Hour,
			Concurrency:   4,
		},
	}
}

const (
	secretService = "twin"
	tokenAccount  = "api_token"
)

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/twin/config.json and applies TWIN_* environment
// overrides.
//
// The API token comes from TWIN_API_TOKEN, or else from the secrets file
// under the data directory. When neither holds one a token is generated and
// written to the secrets file.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts secret persistence for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		if tok, err := secrets.Get(secretService, tokenAccount); err == nil && tok != "" {
			cfg.API.Token = tok
		}
	}

	if cfg.API.Token == "" {
		tok, err := generateToken()
		if err != nil {
			return Config{}, fmt.Errorf("generating API token: %w", err)
		}
		if err := secrets.Set(secretService, tokenAccount, tok); err != nil {
			return Config{}, fmt.Errorf("missing required config: API token. "+
				"Set it via environment variable TWIN_API_TOKEN (storing a generated token failed: %w)", err)
		}
		fmt.Fprintf(os.Stderr, "[INFO] generated a new API token in %s\n", secretsFilePath())
		cfg.API.Token = tok
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
