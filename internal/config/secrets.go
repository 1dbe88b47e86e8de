package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secretsFilePath lives under the data directory, not the config directory,
// so the config file can be shared without leaking the token.
func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// secretsFile stores secrets as {service: {account: value}} in a 0600 file.
type secretsFile struct {
	path string
}

func (f secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var all map[string]map[string]string
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return all, nil
}

func (f secretsFile) Get(service, account string) (string, error) {
	all, err := f.read()
	if err != nil {
		return "", fmt.Errorf("secrets not available: %w", err)
	}
	val, ok := all[service][account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, service)
	}
	return strings.TrimSpace(val), nil
}

func (f secretsFile) Set(service, account, value string) error {
	all, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if all == nil {
		all = make(map[string]map[string]string)
	}
	if all[service] == nil {
		all[service] = make(map[string]string)
	}
	all[service][account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}
