package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/tbourn/go-chat-stream/internal/client"
)

// cliConfig is the ~/.chatctl.toml file. Flags override every field.
type cliConfig struct {
	Server string `toml:"server"`
	Token  string `toml:"token"`
	User   string `toml:"user"`
	Model  string `toml:"model"`
}

// defaultConfigPath returns ~/.chatctl.toml, or "" when home is unknown.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatctl.toml")
}

// loadConfig reads path. A missing file yields the defaults.
func loadConfig(path string) (cliConfig, error) {
	cfg := cliConfig{Server: client.DefaultServer}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cliConfig{Server: client.DefaultServer}, nil
		}
		return cliConfig{}, fmt.Errorf("read %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = client.DefaultServer
	}
	return cfg, nil
}

// saveConfig writes cfg to path, readable by the owner only.
func saveConfig(path string, cfg cliConfig) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
