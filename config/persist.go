package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/errwatch/errwatch/errors"
)

// DefaultFilePermissions for written config files
const DefaultFilePermissions = 0644

// Save writes the configuration to the given path as TOML, creating a
// rotating backup (.back1) of any existing file first.
func Save(cfg *Config, path string) error {
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "backup existing config")
	}

	content, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Wrap(err, "create config directory")
		}
	}

	if err := os.WriteFile(path, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "write config")
	}

	return nil
}

// WriteDefault writes a config file populated with the built-in defaults.
// Fails if the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path)
	}

	v := GetViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return errors.Wrap(err, "unmarshal defaults")
	}

	return Save(&cfg, path)
}

// createBackup copies the current config aside before modifying it
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "read config for backup")
	}

	if err := os.WriteFile(configPath+".back1", content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "write backup")
	}

	return nil
}
