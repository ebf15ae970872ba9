package web

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rkjdid/util"
	"go.bug.st/serial.v1"
	"gopkg.in/yaml.v3"

	"github.com/solar3s/rfnode/gateway"
	"github.com/solar3s/rfnode/radio"
)

var DefaultConfig = Config{
	Gateway: gateway.DefaultConfig,
	Web:     DefaultServerConfig,
	Watcher: gateway.DefaultWatcherConfig,
	Serial:  *radio.DefaultSerialMode,
	Log:     DefaultLogConfig,
	Store:   DefaultStoreConfig,
}

// Config is the root configuration file.
type Config struct {
	Gateway gateway.Config
	Web     ServerConfig
	Watcher gateway.WatcherConfig
	Device  string // serial port of the bridge, searched when empty
	Serial  serial.Mode
	Log     LogConfig
	Store   StoreConfig
}

type LogConfig struct {
	File       string // relative paths are under the root directory
	Level      string // debug, info, warn or error
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var DefaultLogConfig = LogConfig{
	File:       "rfnode.log",
	Level:      "info",
	MaxSizeMB:  25,
	MaxBackups: 5,
	MaxAgeDays: 7,
}

type StoreConfig struct {
	Path string // SQLite file, history is not persisted when empty
	Keep int    // events kept on startup prune, 0 keeps all
}

var DefaultStoreConfig = StoreConfig{
	Path: "events.db",
	Keep: 10000,
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig reads a TOML file, or YAML when path ends in .yaml or .yml.
// Keys missing from the file keep their DefaultConfig value.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig
	if !isYAML(path) {
		if err := util.ReadTomlFile(&cfg, path); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path in the format LoadConfig expects there.
func SaveConfig(cfg *Config, path string) error {
	if !isYAML(path) {
		return util.WriteTomlFile(cfg, path)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
