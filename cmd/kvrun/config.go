package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "KVRUN_CONFIG"

// Config represents the kvrun configuration file
// ($XDG_CONFIG_HOME/kvrun/config.yaml). Values only apply when the matching
// flag was not given on the command line.
type Config struct {
	Backend        string         `yaml:"backend"`
	Devices        string         `yaml:"devices"`
	Vocab          string         `yaml:"vocab"`
	ChunkDir       string         `yaml:"chunk_dir"`
	StopPolicy     string         `yaml:"stop_policy"`
	ExecuteTimeout *time.Duration `yaml:"execute_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

// config is loaded once before any command runs.
var config Config

func configPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kvrun", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config; a
// malformed one is an error.
func LoadConfig() (Config, error) {
	return loadConfigFile(configPath())
}

func loadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the shared model flags.
func applyModelConfig(c *cli.Command, cfg Config, o *modelOptions) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		o.backend = cfg.Backend
	}
	if cfg.Devices != "" && !c.IsSet("devices") {
		o.devices = cfg.Devices
	}
	if cfg.Vocab != "" && !c.IsSet("vocab") {
		o.vocab = cfg.Vocab
	}
	if cfg.ExecuteTimeout != nil && !c.IsSet("execute-timeout") {
		o.executeTimeout = *cfg.ExecuteTimeout
	}
}

func applyRunConfig(c *cli.Command, cfg Config, chunkDir, stopPolicy *string) {
	if cfg.ChunkDir != "" && !c.IsSet("chunk-dir") {
		*chunkDir = cfg.ChunkDir
	}
	if cfg.StopPolicy != "" && !c.IsSet("stop-policy") {
		*stopPolicy = cfg.StopPolicy
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr, stopPolicy *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.StopPolicy != "" && !c.IsSet("stop-policy") {
		*stopPolicy = cfg.StopPolicy
	}
}
