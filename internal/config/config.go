package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml"
)

type Config struct {
	Version        int
	Alias          string
	BrokerURL      string `comment:"Base url of the rendezvous broker"`
	Origin         string `comment:"Origin embedded in the QR invite url"`
	ListenAddr     string `comment:"Listen address when running the broker"`
	DownloadFolder string `comment:"Where the mobile role stores received reports"`
	ConnectTimeout int    `comment:"Seconds before a connect attempt gives up"`
	SessionTTL     int    `comment:"Minutes before an unclaimed registration expires"`
	MaxPayloadMB   int    `comment:"Upper bound for a single photo or report transfer"`
	LogLevel       string
}

func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("could not get user home directory", slog.Any("error", err))
		return nil, err
	}
	return &Config{
		Version:        0,
		Alias:          "crsend",
		BrokerURL:      "http://localhost:53370",
		Origin:         "http://localhost:53370",
		ListenAddr:     ":53370",
		DownloadFolder: filepath.Join(home, "Downloads", "crsend"),
		ConnectTimeout: 15,
		SessionTTL:     10,
		MaxPayloadMB:   32,
		LogLevel:       "info",
	}, nil
}

func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

func (c *Config) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Minute
}

func (c *Config) MaxPayloadBytes() int {
	return c.MaxPayloadMB << 20
}

// Load a config file from path.
// An empty path uses os.UserConfigDir() to search for a crsend configuration
// at $UserConfigDir/crsend/config.toml
func Load(path string) (*Config, error) {
	if path == "" {
		confdir, err := os.UserConfigDir()
		if err != nil {
			slog.Error("could not find default config path", slog.Any("error", err))
			return nil, err
		}
		path = filepath.Join(confdir, "crsend", "config.toml")
	}
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := Default()
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(file, config); err != nil {
		slog.Error("could not parse config file", slog.String("path", path), slog.Any("error", err))
		return nil, err
	}
	return config, nil
}

// Store a configuration to disk at path.
// An empty path uses os.UserConfigDir() to create a folder for crsend
// configurations.
func (c *Config) Store(path string) error {
	logga := slog.Default().With(slog.String("path", path))
	logga.Debug("storing config")
	bytes, err := toml.Marshal(c)
	if err != nil {
		logga.Error("failed to marshal config file", slog.Any("error", err))
		return err
	}
	if path == "" {
		confdir, err := os.UserConfigDir()
		if err != nil {
			slog.Error("could not find default config path", slog.Any("error", err))
			return err
		}
		path = filepath.Join(confdir, "crsend", "config.toml")
	}
	if filepath.Ext(path) != ".toml" {
		err = errors.New("config file path has incorrect file extension")
		logga.Error("incorrect config file extension", slog.Any("error", err))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		logga.Error("failed to create config file path", slog.Any("error", err))
		return err
	}
	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		logga.Error("failed to write config file to disk", slog.Any("error", err))
		return err
	}
	return nil
}

// Setup loads the config, generating a default one on first run, before the
// per-command flag handling overrides individual fields.
func Setup(configPath string) (*Config, error) {
	appConf, err := Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			appConf, err = Default()
			if err != nil {
				return nil, err
			}
			slog.Info("no config file found, generating a new one")
			appConf.Store(configPath)
		} else {
			return nil, err
		}
	}
	return appConf, nil
}
