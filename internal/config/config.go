// Package config loads the scenesync server configuration from YAML or JSON.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/scenesync/pkg/notify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the whole server configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	History HistoryConfig `mapstructure:"history"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	MCP     MCPConfig     `mapstructure:"mcp"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type NotifyConfig struct {
	ScheduleMode string `mapstructure:"schedule_mode"`
	ScheduleMs   int    `mapstructure:"schedule_ms"`
}

type HistoryConfig struct {
	// Limit bounds the undo window; 0 is unbounded.
	Limit int `mapstructure:"limit"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	// EncryptionKey is a base64 AES-256 key. When set, snapshots are stored sealed.
	EncryptionKey string `mapstructure:"encryption_key"`
	// FallbackKeys are older base64 keys still accepted for reading.
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

type RedisConfig struct {
	Addr    string        `mapstructure:"addr"`
	Channel string        `mapstructure:"channel"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type MCPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info"},
		Notify: NotifyConfig{ScheduleMode: string(notify.ModeDebounce), ScheduleMs: 10},
		Store:  StoreConfig{Driver: StoreMemory, Path: filepath.Join(".scenesync", "docs")},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "scenesync:patches",
			Prefix:  "scenesync:doc:",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		MCP:  MCPConfig{Addr: ":8081"},
	}
}

// Load reads path over the defaults. The format follows the extension
// (.json, otherwise YAML). A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	raw := map[string]any{}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", filepath.Base(path), err)
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	switch notify.ScheduleMode(c.Notify.ScheduleMode) {
	case notify.ModeDebounce, notify.ModeInterval, notify.ModeImmediate:
	default:
		return fmt.Errorf("notify.schedule_mode: unknown mode %q", c.Notify.ScheduleMode)
	}
	if c.Notify.ScheduleMs < 0 {
		return fmt.Errorf("notify.schedule_ms: must not be negative")
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("history.limit: must not be negative")
	}
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if _, _, err := c.Keys(); err != nil {
		return err
	}
	return nil
}

// Keys decodes the snapshot encryption keys. active is nil when encryption is off.
func (c Config) Keys() (active []byte, fallback [][]byte, err error) {
	if c.Store.EncryptionKey == "" {
		if len(c.Store.FallbackKeys) > 0 {
			return nil, nil, fmt.Errorf("store.fallback_keys: set without store.encryption_key")
		}
		return nil, nil, nil
	}
	decode := func(field, s string) ([]byte, error) {
		k, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if len(k) != 32 {
			return nil, fmt.Errorf("%s: key must decode to 32 bytes, got %d", field, len(k))
		}
		return k, nil
	}
	if active, err = decode("store.encryption_key", c.Store.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for _, s := range c.Store.FallbackKeys {
		k, err := decode("store.fallback_keys", s)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

// NotifyConfig builds the notification service configuration, without transports.
func (c Config) NotifyConfig() notify.Config {
	return notify.Config{
		ScheduleMode: notify.ScheduleMode(c.Notify.ScheduleMode),
		ScheduleMs:   c.Notify.ScheduleMs,
	}
}
