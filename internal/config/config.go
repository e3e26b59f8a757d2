// Package config loads and persists the server configuration. Values come
// from a YAML file, with YOTEI_* environment variables taking precedence so
// secrets can stay out of the file on container deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajisai/yotei/internal/category"
)

type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Enabled reports whether both credentials are set. A half-filled block
// is treated as disabled rather than locking the owner out.
func (b *BasicAuthConfig) Enabled() bool {
	return b != nil && b.Username != "" && b.Password != ""
}

type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	// DailySummaryAt is the local wall-clock time ("07:00") the morning
	// agenda notification goes out.
	DailySummaryAt string `yaml:"daily_summary_at"`
}

type BackupConfig struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Passphrase      string `yaml:"passphrase"`
	RetentionDays   int    `yaml:"retention_days"`
	// DailyAt is the local wall-clock time ("03:00") the nightly backup runs.
	DailyAt string `yaml:"daily_at"`
}

type Config struct {
	Listen   string `yaml:"listen"`
	DBPath   string `yaml:"db_path"`
	Timezone string `yaml:"timezone"`
	// HorizonDays bounds how far task listing and exports look ahead when
	// the request does not give an explicit window.
	HorizonDays int                 `yaml:"horizon_days"`
	BasicAuth   *BasicAuthConfig    `yaml:"basic_auth,omitempty"`
	Categories  []category.Category `yaml:"categories,omitempty"`
	Push        PushConfig          `yaml:"push"`
	Backup      BackupConfig        `yaml:"backup"`
}

func Default() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		DBPath:      "yotei.db",
		Timezone:    "Asia/Tokyo",
		HorizonDays: 90,
		Push: PushConfig{
			DailySummaryAt: "07:00",
		},
		Backup: BackupConfig{
			Region:        "auto",
			RetentionDays: 30,
			DailyAt:       "03:00",
		},
	}
}

// Normalize fills zero values with defaults so a sparse config file works.
func (c *Config) Normalize() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.Push.DailySummaryAt == "" {
		c.Push.DailySummaryAt = def.Push.DailySummaryAt
	}
	if c.Backup.Region == "" {
		c.Backup.Region = def.Backup.Region
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = def.Backup.RetentionDays
	}
	if c.Backup.DailyAt == "" {
		c.Backup.DailyAt = def.Backup.DailyAt
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Catalog returns the configured categories, falling back to the built-in
// catalog when the config does not override them.
func (c *Config) Catalog() category.Catalog {
	if len(c.Categories) > 0 {
		return category.Catalog(c.Categories)
	}
	return category.Default()
}

// Load reads the config at path. A missing file is not an error: the
// defaults are written there so the owner has something to edit.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		applyEnv(cfg)
		cfg.Normalize()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions, since it
// may hold credentials.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// applyEnv overlays YOTEI_* environment variables on the config.
func applyEnv(c *Config) {
	envString("YOTEI_LISTEN", &c.Listen)
	envString("YOTEI_DB_PATH", &c.DBPath)
	envString("YOTEI_TIMEZONE", &c.Timezone)

	if os.Getenv("YOTEI_BASIC_AUTH_USERNAME") != "" || os.Getenv("YOTEI_BASIC_AUTH_PASSWORD") != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		envString("YOTEI_BASIC_AUTH_USERNAME", &c.BasicAuth.Username)
		envString("YOTEI_BASIC_AUTH_PASSWORD", &c.BasicAuth.Password)
	}

	envString("YOTEI_VAPID_PUBLIC_KEY", &c.Push.VAPIDPublicKey)
	envString("YOTEI_VAPID_PRIVATE_KEY", &c.Push.VAPIDPrivateKey)

	envString("YOTEI_S3_ENDPOINT", &c.Backup.Endpoint)
	envString("YOTEI_S3_REGION", &c.Backup.Region)
	envString("YOTEI_S3_BUCKET", &c.Backup.Bucket)
	envString("YOTEI_S3_ACCESS_KEY_ID", &c.Backup.AccessKeyID)
	envString("YOTEI_S3_SECRET_ACCESS_KEY", &c.Backup.SecretAccessKey)
	envString("YOTEI_BACKUP_PASSPHRASE", &c.Backup.Passphrase)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
