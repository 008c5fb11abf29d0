package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	HTTPAddr           string   `toml:"http_addr"`
	FeedAddr           string   `toml:"feed_addr"`
	CORSOrigins        []string `toml:"cors_origins"`
	CacheMaxAgeSeconds int      `toml:"cache_max_age_seconds"`
}

type DatabaseConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	JournalMode   string `toml:"journal_mode"`
}

// BusyTimeout is BusyTimeoutMS as a duration.
func (d DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMS) * time.Millisecond
}

type StorageConfig struct {
	Root               string `toml:"root"`
	LegacyImagesDir    string `toml:"legacy_images_dir"`
	StagingDir         string `toml:"staging_dir"`
	ManifestName       string `toml:"manifest_name"`
	CoverSubdir        string `toml:"cover_subdir"`
	MaxUploadMB        int64  `toml:"max_upload_mb"`
	MaxEntries         int    `toml:"max_entries"`
	MaxExtractedMB     int64  `toml:"max_extracted_mb"`
	StagingMaxAgeHours int    `toml:"staging_max_age_hours"`
}

type AuthConfig struct {
	JWTSecret   string        `toml:"jwt_secret"`
	JWTIssuer   string        `toml:"jwt_issuer"`
	JWTTTLHours int           `toml:"jwt_ttl_hours"`
	JWTDuration time.Duration `toml:"-"`
}

type LogConfig struct {
	Mode string `toml:"mode"`
}

// Config is the full service configuration. Values come from Default(), then
// the optional TOML file named by LEARNHUB_CONFIG, then LEARNHUB_* env vars.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Storage  StorageConfig  `toml:"storage"`
	Auth     AuthConfig     `toml:"auth"`
	Log      LogConfig      `toml:"log"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:           ":8080",
			FeedAddr:           ":7070",
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:5173"},
			CacheMaxAgeSeconds: 3600,
		},
		Database: DatabaseConfig{
			Path:          "~/.learnhub/data.db",
			BusyTimeoutMS: 5000,
			JournalMode:   "wal",
		},
		Storage: StorageConfig{
			Root:               "~/.learnhub/packages",
			LegacyImagesDir:    "~/.learnhub/images",
			StagingDir:         "~/.learnhub/staging",
			ManifestName:       "h5p.json",
			CoverSubdir:        "content/images",
			MaxUploadMB:        256,
			MaxEntries:         5000,
			MaxExtractedMB:     1024,
			StagingMaxAgeHours: 24,
		},
		Auth: AuthConfig{
			// dev default (change for demo / production)
			JWTSecret:   "dev-secret-change-me",
			JWTIssuer:   "learnhub",
			JWTTTLHours: 24,
		},
		Log: LogConfig{Mode: "dev"},
	}
}

// Load builds the config and normalizes paths. A missing LEARNHUB_CONFIG file
// is an error; an unset variable is not.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("LEARNHUB_CONFIG"))
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if p := strings.TrimSpace(path); p != "" {
		if err := loadFile(p, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	path, err := expandPath(path)
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.HTTPAddr, "LEARNHUB_HTTP_ADDR")
	setString(&cfg.Server.FeedAddr, "LEARNHUB_FEED_ADDR")
	if v := strings.TrimSpace(os.Getenv("LEARNHUB_CORS_ORIGINS")); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	setInt(&cfg.Server.CacheMaxAgeSeconds, "LEARNHUB_CACHE_MAX_AGE_SECONDS")

	// Docker Compose / env override
	setString(&cfg.Database.Path, "LEARNHUB_DB_PATH")
	setInt(&cfg.Database.BusyTimeoutMS, "LEARNHUB_DB_BUSY_TIMEOUT_MS")
	setString(&cfg.Database.JournalMode, "LEARNHUB_DB_JOURNAL_MODE")

	setString(&cfg.Storage.Root, "LEARNHUB_STORAGE_ROOT")
	setString(&cfg.Storage.LegacyImagesDir, "LEARNHUB_LEGACY_IMAGES_DIR")
	setString(&cfg.Storage.StagingDir, "LEARNHUB_STAGING_DIR")
	setInt64(&cfg.Storage.MaxUploadMB, "LEARNHUB_MAX_UPLOAD_MB")
	setInt(&cfg.Storage.MaxEntries, "LEARNHUB_MAX_ENTRIES")
	setInt64(&cfg.Storage.MaxExtractedMB, "LEARNHUB_MAX_EXTRACTED_MB")
	setInt(&cfg.Storage.StagingMaxAgeHours, "LEARNHUB_STAGING_MAX_AGE_HOURS")

	setString(&cfg.Auth.JWTSecret, "LEARNHUB_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "LEARNHUB_JWT_ISSUER")
	setInt(&cfg.Auth.JWTTTLHours, "LEARNHUB_JWT_TTL_HOURS")

	setString(&cfg.Log.Mode, "LEARNHUB_LOG_MODE")
}

func (c *Config) normalize() error {
	var err error
	for _, p := range []*string{
		&c.Database.Path,
		&c.Storage.Root,
		&c.Storage.LegacyImagesDir,
		&c.Storage.StagingDir,
	} {
		if *p, err = expandPath(*p); err != nil {
			return err
		}
	}
	c.Storage.CoverSubdir = strings.Trim(filepath.ToSlash(strings.TrimSpace(c.Storage.CoverSubdir)), "/")
	c.Storage.ManifestName = strings.TrimSpace(c.Storage.ManifestName)

	// simple parse: hours
	// if unset or invalid, fallback to 24h
	if c.Auth.JWTTTLHours <= 0 {
		c.Auth.JWTTTLHours = 24
	}
	c.Auth.JWTDuration = time.Duration(c.Auth.JWTTTLHours) * time.Hour
	return nil
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	var errs []error
	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	if c.Storage.StagingDir == "" {
		errs = append(errs, errors.New("storage.staging_dir is required"))
	}
	if c.Storage.ManifestName == "" || strings.ContainsAny(c.Storage.ManifestName, `/\`) {
		errs = append(errs, fmt.Errorf("storage.manifest_name %q must be a plain file name", c.Storage.ManifestName))
	}
	if c.Storage.CoverSubdir == "" || strings.Contains(c.Storage.CoverSubdir, "..") {
		errs = append(errs, fmt.Errorf("storage.cover_subdir %q is invalid", c.Storage.CoverSubdir))
	}
	if c.Storage.MaxEntries <= 0 {
		errs = append(errs, errors.New("storage.max_entries must be positive"))
	}
	if c.Storage.MaxExtractedMB <= 0 || c.Storage.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("storage size limits must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	return errors.Join(errs...)
}

func (s StorageConfig) MaxUploadBytes() int64    { return s.MaxUploadMB << 20 }
func (s StorageConfig) MaxExtractedBytes() int64 { return s.MaxExtractedMB << 20 }
func (s StorageConfig) StagingMaxAge() time.Duration {
	return time.Duration(s.StagingMaxAgeHours) * time.Hour
}

func expandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = "."
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Clean(p), nil
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
