package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobfs"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig          = "BLOBFS_CONFIG"
	EnvAccessKeySecret = "BLOBFS_ACCESS_KEY_SECRET"
)

// Backend types.
const (
	BackendOSS    = "oss"
	BackendDir    = "dir"
	BackendMemory = "memory"
)

var (
	ErrNoConfig    = errors.New("no config file: pass --config or set " + EnvConfig)
	ErrInvalid     = errors.New("invalid configuration")
	ErrBackendType = errors.New("unknown backend type")
)

// Config is the blobfs configuration file.
type Config struct {
	// Container is the bucket holding the blobs.
	Container string `yaml:"container"`

	// RootURL is the account URL the container name is appended to when
	// building storage addresses and public URLs.
	RootURL string `yaml:"root_url"`

	// PublicRead requests anonymous read access when the container is
	// created. Existing containers keep their access level.
	PublicRead bool `yaml:"public_read"`

	Backend BackendConfig `yaml:"backend"`

	// MimeTypes overrides the Content-Type per extension, either as a
	// mapping or in the "ext|type;ext|type" form.
	MimeTypes Table `yaml:"mime_types"`

	// CacheControl sets the Cache-Control per extension, "*" for all,
	// either as a mapping or in the "ext|directive;..." form.
	CacheControl Table `yaml:"cache_control"`

	Cache     CacheConfig     `yaml:"cache"`
	Migration MigrationConfig `yaml:"migration"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig selects and configures the blob store.
type BackendConfig struct {
	// Type is one of oss, dir or memory.
	// Default: oss
	Type string `yaml:"type"`

	// Endpoint, AccessKeyID and AccessKeySecret configure the oss backend.
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`

	// Path is the root directory of the dir backend.
	Path string `yaml:"path"`
}

// CacheConfig bounds the blob reference cache.
type CacheConfig struct {
	// MaxAge is how long a resolved reference is trusted. Zero keeps
	// references for the lifetime of the process.
	MaxAge time.Duration `yaml:"max_age"`
}

// MigrationConfig controls the folder renumbering run at startup.
type MigrationConfig struct {
	// Disabled skips the migration.
	Disabled bool `yaml:"disabled"`

	// PollInitialInterval and PollMaxInterval bound the copy status polling.
	// Default: 50ms and 2s
	PollInitialInterval time.Duration `yaml:"poll_initial_interval"`
	PollMaxInterval     time.Duration `yaml:"poll_max_interval"`

	// CopyTimeout gives up on a server-side copy still pending.
	// Default: 5m
	CopyTimeout time.Duration `yaml:"copy_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// File receives JSON logs in addition to stderr when set. It is
	// rotated at MaxSizeMB.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`

	// Development switches to zap's development settings.
	Development bool `yaml:"development"`
}

// Table maps file extensions to header values.
type Table map[string]string

// UnmarshalYAML accepts a mapping or a "key|value;key|value" string.
func (t *Table) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = blobfs.ParseTable(node.Value)
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return err
	}
	*t = m
	return nil
}

// Default returns the configuration used for fields the file leaves unset.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{Type: BackendOSS},
		Migration: MigrationConfig{
			PollInitialInterval: 50 * time.Millisecond,
			PollMaxInterval:     2 * time.Second,
			CopyTimeout:         5 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads the file named by path, or by BLOBFS_CONFIG when path is
// empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return nil, ErrNoConfig
	}
	return LoadFile(path)
}

// LoadFile reads, completes and validates a configuration file.
// BLOBFS_ACCESS_KEY_SECRET replaces the access key secret when set so the
// secret can stay out of the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if secret := os.Getenv(EnvAccessKeySecret); secret != "" {
		cfg.Backend.AccessKeySecret = secret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Container == "" {
		return fmt.Errorf("%w: container is required", ErrInvalid)
	}
	if c.RootURL == "" {
		return fmt.Errorf("%w: root_url is required", ErrInvalid)
	}
	switch c.Backend.Type {
	case BackendOSS:
		if c.Backend.Endpoint == "" {
			return fmt.Errorf("%w: backend.endpoint is required for oss", ErrInvalid)
		}
		if c.Backend.AccessKeyID == "" || c.Backend.AccessKeySecret == "" {
			return fmt.Errorf("%w: oss credentials are required", ErrInvalid)
		}
	case BackendDir:
		if c.Backend.Path == "" {
			return fmt.Errorf("%w: backend.path is required for dir", ErrInvalid)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrBackendType, c.Backend.Type)
	}
	for ext, v := range c.CacheControl {
		if _, err := blobfs.ValidCacheControl(v); err != nil {
			return fmt.Errorf("%w: cache_control[%s]: %w", ErrInvalid, ext, err)
		}
	}
	if c.Cache.MaxAge < 0 {
		return fmt.Errorf("%w: cache.max_age is negative", ErrInvalid)
	}
	if c.Migration.PollMaxInterval < c.Migration.PollInitialInterval {
		return fmt.Errorf("%w: migration.poll_max_interval is below poll_initial_interval", ErrInvalid)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// FileSystem returns the blobfs settings of c.
func (c *Config) FileSystem() blobfs.Config {
	return blobfs.Config{
		RootURL:      c.RootURL,
		Container:    c.Container,
		PublicRead:   c.PublicRead,
		MimeTypes:    c.MimeTypes,
		CacheControl: c.CacheControl,
		CacheMaxAge:  c.Cache.MaxAge,
		Migration: blobfs.MigrationConfig{
			Disabled:            c.Migration.Disabled,
			PollInitialInterval: c.Migration.PollInitialInterval,
			PollMaxInterval:     c.Migration.PollMaxInterval,
			CopyTimeout:         c.Migration.CopyTimeout,
		},
	}
}
