package pomelo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTableName is the table operations target when none is selected.
const DefaultTableName = "_table"

// Config defines database configuration.
type Config struct {
	// Path is the location of the database blob: a file path for the
	// default file backend, a blob key for the others. Required unless
	// Backend resolves its own location.
	Path string `yaml:"path"`

	// DefaultTable is the table operations target unless Table() selects
	// another one. Default: "_table".
	DefaultTable string `yaml:"default_table"`

	// DisableCreate makes Open fail with ErrNotFound when the backing
	// blob does not exist instead of initializing a fresh database.
	DisableCreate bool `yaml:"disable_create"`

	// Compression enables snappy compression of the stored blob.
	Compression bool `yaml:"compression"`

	// Encryption configures encryption at rest. If nil or not enabled,
	// the blob is stored in the clear.
	Encryption *EncryptionConfig `yaml:"encryption"`

	// Backend overrides blob storage directly. Takes precedence over the
	// SQLite and S3 sections.
	Backend Backend `yaml:"-"`

	// SQLite, if set, stores the blob in a SQLite file instead of a
	// plain file.
	SQLite *SQLiteBackendConfig `yaml:"sqlite"`

	// S3, if set, stores the blob in S3-compatible object storage.
	S3 *S3BackendConfig `yaml:"s3"`

	// Server configures the remote relay.
	Server ServerConfig `yaml:"server"`
}

// DefaultConfig returns a configuration with sensible defaults for the
// given blob path.
func DefaultConfig(path string) Config {
	cfg := Config{Path: path}
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	if c.DefaultTable == "" {
		c.DefaultTable = DefaultTableName
	}
	c.Server.normalize()
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}
