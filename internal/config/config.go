// Package config loads partnum's configuration: a CUE file validated against
// an embedded schema, then environment overrides. Command-line flags are
// applied on top by the CLI.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"

	"github.com/roach88/partnum/internal/allocator"
	"github.com/roach88/partnum/internal/identity"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFile is read when no config file is named. It may be absent.
const DefaultFile = "partnum.cue"

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendJSONFile = "jsonfile"
)

// Environment variables that override the file.
const (
	EnvStore        = "PARTNUM_STORE"
	EnvBackend      = "PARTNUM_BACKEND"
	EnvStoreTimeout = "PARTNUM_STORE_TIMEOUT"
)

// Config is the resolved configuration.
type Config struct {
	Store     StoreConfig
	Normalize identity.Rules
	Allocator AllocatorConfig
}

// StoreConfig selects and bounds the mapping store.
type StoreConfig struct {
	Backend string
	Path    string
	Timeout time.Duration
}

// AllocatorConfig tunes base allocation.
type AllocatorConfig struct {
	MaxSaltedAttempts int
}

// fileConfig mirrors #Config for decoding.
type fileConfig struct {
	Store struct {
		Backend string `json:"backend"`
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"store"`
	Normalize struct {
		StripSeparators    bool `json:"stripSeparators"`
		StripVersionSuffix bool `json:"stripVersionSuffix"`
	} `json:"normalize"`
	Allocator struct {
		MaxSaltedAttempts int `json:"maxSaltedAttempts"`
	} `json:"allocator"`
}

// Default returns the configuration an empty file produces.
func Default() *Config {
	cfg, err := decode(nil, "")
	if err != nil {
		// Unreachable unless schema.cue is broken.
		panic(fmt.Sprintf("config: default configuration: %v", err))
	}
	return cfg
}

// Load reads the CUE file at path. An empty path reads DefaultFile if it
// exists and falls back to Default otherwise; a named file must exist.
func Load(path string) (*Config, error) {
	name := path
	if name == "" {
		name = DefaultFile
	}
	data, err := os.ReadFile(name)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(data, name)
}

func decode(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config"))
	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filename, err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	var fc fileConfig
	if err := v.Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	timeout, err := time.ParseDuration(fc.Store.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: store.timeout: %w", filename, err)
	}
	cfg := &Config{
		Store: StoreConfig{
			Backend: fc.Store.Backend,
			Path:    fc.Store.Path,
			Timeout: timeout,
		},
		Normalize: identity.Rules{
			StripSeparators:    fc.Normalize.StripSeparators,
			StripVersionSuffix: fc.Normalize.StripVersionSuffix,
		},
		Allocator: AllocatorConfig{MaxSaltedAttempts: fc.Allocator.MaxSaltedAttempts},
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv loads KEY=value pairs from file into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(file string) error {
	if file == "" {
		file = ".env"
	}
	err := godotenv.Load(file)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides the store settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvStore); ok && strings.TrimSpace(v) != "" {
		c.Store.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvBackend); ok && strings.TrimSpace(v) != "" {
		c.Store.Backend = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvStoreTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStoreTimeout, err)
		}
		c.Store.Timeout = d
	}
	return c.Validate()
}

// Validate checks values the schema cannot express, and those set
// outside it by env or flags.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendJSONFile:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store.Backend, BackendSQLite, BackendJSONFile)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.Store.Timeout)
	}
	if c.Allocator.MaxSaltedAttempts < 1 {
		return fmt.Errorf("allocator.maxSaltedAttempts must be at least 1, got %d", c.Allocator.MaxSaltedAttempts)
	}
	return nil
}

// StorePath returns the configured store path, or the backend's default.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == BackendJSONFile {
		return "partnum.json"
	}
	return "partnum.db"
}

// Normalizer builds the identity normalizer for the configured rules.
func (c *Config) Normalizer() *identity.Normalizer {
	return identity.New(c.Normalize)
}

// NewAllocator builds the allocator for the configured policy.
func (c *Config) NewAllocator() *allocator.Allocator {
	return allocator.New(allocator.WithMaxSaltedAttempts(c.Allocator.MaxSaltedAttempts))
}
