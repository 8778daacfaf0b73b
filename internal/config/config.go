// Package config loads the gemget configuration file.
//
// The file is TOML; every key is optional and overrides the default:
//
//	known_hosts = "~/.config/gemget/known_hosts.toml"
//	trust = "prompt"
//	max_redirects = 5
//	concurrency = 4
//	rate = 2.0
//	log_level = "info"
//
//	[timeouts]
//	connect = "10s"
//	handshake = "10s"
//	read = "30s"
//
//	[[identities]]
//	host = "example.org"
//	path = "/app"
//	cert = "~/.config/gemget/app.crt"
//	key = "~/.config/gemget/app.key"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Trust policies for certificates that are unknown or changed.
const (
	TrustPrompt = "prompt"
	TrustAccept = "accept"
	TrustDeny   = "deny"
)

var ErrInvalid = errors.New("invalid config")

type Timeouts struct {
	Connect   time.Duration
	Handshake time.Duration
	Read      time.Duration
}

// Identity is a client certificate presented for Host below Path.
type Identity struct {
	Host string `toml:"host" json:"host" yaml:"host"`
	Path string `toml:"path" json:"path" yaml:"path"`
	Cert string `toml:"cert" json:"cert" yaml:"cert"`
	Key  string `toml:"key" json:"key" yaml:"key"`
}

type Config struct {
	KnownHosts   string
	Trust        string
	Timeouts     Timeouts
	MaxRedirects int
	Concurrency  int
	// Rate limits requests per second across a batch; zero means no limit.
	Rate       float64
	LogLevel   string
	Identities []Identity
}

type fileTimeouts struct {
	Connect   string `toml:"connect"`
	Handshake string `toml:"handshake"`
	Read      string `toml:"read"`
}

type fileConfig struct {
	KnownHosts   string       `toml:"known_hosts"`
	Trust        string       `toml:"trust"`
	Timeouts     fileTimeouts `toml:"timeouts"`
	MaxRedirects int          `toml:"max_redirects"`
	Concurrency  int          `toml:"concurrency"`
	Rate         float64      `toml:"rate"`
	LogLevel     string       `toml:"log_level"`
	Identities   []Identity   `toml:"identities"`
}

// Dir is the directory holding the config file and the known hosts.
func Dir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".gemget")
	}
	return filepath.Join(dir, "gemget")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.toml")
}

func Default() Config {
	return Config{
		KnownHosts: filepath.Join(Dir(), "known_hosts.toml"),
		Trust:      TrustPrompt,
		Timeouts: Timeouts{
			Connect:   10 * time.Second,
			Handshake: 10 * time.Second,
			Read:      30 * time.Second,
		},
		MaxRedirects: 5,
		Concurrency:  4,
		LogLevel:     "info",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(ExpandHome(path), &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("known_hosts") {
		cfg.KnownHosts = strings.TrimSpace(raw.KnownHosts)
	}
	if meta.IsDefined("trust") {
		cfg.Trust = strings.ToLower(strings.TrimSpace(raw.Trust))
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect", raw.Timeouts.Connect, &cfg.Timeouts.Connect},
		{"handshake", raw.Timeouts.Handshake, &cfg.Timeouts.Handshake},
		{"read", raw.Timeouts.Read, &cfg.Timeouts.Read},
	} {
		if !meta.IsDefined("timeouts", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeouts.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_redirects") {
		cfg.MaxRedirects = raw.MaxRedirects
	}
	if meta.IsDefined("concurrency") {
		cfg.Concurrency = raw.Concurrency
	}
	if meta.IsDefined("rate") {
		cfg.Rate = raw.Rate
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	for _, id := range raw.Identities {
		cfg.Identities = append(cfg.Identities, Identity{
			Host: strings.TrimSpace(id.Host),
			Path: strings.TrimSpace(id.Path),
			Cert: ExpandHome(strings.TrimSpace(id.Cert)),
			Key:  ExpandHome(strings.TrimSpace(id.Key)),
		})
	}
	cfg.KnownHosts = ExpandHome(cfg.KnownHosts)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch c.Trust {
	case TrustPrompt, TrustAccept, TrustDeny:
	default:
		return fmt.Errorf("%w: trust must be prompt, accept or deny, got %q", ErrInvalid, c.Trust)
	}
	if c.KnownHosts == "" {
		return fmt.Errorf("%w: known_hosts is empty", ErrInvalid)
	}
	if c.Timeouts.Connect < 0 || c.Timeouts.Handshake < 0 || c.Timeouts.Read < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalid)
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("%w: max_redirects must not be negative", ErrInvalid)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalid)
	}
	if c.Rate < 0 {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalid)
	}
	for i, id := range c.Identities {
		if id.Host == "" || id.Cert == "" || id.Key == "" {
			return fmt.Errorf("%w: identity %d needs host, cert and key", ErrInvalid, i)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
