// Package config handles TOML-based configuration loading and validation.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Tunnel providers.
const (
	TunnelNone  = "none"
	TunnelNgrok = "ngrok"
)

// Duration wraps time.Duration so it can be written as "10m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all application configuration.
type Config struct {
	Listen          string   `toml:"listen"`
	DownloadDir     string   `toml:"download_dir"`
	PublicURL       string   `toml:"public_url"`
	Tunnel          string   `toml:"tunnel"`
	NgrokAuthtoken  string   `toml:"ngrok_authtoken"`
	DownloadTimeout Duration `toml:"download_timeout"`
	RateLimit       int      `toml:"rate_limit"` // POST /download requests per minute, 0 disables
	RateBurst       int      `toml:"rate_burst"`
	StrictFormat    bool     `toml:"strict_format"`
	TranscodeAudio  bool     `toml:"transcode_audio"`
	AllowPrivate    bool     `toml:"allow_private_networks"` // let extractors reach loopback and LAN hosts
	Debug           bool     `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:          ":5000",
		DownloadDir:     "downloads",
		PublicURL:       "",
		Tunnel:          TunnelNone,
		DownloadTimeout: Duration{10 * time.Minute},
		RateLimit:       30,
		RateBurst:       5,
		StrictFormat:    false,
		TranscodeAudio:  false,
		AllowPrivate:    false,
		Debug:           false,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "clipdrop"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "clipdrop"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at the default path and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path and merges with defaults.
// A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if strings.TrimSpace(c.DownloadDir) == "" {
		return fmt.Errorf("download_dir cannot be empty")
	}

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public_url must be an absolute http(s) URL, got %q", c.PublicURL)
		}
	}

	validTunnels := map[string]bool{
		TunnelNone: true, TunnelNgrok: true,
	}
	if !validTunnels[strings.ToLower(c.Tunnel)] {
		return fmt.Errorf("unsupported tunnel %q (valid: none, ngrok)", c.Tunnel)
	}

	if c.DownloadTimeout.Duration < 0 {
		return fmt.Errorf("download_timeout cannot be negative")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate_limit is set")
	}

	return nil
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	dir := c.DownloadDir
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}

// LocalURL is the base URL of the listener as seen from this machine.
func (c *Config) LocalURL() string {
	host, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return "http://localhost" + c.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
