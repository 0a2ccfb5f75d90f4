/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package config loads hotserve settings from defaults, a hotserve.yaml file
// in the served root, HOTSERVE_* environment variables (optionally from a
// .env file) and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// FileName is the config file looked up in the served root, without
// extension.
const FileName = "hotserve"

// Config is the resolved dev server configuration.
type Config struct {
	Root       string        `mapstructure:"root"`
	Entry      string        `mapstructure:"entry"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Extensions []string      `mapstructure:"extensions"`
	Watch      []string      `mapstructure:"watch"`
	Ignore     []string      `mapstructure:"ignore"`
	Debounce   time.Duration `mapstructure:"debounce"`
	LogLevel   string        `mapstructure:"log-level"`
	ImportMap  bool          `mapstructure:"import-map"`
	// Conditions overrides the package.json export condition priority.
	Conditions []string `mapstructure:"conditions"`
}

// SetDefaults registers every key with its default so environment
// variables are seen for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("entry", "index.html")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 3000)
	v.SetDefault("extensions", []string{".js", ".mjs"})
	v.SetDefault("watch", []string{})
	v.SetDefault("ignore", []string{})
	v.SetDefault("debounce", 100*time.Millisecond)
	v.SetDefault("log-level", "info")
	v.SetDefault("import-map", true)
	v.SetDefault("conditions", []string{})
}

// Load resolves the configuration held by v. Flags should already be bound.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("HOTSERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root, err := filepath.Abs(v.GetString("root"))
	if err != nil {
		return nil, fmt.Errorf("%w: root: %w", ErrInvalid, err)
	}

	// Variables already in the environment win over .env.
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(root)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.Root = root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if info, err := os.Stat(c.Root); err != nil {
		invalid("root %s: %v", c.Root, err)
	} else if !info.IsDir() {
		invalid("root %s is not a directory", c.Root)
	}
	if c.Entry == "" || filepath.IsAbs(c.Entry) {
		invalid("entry %q must be a path relative to the root", c.Entry)
	}
	if c.Port < 0 || c.Port > 65535 {
		invalid("port %d out of range", c.Port)
	}
	if len(c.Extensions) == 0 {
		invalid("no extensions to serve")
	}
	for _, ext := range c.Extensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
			invalid("extension %q must start with a dot", ext)
		}
	}
	for _, pat := range append(append([]string{}, c.Watch...), c.Ignore...) {
		if !doublestar.ValidatePattern(pat) {
			invalid("glob %q is malformed", pat)
		}
	}
	if c.Debounce < 0 {
		invalid("debounce %s is negative", c.Debounce)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		invalid("log level %q", c.LogLevel)
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, info when unparsable.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EntryPath returns the absolute path of the HTML entry.
func (c *Config) EntryPath() string {
	return filepath.Join(c.Root, filepath.FromSlash(c.Entry))
}
