// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for periscope.
//
// Configuration is loaded from a single YAML file specified by:
//   - PERISCOPE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. The config file is
// the single source of truth; environment variables do not override
// config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for periscope.
type Config struct {
	// SSH configures how the tunnel process is spawned.
	SSH SSHConfig `yaml:"ssh"`

	// Display configures the remote display service the tunnel
	// forwards to.
	Display DisplayConfig `yaml:"display"`

	// Ports configures local forward-port leasing.
	Ports PortsConfig `yaml:"ports"`
}

// SSHConfig configures the tunnel process.
type SSHConfig struct {
	// Binary is the ssh executable to spawn. Default: "ssh" (resolved
	// through PATH). Tests point this at a stub script.
	Binary string `yaml:"binary"`

	// User is the login user on the device. Default: "root".
	User string `yaml:"user"`

	// KeyPath is the path to the bundled private key used to
	// authenticate to the device. The key is validated locally before
	// the tunnel process is spawned, so a bad key fails fast with a
	// parse error instead of an opaque ssh exit.
	KeyPath string `yaml:"key_path"`

	// ControlPort is the device's ssh port. Default: 22.
	ControlPort int `yaml:"control_port"`
}

// DisplayConfig configures the remote display service.
type DisplayConfig struct {
	// Port is the fixed TCP port of the display server on the device.
	// Default: 5900.
	Port int `yaml:"port"`
}

// PortsConfig configures local forward-port leasing.
type PortsConfig struct {
	// Base is the first local port the allocator hands out. Forward
	// ports advance monotonically from here and are never reused
	// within a process lifetime. Default: 49300.
	Base int `yaml:"base"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file, so a partial file only
// needs to name the fields it changes.
func Default() *Config {
	return &Config{
		SSH: SSHConfig{
			Binary:      "ssh",
			User:        "root",
			KeyPath:     "${HOME}/.periscope/id_ed25519",
			ControlPort: 22,
		},
		Display: DisplayConfig{
			Port: 5900,
		},
		Ports: PortsConfig{
			Base: 49300,
		},
	}
}

// Load loads configuration from the PERISCOPE_CONFIG environment
// variable. If PERISCOPE_CONFIG is not set, the defaults are returned
// unchanged — periscope is usable with no config file at all.
func Load() (*Config, error) {
	configPath := os.Getenv("PERISCOPE_CONFIG")
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file's fields over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${HOME} in path fields for portability.
func (c *Config) expandVariables() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	c.SSH.KeyPath = strings.ReplaceAll(c.SSH.KeyPath, "${HOME}", home)
}

// validate rejects configurations that can never work, so the error
// surfaces at load time instead of at first session creation.
func (c *Config) validate() error {
	if c.SSH.Binary == "" {
		return fmt.Errorf("ssh.binary must not be empty")
	}
	if c.SSH.ControlPort <= 0 || c.SSH.ControlPort > 65535 {
		return fmt.Errorf("ssh.control_port %d out of range", c.SSH.ControlPort)
	}
	if c.Display.Port <= 0 || c.Display.Port > 65535 {
		return fmt.Errorf("display.port %d out of range", c.Display.Port)
	}
	if c.Ports.Base <= 1024 || c.Ports.Base > 65535 {
		return fmt.Errorf("ports.base %d outside the unprivileged range", c.Ports.Base)
	}
	return nil
}
