// Package config loads grblsend settings using Viper.
//
// Sources, highest priority first:
//  1. Command-line flags bound with BindFlag
//  2. Environment variables (GRBLSEND_*)
//  3. Config file (~/.config/grblsend/config.yaml, or an explicit path)
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mastercactapus/grblsend/machine"
	"github.com/mastercactapus/grblsend/machine/grbl"
)

// Configuration keys.
const (
	KeyBaud           = "serial.baud"
	KeyInitCommands   = "job.init_commands"
	KeyEndCommands    = "job.end_commands"
	KeyAckTimeout     = "job.ack_timeout"
	KeyStatusInterval = "job.status_interval"
	KeySkipWelcome    = "job.skip_welcome"
	KeyBanner         = "grbl.banner"
	KeyMonitorAddr    = "monitor.addr"
	KeySPJSURL        = "spjs.url"
)

// DefaultInitCommands query the controller and run a homing cycle before the
// file is streamed.
var DefaultInitCommands = []string{grbl.CmdStatus, grbl.CmdHome}

// Config holds the grblsend configuration.
type Config struct {
	v *viper.Viper
}

// Dir returns the default configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "grblsend"), nil
}

// Load reads configuration from all sources. An empty path searches the
// default directory and tolerates a missing file; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyBaud, machine.DefaultBaud)
	v.SetDefault(KeyInitCommands, DefaultInitCommands)
	v.SetDefault(KeyEndCommands, []string{})
	v.SetDefault(KeyAckTimeout, "0s")
	v.SetDefault(KeyStatusInterval, "0s")
	v.SetDefault(KeySkipWelcome, false)
	v.SetDefault(KeyBanner, grbl.DefaultBanner)
	v.SetDefault(KeyMonitorAddr, "")
	v.SetDefault(KeySPJSURL, "")

	v.SetEnvPrefix("GRBLSEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &Config{v: v}, nil
	}

	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// BindFlag lets a set flag override key.
func (c *Config) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return c.v.BindPFlag(key, flag)
}

// File returns the config file in use, if any.
func (c *Config) File() string { return c.v.ConfigFileUsed() }

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} { return c.v.AllSettings() }

// Baud returns the serial speed.
func (c *Config) Baud() int { return c.v.GetInt(KeyBaud) }

// InitCommands are sent before the file.
func (c *Config) InitCommands() []string { return c.commands(KeyInitCommands) }

// EndCommands are sent after the file.
func (c *Config) EndCommands() []string { return c.commands(KeyEndCommands) }

// AckTimeout bounds the wait for an acknowledgment. Zero disables it.
func (c *Config) AckTimeout() time.Duration { return c.v.GetDuration(KeyAckTimeout) }

// StatusInterval is the real-time status poll period. Zero disables polling.
func (c *Config) StatusInterval() time.Duration { return c.v.GetDuration(KeyStatusInterval) }

// SkipWelcome starts sending without waiting for the welcome banner.
func (c *Config) SkipWelcome() bool { return c.v.GetBool(KeySkipWelcome) }

// Banner is the exact welcome line of the controller.
func (c *Config) Banner() string { return c.v.GetString(KeyBanner) }

// MonitorAddr is the listen address of the HTTP monitor, empty when off.
func (c *Config) MonitorAddr() string { return c.v.GetString(KeyMonitorAddr) }

// SPJSURL is the websocket URL of a Serial Port JSON Server, empty for a
// local port.
func (c *Config) SPJSURL() string { return c.v.GetString(KeySPJSURL) }

// commands reads a command list. A plain string, as set from the
// environment, is split on commas since commands may contain spaces.
func (c *Config) commands(key string) []string {
	var raw []string
	switch val := c.v.Get(key).(type) {
	case string:
		raw = strings.Split(val, ",")
	default:
		raw = c.v.GetStringSlice(key)
	}

	cmds := make([]string, 0, len(raw))
	for _, cmd := range raw {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}
