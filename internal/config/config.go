// Package config loads Connection options and process-level settings
// from environment variables with defaults, following the same
// env-var-with-default loader shape used elsewhere in this module's
// dependency pool rather than a config-file format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ventosilenzioso/go-rudp/pkg/rudp"
)

// Config holds process-level settings plus the transport Options.
type Config struct {
	Host string `env:"RUDP_HOST" default:"0.0.0.0"`
	Port int    `env:"RUDP_PORT" default:"9999"`

	LogLevel string `env:"RUDP_LOG_LEVEL" default:"info"`

	Transport rudp.Options
}

// Load reads a Config from the environment, filling every field with
// its default when the corresponding variable is unset.
func Load() (*Config, error) {
	c := &Config{
		Host:     getEnvWithDefault("RUDP_HOST", "0.0.0.0"),
		Port:     getIntWithDefault("RUDP_PORT", 9999),
		LogLevel: getEnvWithDefault("RUDP_LOG_LEVEL", "info"),
	}

	d := rudp.DefaultOptions()
	c.Transport = rudp.Options{
		MTU:                 getIntWithDefault("RUDP_MTU", d.MTU),
		SendFrequency:       getDurationWithDefault("RUDP_SEND_FREQUENCY", d.SendFrequency),
		RecvFrequency:       getDurationWithDefault("RUDP_RECV_FREQUENCY", d.RecvFrequency),
		PacketIDLimit:       uint32(getIntWithDefault("RUDP_PACKET_ID_LIMIT", int(d.PacketIDLimit))),
		SequenceLimit:       uint32(getIntWithDefault("RUDP_SEQUENCE_LIMIT", int(d.SequenceLimit))),
		ClientStartSequence: uint32(getIntWithDefault("RUDP_CLIENT_START_SEQUENCE", int(d.ClientStartSequence))),
		ServerStartSequence: uint32(getIntWithDefault("RUDP_SERVER_START_SEQUENCE", int(d.ServerStartSequence))),
		KeepAliveInterval:   getDurationWithDefault("RUDP_KEEPALIVE_INTERVAL", d.KeepAliveInterval),
		SessionTimeout:      getDurationWithDefault("RUDP_SESSION_TIMEOUT", d.SessionTimeout),
		ResetDelay:          getDurationWithDefault("RUDP_RESET_DELAY", d.ResetDelay),
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Validate rejects settings that would misconfigure a Connection.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Transport.MTU <= 0 {
		return fmt.Errorf("mtu must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
