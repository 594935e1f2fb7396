package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds everything the relay process needs at startup.
type Config struct {
	Port          int
	WebPort       int
	Nick          string
	DataDir       string
	DBDriver      string
	DBDSN         string
	Headless      bool
	UplinkWebhook string
	LogFile       string
	LogLevel      string
	Latitude      float64
	Longitude     float64
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:     9000,
		WebPort:  8080,
		DataDir:  ".",
		DBDriver: "sqlite",
		LogFile:  "debug.log",
		LogLevel: "info",
	}
}

// envVar binds a CHATRELAY_* variable to the flag that overrides it.
type envVar struct {
	name string
	flag string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"CHATRELAY_PORT", "port", func(c *Config, v string) error { return setInt(&c.Port, v) }},
	{"CHATRELAY_WEB_PORT", "web-port", func(c *Config, v string) error { return setInt(&c.WebPort, v) }},
	{"CHATRELAY_NICK", "nick", func(c *Config, v string) error { c.Nick = v; return nil }},
	{"CHATRELAY_DATA_DIR", "data-dir", func(c *Config, v string) error { c.DataDir = v; return nil }},
	{"CHATRELAY_DB_DRIVER", "db-driver", func(c *Config, v string) error { c.DBDriver = v; return nil }},
	{"CHATRELAY_DB_DSN", "db-dsn", func(c *Config, v string) error { c.DBDSN = v; return nil }},
	{"CHATRELAY_HEADLESS", "headless", func(c *Config, v string) error { return setBool(&c.Headless, v) }},
	{"CHATRELAY_UPLINK_WEBHOOK", "uplink-webhook", func(c *Config, v string) error { c.UplinkWebhook = v; return nil }},
	{"CHATRELAY_LOG_FILE", "log-file", func(c *Config, v string) error { c.LogFile = v; return nil }},
	{"CHATRELAY_LOG_LEVEL", "log-level", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"CHATRELAY_LATITUDE", "lat", func(c *Config, v string) error { return setFloat(&c.Latitude, v) }},
	{"CHATRELAY_LONGITUDE", "lon", func(c *Config, v string) error { return setFloat(&c.Longitude, v) }},
}

// LoadDotEnv loads .env.local, falling back to .env, into the process
// environment. Missing files are not an error.
func LoadDotEnv() {
	if err := godotenv.Load(".env.local"); err != nil {
		_ = godotenv.Load()
	}
}

// ApplyEnv overrides c from CHATRELAY_* variables, skipping any whose flag
// the user set explicitly.
func (c *Config) ApplyEnv(flagSet func(name string) bool) error {
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if flagSet != nil && flagSet(ev.flag) {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s value %q: %w", ev.name, v, err)
		}
	}
	return nil
}

// Validate rejects unusable values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.WebPort < 0 || c.WebPort > 65535 {
		return fmt.Errorf("invalid web port %d", c.WebPort)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("invalid latitude %v", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("invalid longitude %v", c.Longitude)
	}
	switch strings.ToLower(c.DBDriver) {
	case "", "sqlite":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("postgres driver requires a DSN")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	return nil
}

// DatabaseDSN is the configured DSN, or a per-port sqlite file in DataDir.
func (c *Config) DatabaseDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return filepath.Join(c.DataDir, fmt.Sprintf("chat_%d.db", c.Port))
}

// SettingsPath is the per-port settings file in DataDir.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, fmt.Sprintf("settings_%d.json", c.Port))
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
