// Package config loads relay settings from flags, environment, .env and
// config.yaml through viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "UAM"

const (
	KeyUpstreamURL = "upstream_url"
	KeyBackendURL  = "backend_url"
	KeyStreamID    = "stream_id"
	KeyHTTPAddr    = "http_addr"
	KeyGraceDelay  = "grace_delay"
	KeyDialTimeout = "dial_timeout"
	KeySendQueue   = "send_queue"
	KeyMaxLines    = "max_lines"
	KeyLogLevel    = "log_level"
	KeyLogFile     = "log_file"
	KeyTUI         = "tui"
)

type Config struct {
	UpstreamURL string
	BackendURL  string
	StreamID    string
	HTTPAddr    string
	GraceDelay  time.Duration
	DialTimeout time.Duration
	SendQueue   int
	MaxLines    int
	LogLevel    log.Level
	LogFile     string
	TUI         bool
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyStreamID, "default")
	v.SetDefault(KeyHTTPAddr, ":8081")
	v.SetDefault(KeyGraceDelay, 250*time.Millisecond)
	v.SetDefault(KeyDialTimeout, 10*time.Second)
	v.SetDefault(KeySendQueue, 150)
	v.SetDefault(KeyMaxLines, 500)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "uam.log")
	v.SetDefault(KeyTUI, false)
}

// Init points v at config.yaml in dir and at UAM_* environment variables.
// A .env file in dir, if present, is loaded into the environment first.
func Init(v *viper.Viper, dir string) error {
	if err := godotenv.Load(dir + "/.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Load reads and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	level, err := log.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}

	c := Config{
		UpstreamURL: v.GetString(KeyUpstreamURL),
		BackendURL:  v.GetString(KeyBackendURL),
		StreamID:    v.GetString(KeyStreamID),
		HTTPAddr:    v.GetString(KeyHTTPAddr),
		GraceDelay:  v.GetDuration(KeyGraceDelay),
		DialTimeout: v.GetDuration(KeyDialTimeout),
		SendQueue:   v.GetInt(KeySendQueue),
		MaxLines:    v.GetInt(KeyMaxLines),
		LogLevel:    level,
		LogFile:     v.GetString(KeyLogFile),
		TUI:         v.GetBool(KeyTUI),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyBackendURL))
	} else if err := checkWebSocketURL(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyBackendURL, err))
	}
	if c.UpstreamURL != "" {
		if err := checkWebSocketURL(c.UpstreamURL); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyUpstreamURL, err))
		}
	}
	if c.GraceDelay <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyGraceDelay))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyDialTimeout))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeySendQueue))
	}
	if c.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxLines))
	}
	if c.TUI && c.LogFile == "" {
		errs = append(errs, fmt.Errorf("%s is required with %s", KeyLogFile, KeyTUI))
	}

	return errors.Join(errs...)
}

func checkWebSocketURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("want ws:// or wss://, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// Save writes the given keys to config.yaml in dir.
func Save(v *viper.Viper, dir string, values map[string]any) error {
	for k, val := range values {
		v.Set(k, val)
	}
	path := dir + "/config.yaml"
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
