package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// config holds the rspctl configuration, loaded in order of precedence from flags,
// RSP_* environment variables, .env files, ~/.rspctl.yaml and defaults.
type config struct {
	// Exactly one transport is used.
	Addr string   // TCP address of a running server
	URL  string   // SSE endpoint of an HTTP gateway
	Exec []string // server command spoken to over stdio

	RequestTimeout time.Duration
	LongTimeout    time.Duration

	LogLevel    string
	MetricsAddr string
}

var errTransport = errors.New("exactly one of --addr, --url or --exec must be set")

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("rsp")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("request-timeout", 2*time.Second)
	v.SetDefault("long-timeout", time.Minute)
	v.SetDefault("log-level", "info")

	return v
}

// readConfigFile reads file, or .rspctl.yaml from the home or current directory when
// file is empty. A missing default file is not an error.
func readConfigFile(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(".rspctl")

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// loadEnvFiles loads .env then .env.local. Variables already set win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		Addr:           v.GetString("addr"),
		URL:            v.GetString("url"),
		Exec:           v.GetStringSlice("exec"),
		RequestTimeout: v.GetDuration("request-timeout"),
		LongTimeout:    v.GetDuration("long-timeout"),
		LogLevel:       v.GetString("log-level"),
		MetricsAddr:    v.GetString("metrics-addr"),
	}

	set := 0
	for _, ok := range []bool{cfg.Addr != "", cfg.URL != "", len(cfg.Exec) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return config{}, errTransport
	}
	if cfg.RequestTimeout <= 0 || cfg.LongTimeout <= 0 {
		return config{}, errors.New("timeouts must be positive")
	}

	return cfg, nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// readAttributes reads server creation attributes from a YAML mapping.
func readAttributes(path string) (map[string]any, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}

	attrs := make(map[string]any)
	if err := yaml.Unmarshal(bs, &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse attributes %s: %w", path, err)
	}
	return attrs, nil
}
