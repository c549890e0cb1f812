// Package config collects command line flags and environment settings.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adwski/drawguess/backend/clues"
	"github.com/adwski/drawguess/backend/scorer"
	"github.com/spf13/pflag"
)

const (
	EnvRoundTimeout = "TIMEOUT_SECONDS"
	EnvExportURL    = "EXPORT_RESULTS_URL"

	defaultRoundDuration = 15 * time.Second
)

var (
	ErrInvalidRoom      = errors.New("invalid room definition, expected id:locale")
	ErrInvalidThreshold = errors.New("close threshold must be within 1..100")
)

type Room struct {
	ID     string
	Locale string
}

type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      string
	ExportURL     string
	RoundDuration time.Duration
	Threshold     int
	Rooms         []Room
}

// Parse reads flags from args and settings from getenv.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "admin api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		threshold     = fs.IntP("close-threshold", "t", scorer.DefaultThreshold, "similarity (1-100) a wrong guess must exceed to be close")
		rooms         = fs.StringArrayP("room", "r", []string{"1:pl"}, "room provisioned at startup, id:locale, locales: "+strings.Join(clues.Locales(), ", "))
	)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse command line arguments: %w", err)
	}

	if *threshold < 1 || *threshold > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, *threshold)
	}

	cfg := &Config{
		APIListenAddr: *apiListenAddr,
		WSListenAddr:  *wsListenAddr,
		LogLevel:      *logLevel,
		ExportURL:     strings.TrimSpace(getenv(EnvExportURL)),
		RoundDuration: RoundDuration(getenv(EnvRoundTimeout)),
		Threshold:     *threshold,
	}
	for _, def := range *rooms {
		id, locale, ok := strings.Cut(def, ":")
		if !ok || id == "" || locale == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, def)
		}
		cfg.Rooms = append(cfg.Rooms, Room{ID: id, Locale: locale})
	}
	return cfg, nil
}

// RoundDuration parses seconds as a float. Empty, invalid or non-positive
// values fall back to the 15s default.
func RoundDuration(seconds string) time.Duration {
	s, err := strconv.ParseFloat(strings.TrimSpace(seconds), 64)
	if err != nil || s <= 0 {
		return defaultRoundDuration
	}
	return time.Duration(s * float64(time.Second))
}
