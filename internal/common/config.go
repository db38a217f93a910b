package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// BadgerConfig mirrors the shape internal/storage/badger.NewBadgerDB and
// NewManager expect.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// ServerConfig is the HTTP/websocket listener address.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SchedulerConfig feeds scheduler.Config.
type SchedulerConfig struct {
	TickIntervalSeconds  int `toml:"tick_interval_seconds"`
	MaxClientWaitSeconds int `toml:"max_client_wait_seconds"`
}

func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

func (s SchedulerConfig) MaxClientWait() time.Duration {
	return time.Duration(s.MaxClientWaitSeconds) * time.Second
}

// WatchdogConfig feeds watchdog.Config.
type WatchdogConfig struct {
	IntervalSeconds   int `toml:"interval_seconds"`
	StuckGraceSeconds int `toml:"stuck_grace_seconds"`
}

func (w WatchdogConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

func (w WatchdogConfig) StuckGrace() time.Duration {
	return time.Duration(w.StuckGraceSeconds) * time.Second
}

// ClientManagerConfig bounds the clientmanager.Controller's per-manager
// rate limiter (golang.org/x/time/rate).
type ClientManagerConfig struct {
	RPS   float64 `toml:"rps"`
	Burst int     `toml:"burst"`
}

// ShutdownConfig bounds how long cmd/slamd waits for in-flight Jobs to
// drain before forcing an exit.
type ShutdownConfig struct {
	GraceSeconds int `toml:"grace_seconds"`
}

func (s ShutdownConfig) Grace() time.Duration {
	return time.Duration(s.GraceSeconds) * time.Second
}

// LoggingConfig drives both SetupLogger (arbor) and the scheduler's
// phuslu/log hot-path writer.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// Config is the root of slamd's TOML configuration file.
type Config struct {
	Environment   string              `toml:"environment"`
	Server        ServerConfig        `toml:"server"`
	Badger        BadgerConfig        `toml:"badger"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Watchdog      WatchdogConfig      `toml:"watchdog"`
	ClientManager ClientManagerConfig `toml:"client_manager"`
	Shutdown      ShutdownConfig      `toml:"shutdown"`
	Logging       LoggingConfig       `toml:"logging"`
}

// NewDefaultConfig returns the configuration slamd starts with when no
// TOML file is supplied, tuned to the same defaults
// internal/scheduler.New and internal/watchdog.New fall back to.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Badger: BadgerConfig{
			Path:           "./data/slamd.db",
			ResetOnStartup: false,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds:  1,
			MaxClientWaitSeconds: 300,
		},
		Watchdog: WatchdogConfig{
			IntervalSeconds:   30,
			StuckGraceSeconds: 60,
		},
		ClientManager: ClientManagerConfig{
			RPS:   1,
			Burst: 3,
		},
		Shutdown: ShutdownConfig{
			GraceSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile merges a TOML file's contents onto NewDefaultConfig,
// then applies SLAMD_* environment overrides. A missing path is not an
// error; the defaults are used as-is.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return config, nil
			}
			return nil, fmt.Errorf("common: read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("common: parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides lets a handful of SLAMD_* environment variables win
// over whatever the TOML file set, the same override layer quaero's
// config.go applied over QUAERO_* variables.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SLAMD_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SLAMD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("SLAMD_BADGER_PATH"); v != "" {
		config.Badger.Path = v
	}
	if v := os.Getenv("SLAMD_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SLAMD_ENVIRONMENT"); v != "" {
		config.Environment = v
	}
}

// ApplyFlagOverrides lets cmd/slamd's -port/-host flags win over both
// the file and the environment, the last stop in the override chain.
func ApplyFlagOverrides(config *Config, host string, port int) {
	if host != "" {
		config.Server.Host = host
	}
	if port != 0 {
		config.Server.Port = port
	}
}

// IsProduction reports whether config.Environment is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
