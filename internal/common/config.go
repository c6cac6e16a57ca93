package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the daemon configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Events    EventsConfig    `toml:"events"`
	Session   SessionConfig   `toml:"session"`
	Hooks     HooksConfig     `toml:"hooks"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Origins   OriginsConfig   `toml:"origins"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
}

// EventsConfig configures the lifecycle event stream.
type EventsConfig struct {
	Port      int  `toml:"port" validate:"gte=0,lte=65535"` // 0 disables the TCP stream
	WebSocket bool `toml:"websocket"`                       // expose /events websocket endpoint
}

type SessionConfig struct {
	Path string `toml:"path" validate:"required"` // root for per-job session directories
}

type HooksConfig struct {
	Path          string  `toml:"path"`            // directory of hook scripts, empty disables hooks
	SpawnsPerSec  float64 `toml:"spawns_per_sec"`  // hook process spawn rate limit
	SpawnBurst    int     `toml:"spawn_burst"`     //
	SpawnWaitSecs int     `toml:"spawn_wait_secs"` // max wait for a spawn slot
}

type SchedulerConfig struct {
	WorkerInterval   string `toml:"worker_interval"`    // job worker tick, e.g. "10s"
	CleanupAge       string `toml:"cleanup_age"`        // min age of an ended job before GC, e.g. "5m"
	MaxCleanedJobs   int    `toml:"max_cleaned_jobs"`   // ended jobs kept before GC kicks in
	SessionSweepCron string `toml:"session_sweep_cron"` // cron spec for the orphan session sweep
}

type OriginsConfig struct {
	Hosts      []string `toml:"hosts"`      // paths with *.hosts.toml files
	Profiles   []string `toml:"profiles"`   // paths with profile directories
	Testsuites []string `toml:"testsuites"` // paths with *.suite files
	Testplans  []string `toml:"testplans"`  // paths with *.plan files
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`    // log file directory when file output enabled
}

// DefaultConfig returns the built-in configuration defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Events: EventsConfig{
			Port:      8090,
			WebSocket: true,
		},
		Session: SessionConfig{
			Path: "/tmp/igord-sessions",
		},
		Hooks: HooksConfig{
			SpawnsPerSec:  10,
			SpawnBurst:    20,
			SpawnWaitSecs: 5,
		},
		Scheduler: SchedulerConfig{
			WorkerInterval:   "10s",
			CleanupAge:       "5m",
			MaxCleanedJobs:   10,
			SessionSweepCron: "@hourly",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files.
// Later files override earlier ones; environment variables override files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// ApplyFlagOverrides applies command-line overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("IGOR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("IGOR_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("IGOR_SESSION_PATH"); v != "" {
		config.Session.Path = v
	}
	if v := os.Getenv("IGOR_HOOKS_PATH"); v != "" {
		config.Hooks.Path = v
	}
	if v := os.Getenv("IGOR_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// WorkerInterval returns the parsed job worker tick interval.
func (c *SchedulerConfig) WorkerTick() time.Duration {
	return parseDurationOr(c.WorkerInterval, 10*time.Second)
}

// CleanupAgeDuration returns the parsed minimum age before an ended job is cleaned.
func (c *SchedulerConfig) CleanupAgeDuration() time.Duration {
	return parseDurationOr(c.CleanupAge, 5*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
