package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/luahost/internal/config/loader"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LUAHOST_"

// Config is the resolved luahost configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Events      EventsConfig      `toml:"events"`
	Debugger    DebuggerConfig    `toml:"debugger"`
	Interpreter InterpreterConfig `toml:"interpreter"`
	Watch       WatchConfig       `toml:"watch"`
}

// ServerConfig configures the WebSocket transport.
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	Path            string   `toml:"path"`
	ReadLimit       int64    `toml:"read_limit"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SchedulerConfig configures the command gateway.
type SchedulerConfig struct {
	// PollInterval bounds how long a gateway caller waits between checks
	// of its context.
	PollInterval Duration `toml:"poll_interval"`
}

// EventsConfig configures the async event channel.
type EventsConfig struct {
	Capacity int `toml:"capacity"`
}

// DebuggerConfig configures the stepping engine.
type DebuggerConfig struct {
	// GeneratedSources are glob patterns naming generated chunks, skipped by
	// step-into-target-code.
	GeneratedSources []string `toml:"generated_sources"`

	// BreakpointsFile persists breakpoints across sessions when set.
	BreakpointsFile string `toml:"breakpoints_file"`
}

// InterpreterConfig configures the Lua runtime.
type InterpreterConfig struct {
	CallStackSize int  `toml:"call_stack_size"`
	Sandbox       bool `toml:"sandbox"`
}

// WatchConfig configures source change notifications.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDuration, text, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:7654",
			Path:            "/ws",
			ReadLimit:       1 << 20,
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			PollInterval: Duration(50 * time.Millisecond),
		},
		Events: EventsConfig{
			Capacity: 1024,
		},
		Debugger: DebuggerConfig{
			GeneratedSources: []string{},
		},
		Interpreter: InterpreterConfig{
			CallStackSize: 256,
			Sandbox:       true,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(100 * time.Millisecond),
		},
	}
}

// Load resolves the configuration from the defaults, the file at path (may be
// empty) and the LUAHOST_ environment.
func Load(path string) (*Config, error) {
	return LoadWith(loader.DefaultFS(), path, loader.NewEnvLoader(EnvPrefix))
}

// LoadWith is Load with an explicit file system and environment loader.
// env may be nil.
func LoadWith(fsys loader.FileSystem, path string, env loader.Loader) (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	if path != "" {
		l, err := loader.ForFile(fsys, path)
		if err != nil {
			return nil, err
		}
		file, err := l.Load()
		if err != nil {
			return nil, err
		}
		if file == nil {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		merged = loader.DeepMerge(merged, file)
	}

	if env != nil {
		overlay, err := env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, overlay)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
		}
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := toml.Marshal(m)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	dec := toml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return &ValidationError{Path: "server.listen", Message: "must not be empty", Value: c.Server.Listen}
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return &ValidationError{Path: "server.path", Message: "must start with /", Value: c.Server.Path}
	}
	if c.Server.ReadLimit <= 0 {
		return &ValidationError{Path: "server.read_limit", Message: "must be positive", Value: c.Server.ReadLimit}
	}
	if _, err := c.LogLevel(); err != nil {
		return &ValidationError{Path: "logging.level", Message: err.Error(), Value: c.Logging.Level}
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return &ValidationError{Path: "logging.format", Message: "must be json or text", Value: c.Logging.Format}
	}
	if c.Scheduler.PollInterval <= 0 {
		return &ValidationError{Path: "scheduler.poll_interval", Message: "must be positive", Value: c.Scheduler.PollInterval.Std()}
	}
	if c.Events.Capacity <= 0 {
		return &ValidationError{Path: "events.capacity", Message: "must be positive", Value: c.Events.Capacity}
	}
	for _, pattern := range c.Debugger.GeneratedSources {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return &ValidationError{Path: "debugger.generated_sources", Message: "bad glob pattern", Value: pattern}
		}
	}
	if c.Interpreter.CallStackSize <= 0 {
		return &ValidationError{Path: "interpreter.call_stack_size", Message: "must be positive", Value: c.Interpreter.CallStackSize}
	}
	if c.Watch.Debounce < 0 {
		return &ValidationError{Path: "watch.debounce", Message: "must not be negative", Value: c.Watch.Debounce.Std()}
	}
	return nil
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, err
	}
	return level, nil
}
