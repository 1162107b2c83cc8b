package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/panelsvc/internal/logger"
	"github.com/loykin/panelsvc/internal/supervisor"
)

// EnvPrefix is prepended to every environment override, e.g. PANELSVC_SERVICE_PORT.
const EnvPrefix = "PANELSVC"

// Config represents the top-level TOML structure.
type Config struct {
	Service ServiceSection `mapstructure:"service"`
	Panel   PanelSection   `mapstructure:"panel"`
	Log     logger.Config  `mapstructure:"log"`
	Server  ServerSection  `mapstructure:"server"`
	Metrics MetricsSection `mapstructure:"metrics"`
	History HistorySection `mapstructure:"history"`

	// directory of the loaded file; relative paths resolve against it
	baseDir string
}

type ServiceSection struct {
	Name         string            `mapstructure:"name"`
	Executable   string            `mapstructure:"executable"`
	Script       string            `mapstructure:"script"`
	Args         []string          `mapstructure:"args"`
	WorkDir      string            `mapstructure:"workdir"`
	Env          []string          `mapstructure:"env"`
	EnvFiles     []string          `mapstructure:"env_files"`
	Host         string            `mapstructure:"host"`
	Port         int               `mapstructure:"port"`
	IndexPath    string            `mapstructure:"index_path"`
	PIDFile      string            `mapstructure:"pidfile"`
	StopTimeout  time.Duration     `mapstructure:"stop_timeout"`
	ReadyTimeout time.Duration     `mapstructure:"ready_timeout"`
	ReadyProbe   string            `mapstructure:"ready_probe"`
	Log          logger.FileConfig `mapstructure:"log"`
}

type PanelSection struct {
	LaunchOnStartup bool `mapstructure:"launch_on_startup"`
}

type ServerSection struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	Engine   string `mapstructure:"engine"`
}

type MetricsSection struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistorySection struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", supervisor.DefaultName)
	v.SetDefault("service.executable", "")
	v.SetDefault("service.script", "")
	v.SetDefault("service.args", []string{})
	v.SetDefault("service.workdir", "")
	v.SetDefault("service.env", []string{})
	v.SetDefault("service.env_files", []string{})
	v.SetDefault("service.host", supervisor.DefaultHost)
	v.SetDefault("service.port", supervisor.DefaultPort)
	v.SetDefault("service.index_path", supervisor.DefaultIndexPath)
	v.SetDefault("service.pidfile", "")
	v.SetDefault("service.stop_timeout", supervisor.DefaultStopTimeout)
	v.SetDefault("service.ready_timeout", time.Duration(0))
	v.SetDefault("service.ready_probe", supervisor.ProbeTCP)
	v.SetDefault("service.log.dir", "")

	v.SetDefault("panel.launch_on_startup", false)

	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", false)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.stdout", "")

	v.SetDefault("server.listen", "127.0.0.1:8765")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.engine", "gin")

	v.SetDefault("metrics.enabled", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

// Load reads a TOML file and applies PANELSVC_* environment overrides.
// An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		cfg.baseDir = filepath.Dir(abs)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes relative paths absolute against the config file location and
// merges env_files into Env. Explicit env entries win over file entries.
func (c *Config) resolve() error {
	s := &c.Service
	s.WorkDir = c.abs(s.WorkDir)
	s.PIDFile = c.abs(s.PIDFile)
	s.Log.Dir = c.abs(s.Log.Dir)
	if strings.ContainsAny(s.Executable, `/\`) {
		s.Executable = c.abs(s.Executable)
	}
	if len(s.EnvFiles) == 0 {
		return nil
	}
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range s.EnvFiles {
		pairs, err := loadEnvFile(c.abs(p))
		if err != nil {
			return fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			set(kv[0], kv[1])
		}
	}
	for _, kv := range s.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	env := make([]string, 0, len(order))
	for _, k := range order {
		env = append(env, k+"="+m[k])
	}
	s.Env = env
	return nil
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) || c.baseDir == "" {
		return p
	}
	return filepath.Join(c.baseDir, p)
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}

// ServiceConfig converts the [service] section for the supervisor.
func (c *Config) ServiceConfig() supervisor.ServiceConfig {
	s := c.Service
	return supervisor.ServiceConfig{
		Name:           s.Name,
		ExecutablePath: s.Executable,
		ScriptPath:     s.Script,
		Args:           s.Args,
		WorkDir:        s.WorkDir,
		Env:            s.Env,
		Host:           s.Host,
		Port:           s.Port,
		IndexPath:      s.IndexPath,
		PIDFile:        s.PIDFile,
		StopTimeout:    s.StopTimeout,
		ReadyTimeout:   s.ReadyTimeout,
		ReadyProbe:     s.ReadyProbe,
		Output:         s.Log,
	}.WithDefaults()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	errs := []error{c.ServiceConfig().Validate()}
	// WithDefaults replaces non-positive durations, so check the raw section
	if c.Service.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.stop_timeout %s cannot be negative", c.Service.StopTimeout))
	}
	if c.Service.ReadyTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.ready_timeout %s cannot be negative", c.Service.ReadyTimeout))
	}
	switch c.Log.Slog.Level {
	case "", logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError:
	default:
		errs = append(errs, fmt.Errorf("log.slog.level %q is not one of debug, info, warn, error", c.Log.Slog.Level))
	}
	switch c.Log.Slog.Format {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.slog.format %q must be text or json", c.Log.Slog.Format))
	}
	switch c.Server.Engine {
	case "", "gin", "echo":
	default:
		errs = append(errs, fmt.Errorf("server.engine %q must be gin or echo", c.Server.Engine))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}
