package supervisor

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/panelsvc/internal/logger"
)

// Defaults applied by ServiceConfig.WithDefaults.
const (
	DefaultName        = "service"
	DefaultHost        = "localhost"
	DefaultPort        = 8000
	DefaultIndexPath   = "index.html"
	DefaultStopTimeout = 3 * time.Second
)

// Readiness probes selectable through ReadyProbe.
const (
	ProbeTCP  = "tcp"
	ProbeHTTP = "http"
)

// ServiceConfig describes how to launch the supervised service. Paths are
// taken as already resolved; the supervisor only checks that they exist.
type ServiceConfig struct {
	Name           string            `json:"name"`
	ExecutablePath string            `json:"executable"`
	ScriptPath     string            `json:"script"`
	Args           []string          `json:"args"`
	WorkDir        string            `json:"work_dir"`
	Env            []string          `json:"env"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	IndexPath      string            `json:"index_path"`
	PIDFile        string            `json:"pid_file"`
	StopTimeout    time.Duration     `json:"stop_timeout"`
	ReadyTimeout   time.Duration     `json:"ready_timeout"`
	ReadyProbe     string            `json:"ready_probe"`
	Output         logger.FileConfig `json:"-"`
}

// WithDefaults returns a copy with zero fields filled in.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.IndexPath == "" {
		c.IndexPath = DefaultIndexPath
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	c.Args = append([]string(nil), c.Args...)
	c.Env = append([]string(nil), c.Env...)
	return c
}

// Validate checks the static shape of the config. File existence is checked
// at launch time and reported as ErrMissingDependency instead.
func (c ServiceConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ExecutablePath) == "" {
		errs = append(errs, errors.New("executable path is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.StopTimeout < 0 || c.ReadyTimeout < 0 {
		errs = append(errs, errors.New("timeouts cannot be negative"))
	}
	switch c.ReadyProbe {
	case "", ProbeTCP, ProbeHTTP:
	default:
		errs = append(errs, fmt.Errorf("ready probe %q must be tcp or http", c.ReadyProbe))
	}
	for i, kv := range c.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("env[%d] %q must be KEY=VALUE", i, kv))
		}
	}
	return errors.Join(errs...)
}

// ScriptFullPath resolves ScriptPath against WorkDir when relative.
func (c ServiceConfig) ScriptFullPath() string {
	if c.ScriptPath == "" || filepath.IsAbs(c.ScriptPath) || c.WorkDir == "" {
		return c.ScriptPath
	}
	return filepath.Join(c.WorkDir, c.ScriptPath)
}

// Argv is the argument vector passed after the executable: script then flags.
func (c ServiceConfig) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	if s := c.ScriptFullPath(); s != "" {
		argv = append(argv, s)
	}
	return append(argv, c.Args...)
}

// Address is the host:port the service is expected to bind.
func (c ServiceConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL is the address handed to the view layer.
func (c ServiceConfig) URL() string {
	u := url.URL{Scheme: "http", Host: c.Address(), Path: "/" + strings.TrimPrefix(c.IndexPath, "/")}
	return u.String()
}
