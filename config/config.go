// Package config loads the dev-mode configuration and watches it for edits.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/devreload/observability"
	"github.com/GoCodeAlone/devreload/observability/tracing"
)

// ErrNoClassesDir is returned by Validate when no class output directory is
// configured. Hot reload cannot be activated without one.
var ErrNoClassesDir = errors.New("config: paths.classes is required")

// PathsConfig holds the filesystem roots owned by the build.
type PathsConfig struct {
	Classes   string `json:"classes" yaml:"classes"`
	Sources   string `json:"sources,omitempty" yaml:"sources,omitempty"`
	Resources string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// CompilerConfig configures the incremental compiler.
type CompilerConfig struct {
	Command       string   `json:"command" yaml:"command"`
	Args          []string `json:"args,omitempty" yaml:"args,omitempty"`
	ClasspathFile string   `json:"classpathFile,omitempty" yaml:"classpathFile,omitempty"`
	Classpath     []string `json:"classpath,omitempty" yaml:"classpath,omitempty"`
}

// AppConfig describes the application process being developed.
type AppConfig struct {
	Command          []string `json:"command,omitempty" yaml:"command,omitempty"`
	Upstream         string   `json:"upstream" yaml:"upstream"`
	RedefineEndpoint string   `json:"redefineEndpoint,omitempty" yaml:"redefineEndpoint,omitempty"`
}

// ServerConfig configures the dev server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DevConfig is the root of the dev-mode configuration file.
type DevConfig struct {
	Paths            PathsConfig                 `json:"paths" yaml:"paths"`
	ConfigFiles      []string                    `json:"configFiles,omitempty" yaml:"configFiles,omitempty"`
	ScanInterval     time.Duration               `json:"scanInterval" yaml:"scanInterval"`
	SourceExtensions []string                    `json:"sourceExtensions,omitempty" yaml:"sourceExtensions,omitempty"`
	Compiler         CompilerConfig              `json:"compiler" yaml:"compiler"`
	App              AppConfig                   `json:"app" yaml:"app"`
	Server           ServerConfig                `json:"server" yaml:"server"`
	Log              LogConfig                   `json:"log" yaml:"log"`
	Tracing          tracing.Config              `json:"tracing" yaml:"tracing"`
	Metrics          observability.MetricsConfig `json:"metrics" yaml:"metrics"`
}

// DefaultConfig returns a configuration with every optional field set.
func DefaultConfig() *DevConfig {
	return &DevConfig{
		ScanInterval:     2 * time.Second,
		SourceExtensions: []string{".java"},
		Compiler:         CompilerConfig{Command: "javac"},
		App:              AppConfig{Upstream: "http://127.0.0.1:8081"},
		Server:           ServerConfig{Addr: ":8080"},
		Log:              LogConfig{Level: "info"},
		Tracing:          tracing.DefaultConfig(),
		Metrics:          observability.DefaultMetricsConfig(),
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*DevConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads a dev configuration from a YAML file.
func LoadFromFile(path string) (*DevConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Validate checks the configuration for values reload cannot run with.
func (c *DevConfig) Validate() error {
	var errs []error
	if c.Paths.Classes == "" {
		errs = append(errs, ErrNoClassesDir)
	}
	if c.ScanInterval < 0 {
		errs = append(errs, fmt.Errorf("config: scanInterval must not be negative, got %s", c.ScanInterval))
	}
	for _, ext := range c.SourceExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("config: source extension %q must start with a dot", ext))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Env variables read by ApplyEnv.
const (
	EnvClassesDir       = "DEVRELOAD_CLASSES_DIR"
	EnvSourcesDir       = "DEVRELOAD_SOURCES_DIR"
	EnvResourcesDir     = "DEVRELOAD_RESOURCES_DIR"
	EnvConfigFiles      = "DEVRELOAD_CONFIG_FILES"
	EnvScanInterval     = "DEVRELOAD_SCAN_INTERVAL"
	EnvCompiler         = "DEVRELOAD_COMPILER"
	EnvClasspathFile    = "DEVRELOAD_CLASSPATH_FILE"
	EnvUpstream         = "DEVRELOAD_UPSTREAM"
	EnvRedefineEndpoint = "DEVRELOAD_REDEFINE_ENDPOINT"
	EnvAddr             = "DEVRELOAD_ADDR"
	EnvLogLevel         = "DEVRELOAD_LOG_LEVEL"
	EnvOTLPEndpoint     = "DEVRELOAD_OTLP_ENDPOINT"
)

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv.
func (c *DevConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvClassesDir, &c.Paths.Classes)
	str(EnvSourcesDir, &c.Paths.Sources)
	str(EnvResourcesDir, &c.Paths.Resources)
	str(EnvCompiler, &c.Compiler.Command)
	str(EnvClasspathFile, &c.Compiler.ClasspathFile)
	str(EnvUpstream, &c.App.Upstream)
	str(EnvRedefineEndpoint, &c.App.RedefineEndpoint)
	str(EnvAddr, &c.Server.Addr)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvOTLPEndpoint, &c.Tracing.Endpoint)

	if v, ok := lookup(EnvConfigFiles); ok && v != "" {
		c.ConfigFiles = splitList(v)
	}
	if v, ok := lookup(EnvScanInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvScanInterval, err)
		}
		c.ScanInterval = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}
