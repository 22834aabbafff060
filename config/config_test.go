package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fullYAML = `
paths:
  classes: target/classes
  sources: src/main/java
  resources: src/main/resources
configFiles:
  - application.properties
  - META-INF/microprofile-config.properties
scanInterval: 750ms
compiler:
  command: /opt/jdk/bin/javac
  args: [-parameters]
  classpathFile: target/dev-classpath.txt
app:
  command: [java, -cp, target/classes, com.acme.Main]
  upstream: http://127.0.0.1:9000
  redefineEndpoint: http://127.0.0.1:5005/redefine
server:
  addr: ":9090"
log:
  level: debug
tracing:
  endpoint: localhost:4318
`

func TestLoadFromFile_ValidYAML(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "devreload.yaml")
	if err := os.WriteFile(fp, []byte(fullYAML), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := LoadFromFile(fp)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Paths.Classes != "target/classes" || cfg.Paths.Resources != "src/main/resources" {
		t.Errorf("unexpected paths: %+v", cfg.Paths)
	}
	if len(cfg.ConfigFiles) != 2 {
		t.Errorf("expected 2 config files, got %v", cfg.ConfigFiles)
	}
	if cfg.ScanInterval != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.ScanInterval)
	}
	if cfg.Compiler.Command != "/opt/jdk/bin/javac" || len(cfg.Compiler.Args) != 1 {
		t.Errorf("unexpected compiler config: %+v", cfg.Compiler)
	}
	if len(cfg.App.Command) != 4 || cfg.App.RedefineEndpoint == "" {
		t.Errorf("unexpected app config: %+v", cfg.App)
	}
	if !cfg.Tracing.Enabled() || cfg.Tracing.ServiceName != "devreload" {
		t.Errorf("expected tracing enabled with default service name, got %+v", cfg.Tracing)
	}
	if cfg.Metrics.MetricsPath != "/metrics" {
		t.Errorf("expected default metrics path, got %q", cfg.Metrics.MetricsPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("paths: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ScanInterval != 2*time.Second {
		t.Errorf("expected 2s interval, got %s", cfg.ScanInterval)
	}
	if cfg.Compiler.Command != "javac" {
		t.Errorf("expected javac, got %q", cfg.Compiler.Command)
	}
	if !errors.Is(cfg.Validate(), ErrNoClassesDir) {
		t.Error("expected ErrNoClassesDir from defaults")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DevConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*DevConfig) {}},
		{name: "negative interval", mutate: func(c *DevConfig) { c.ScanInterval = -time.Second }, wantErr: true},
		{name: "extension without dot", mutate: func(c *DevConfig) { c.SourceExtensions = []string{"kt"} }, wantErr: true},
		{name: "bad log level", mutate: func(c *DevConfig) { c.Log.Level = "loud" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Paths.Classes = "target/classes"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvClassesDir:       "/build/classes",
		EnvConfigFiles:      "a.properties, b.yaml ,",
		EnvScanInterval:     "5s",
		EnvLogLevel:         "warn",
		EnvOTLPEndpoint:     "collector:4318",
		EnvRedefineEndpoint: "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.App.RedefineEndpoint = "http://agent"
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Paths.Classes != "/build/classes" {
		t.Errorf("unexpected classes dir %q", cfg.Paths.Classes)
	}
	if len(cfg.ConfigFiles) != 2 || cfg.ConfigFiles[1] != "b.yaml" {
		t.Errorf("unexpected config files %v", cfg.ConfigFiles)
	}
	if cfg.ScanInterval != 5*time.Second {
		t.Errorf("unexpected interval %s", cfg.ScanInterval)
	}
	if cfg.Tracing.Endpoint != "collector:4318" {
		t.Errorf("unexpected tracing endpoint %q", cfg.Tracing.Endpoint)
	}
	if cfg.App.RedefineEndpoint != "http://agent" {
		t.Error("empty env value must not override")
	}

	env[EnvScanInterval] = "soon"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
