package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sourceYAML = `
paths:
  classes: target/classes
configFiles: [application.properties]
`

func TestFileSource_Load(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "devreload.yaml")
	if err := os.WriteFile(fp, []byte(sourceYAML), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewFileSource(fp)
	src.lookup = func(k string) (string, bool) {
		if k == EnvSourcesDir {
			return "src/main/java", true
		}
		return "", false
	}

	cfg, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Classes != "target/classes" {
		t.Errorf("unexpected classes dir %q", cfg.Paths.Classes)
	}
	if cfg.Paths.Sources != "src/main/java" {
		t.Errorf("expected env override, got %q", cfg.Paths.Sources)
	}
	if src.Name() != "file:"+fp || src.Path() != fp {
		t.Errorf("unexpected name/path %q %q", src.Name(), src.Path())
	}
}

func TestFileSource_Hash(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "devreload.yaml")
	if err := os.WriteFile(fp, []byte(sourceYAML), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := NewFileSource(fp)

	h1, err := src.Hash(context.Background())
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if len(h1) != 64 {
		t.Errorf("expected sha256 hex, got %q", h1)
	}

	if err := os.WriteFile(fp, []byte(sourceYAML+"scanInterval: 1s\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h2, _ := src.Hash(context.Background())
	if h1 == h2 {
		t.Error("expected hash to change with content")
	}
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := src.Load(context.Background()); err == nil || !strings.Contains(err.Error(), "file source") {
		t.Errorf("expected file source error, got %v", err)
	}
	if _, err := src.Hash(context.Background()); err == nil {
		t.Error("expected hash error")
	}
}
