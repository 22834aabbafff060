package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// ConfigDiff classifies the differences between two dev configs.
type ConfigDiff struct {
	// ConfigFiles is true when the tracked config file set changed.
	ConfigFiles bool
	// ScanInterval is true when the scan interval changed.
	ScanInterval bool
	// Rebuild names the sections whose change requires rebuilding the engine.
	Rebuild []string
	// Restart names the sections that only take effect after a process
	// restart of devreload itself.
	Restart []string
}

// Empty reports whether nothing relevant changed.
func (d *ConfigDiff) Empty() bool {
	return !d.ConfigFiles && !d.ScanInterval && len(d.Rebuild) == 0 && len(d.Restart) == 0
}

// Partial reports whether the change can be applied to a running engine.
func (d *ConfigDiff) Partial() bool {
	return len(d.Rebuild) == 0 && (d.ConfigFiles || d.ScanInterval)
}

// DiffConfigs compares two dev configs section by section.
func DiffConfigs(old, new *DevConfig) *ConfigDiff {
	diff := &ConfigDiff{
		ConfigFiles:  !slices.Equal(old.ConfigFiles, new.ConfigFiles),
		ScanInterval: old.ScanInterval != new.ScanInterval,
	}

	rebuild := []struct {
		name     string
		old, new any
	}{
		{"paths", old.Paths, new.Paths},
		{"sourceExtensions", old.SourceExtensions, new.SourceExtensions},
		{"compiler", old.Compiler, new.Compiler},
		{"app", old.App, new.App},
	}
	for _, s := range rebuild {
		if hashAny(s.old) != hashAny(s.new) {
			diff.Rebuild = append(diff.Rebuild, s.name)
		}
	}

	restart := []struct {
		name     string
		old, new any
	}{
		{"server", old.Server, new.Server},
		{"log", old.Log, new.Log},
		{"tracing", old.Tracing, new.Tracing},
		{"metrics", old.Metrics, new.Metrics},
	}
	for _, s := range restart {
		if hashAny(s.old) != hashAny(s.new) {
			diff.Restart = append(diff.Restart, s.name)
		}
	}
	return diff
}

func hashAny(v any) string {
	if v == nil {
		return "nil"
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
