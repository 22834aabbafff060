package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigSource provides the dev configuration from a backend.
// Implementations must be safe for concurrent use.
type ConfigSource interface {
	// Load retrieves the current configuration.
	Load(ctx context.Context) (*DevConfig, error)

	// Hash returns a content-addressable hash of the current config.
	Hash(ctx context.Context) (string, error)

	// Name returns a human-readable identifier for this source.
	Name() string
}

// ConfigChangeEvent is emitted when a ConfigSource detects a change.
type ConfigChangeEvent struct {
	Source  string
	OldHash string
	NewHash string
	Config  *DevConfig
	Time    time.Time
}

// HashConfig returns the SHA256 hex digest of the YAML-serialized config.
func HashConfig(cfg *DevConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
