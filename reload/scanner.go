package reload

import (
	"context"
	"time"

	"github.com/GoCodeAlone/devreload/scan"
)

// Scanner detects files changed after a watermark.
type Scanner interface {
	// ScanSources returns changed source files. Implementations without a
	// source root return nil.
	ScanSources(watermark time.Time) ([]string, error)
	// ScanClasses returns changed classes keyed by fully-qualified name.
	ScanClasses(ctx context.Context, watermark time.Time) (map[string][]byte, error)
}

// FSScanner scans the build's source and class output trees on disk.
type FSScanner struct {
	SourceRoot       string
	ClassRoot        string
	SourceExtensions []string
}

// ScanSources implements Scanner.
func (s *FSScanner) ScanSources(watermark time.Time) ([]string, error) {
	exts := s.SourceExtensions
	if len(exts) == 0 {
		exts = scan.DefaultSourceExtensions
	}
	return scan.Sources(s.SourceRoot, exts, s.ClassRoot, watermark)
}

// ScanClasses implements Scanner.
func (s *FSScanner) ScanClasses(ctx context.Context, watermark time.Time) (map[string][]byte, error) {
	return scan.Classes(ctx, s.ClassRoot, watermark)
}
