package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteCanonicalAtomic serializes v canonically and writes it via temp file +
// rename, so a crashed build never leaves a half-written artifact behind.
func WriteCanonicalAtomic(path string, v any) error {
	data, err := MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	return WriteBytesAtomic(path, data)
}

// WriteBytesAtomic writes pre-serialized content via temp file + rename.
func WriteBytesAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
