package samplelib

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backup copies the library's current on-disk file into dir with a
// timestamped name and verifies the copy by reading it back. Calibration
// refuses to mutate the library unless this succeeds. Returns the backup
// path, or "" if no file exists yet.
func (l *Library) Backup(dir string) (string, error) {
	src, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read library for backup: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("sample_library_%s.json", time.Now().UTC().Format("20060102T150405"))
	dst := filepath.Join(dir, name)

	if err := os.WriteFile(dst, src, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	// Verify by reading back; a torn or failed copy must not pass.
	written, err := os.ReadFile(dst)
	if err != nil {
		return "", fmt.Errorf("verify backup: %w", err)
	}
	if !bytes.Equal(src, written) {
		return "", fmt.Errorf("backup verification failed: %s differs from source", dst)
	}

	return dst, nil
}
