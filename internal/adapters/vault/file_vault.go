// Package vault persists minted bundles: one immutable JSON file per mint,
// plus an optional Postgres audit archive.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// FileVault writes bundles under a single directory. Writes go to a temp
// file first and are renamed into place so a crash never leaves a partial
// bundle; an existing file is never rewritten.
type FileVault struct {
	dir string
}

func NewFileVault(dir string) (*FileVault, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create %s: %w", dir, err)
	}
	return &FileVault{dir: dir}, nil
}

func (v *FileVault) Store(b *domain.Bundle) (string, error) {
	if b == nil || b.BundleID == "" {
		return "", fmt.Errorf("vault: bundle with id is required")
	}

	short := b.BundleID
	if len(short) > 8 {
		short = short[:8]
	}
	path := filepath.Join(v.dir, fmt.Sprintf("bundle_%d_%s.json", b.Timestamp.Unix(), short))

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("vault: %s already exists", path)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("vault: marshal bundle: %w", err)
	}

	tmp, err := os.CreateTemp(v.dir, ".bundle-*.tmp")
	if err != nil {
		return "", fmt.Errorf("vault: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: write bundle: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: chmod bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: close bundle: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("vault: rename bundle: %w", err)
	}
	return path, nil
}

var _ ports.BundleVault = (*FileVault)(nil)
