// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides filesystem helpers shared by autoheal components.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvStateDir overrides the state directory.
	EnvStateDir = "AUTOHEAL_STATE_DIR"

	// EnvReadOnly disables every write under the state directory when set to "1".
	EnvReadOnly = "AUTOHEAL_READONLY"

	defaultStateDir = "~/.autoheal"
)

// StateBox is the root directory for autoheal's mutable data: the selector
// cache snapshots and rotated logs.
type StateBox struct {
	rootPath string
	readOnly bool
}

// NewStateBox resolves the state directory from AUTOHEAL_STATE_DIR, falling
// back to ~/.autoheal. AUTOHEAL_READONLY=1 puts the box in read-only mode.
func NewStateBox() (*StateBox, error) {
	return NewStateBoxAt("")
}

// NewStateBoxAt uses root when non-empty and otherwise behaves like NewStateBox.
func NewStateBoxAt(root string) (*StateBox, error) {
	if root == "" {
		root = os.Getenv(EnvStateDir)
	}
	if root == "" {
		root = defaultStateDir
	}
	resolved, err := ExpandPath(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state directory: %w", err)
	}
	return &StateBox{
		rootPath: resolved,
		readOnly: os.Getenv(EnvReadOnly) == "1",
	}, nil
}

// RootPath returns the resolved root directory.
func (sb *StateBox) RootPath() string { return sb.rootPath }

// IsReadOnly reports whether writes are disabled.
func (sb *StateBox) IsReadOnly() bool { return sb != nil && sb.readOnly }

// CacheDir is where the file cache keeps its snapshots.
func (sb *StateBox) CacheDir() string { return filepath.Join(sb.rootPath, "cache") }

// LogsDir is where rotated log files go.
func (sb *StateBox) LogsDir() string { return filepath.Join(sb.rootPath, "logs") }

// ResolvePath joins a relative path with the root. Absolute and ~-prefixed
// paths are expanded and returned without joining.
func (sb *StateBox) ResolvePath(p string) string {
	if p == "" {
		return sb.rootPath
	}
	if strings.HasPrefix(p, "~") || filepath.IsAbs(p) {
		expanded, err := ExpandPath(p)
		if err != nil {
			return filepath.Clean(p)
		}
		return expanded
	}
	return filepath.Join(sb.rootPath, p)
}

// EnsureDir creates path with 0700 permissions unless it already exists.
// In read-only mode the directory must already exist.
func (sb *StateBox) EnsureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", path)
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("failed to stat directory %s: %w", path, err)
	case sb.IsReadOnly():
		return ErrReadOnlyMode
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory and cleans the result.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, p[1:]), nil
	}
	return filepath.Clean(p), nil
}
