// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrReadOnlyMode is returned when a write is attempted in read-only mode.
var ErrReadOnlyMode = errors.New("read-only environment: write operations disabled")

// SecureWrite replaces path with data atomically: it writes a uniquely named
// temp file next to path, fsyncs it and renames it over the target, so readers
// see either the old or the new content and never a torn file.
//
// A nil sb is allowed. A read-only sb returns ErrReadOnlyMode without touching
// the filesystem. perm defaults to 0600.
func SecureWrite(sb *StateBox, path string, data []byte, perm os.FileMode) error {
	if sb.IsReadOnly() {
		return ErrReadOnlyMode
	}
	if perm == 0 {
		perm = 0600
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%s", path, uuid.NewString())
	if err := writeSynced(tempPath, data, perm); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}
	if err := syncDir(dir); err != nil {
		log.Debugf("failed to sync directory %s: %v", dir, err)
	}
	return nil
}

// SecureWriteJSON encodes v as indented JSON and writes it with SecureWrite.
func SecureWriteJSON(sb *StateBox, path string, v any, perm os.FileMode) error {
	data, err := MarshalIndentJSON(v)
	if err != nil {
		return err
	}
	return SecureWrite(sb, path, data, perm)
}

// MarshalIndentJSON is the encoding SecureWriteJSON uses, with a trailing newline.
func MarshalIndentJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

// syncDir makes the rename durable on filesystems that need it. Best effort.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
