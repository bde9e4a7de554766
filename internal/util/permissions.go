// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Required modes inside the state directory.
const (
	dirMode       os.FileMode = 0o700
	sensitiveMode os.FileMode = 0o600
)

// AuditResult describes one path whose mode was checked.
type AuditResult struct {
	Path         string
	CurrentMode  os.FileMode
	RequiredMode os.FileMode
	WasCorrected bool
	Err          error
}

// NeedsCorrection reports whether the path is looser than required.
func (r AuditResult) NeedsCorrection() bool {
	return r.Err == nil && r.CurrentMode != r.RequiredMode && !r.WasCorrected
}

// AuditPermissions walks the state directory without modifying it.
// Directories must be 0700; cache snapshots and databases must be 0600.
func AuditPermissions(sb *StateBox) ([]AuditResult, error) {
	return walkPermissions(sb, false)
}

// HardenPermissions corrects every mode AuditPermissions would flag. A
// missing root is not an error; individual chmod failures are logged.
func HardenPermissions(sb *StateBox) error {
	if sb != nil && sb.IsReadOnly() {
		return nil
	}
	results, err := walkPermissions(sb, true)
	if err != nil {
		return err
	}
	corrected, failed := 0, 0
	for _, r := range results {
		switch {
		case r.WasCorrected:
			corrected++
		case r.Err != nil:
			failed++
		}
	}
	if corrected > 0 {
		log.Infof("permission hardening: corrected %d paths under %s", corrected, sb.RootPath())
	}
	if failed > 0 {
		log.Warnf("permission hardening: %d paths could not be checked or corrected", failed)
	}
	return nil
}

func walkPermissions(sb *StateBox, fix bool) ([]AuditResult, error) {
	if sb == nil {
		return nil, errors.New("state box is nil")
	}
	root := sb.RootPath()
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var results []AuditResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("permission audit: failed to access %s: %v", path, err)
			results = append(results, AuditResult{Path: path, Err: err})
			return nil
		}
		required, ok := requiredMode(path, d.IsDir())
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			results = append(results, AuditResult{Path: path, Err: err})
			return nil
		}
		r := AuditResult{Path: path, CurrentMode: info.Mode().Perm(), RequiredMode: required}
		if fix && r.CurrentMode != required {
			if errChmod := os.Chmod(path, required); errChmod != nil {
				r.Err = errChmod
				log.Warnf("permission hardening: chmod %s to %04o: %v", path, required, errChmod)
			} else {
				r.WasCorrected = true
			}
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("failed to walk state directory: %w", err)
	}
	return results, nil
}

func requiredMode(path string, dir bool) (os.FileMode, bool) {
	if dir {
		return dirMode, true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".db", ".sqlite", ".sqlite3":
		return sensitiveMode, true
	}
	return 0, false
}
