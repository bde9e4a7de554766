// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/traylinx/autoheal/internal/cache"
	"github.com/traylinx/autoheal/internal/util"
)

// StateBoxStatus represents the State Box status for API responses.
type StateBoxStatus struct {
	RootPath         string      `json:"root_path"`
	ReadOnly         bool        `json:"read_only"`
	Initialized      bool        `json:"initialized"`
	SelectorCache    *FileStatus `json:"selector_cache,omitempty"`
	CacheMetrics     *FileStatus `json:"cache_metrics,omitempty"`
	PermissionStatus string      `json:"permission_status"` // "ok", "warning", "error"
	Warnings         []string    `json:"warnings,omitempty"`
	Errors           []string    `json:"errors,omitempty"`
}

// FileStatus represents the status of a State Box file.
type FileStatus struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

func getFileStatus(path string) *FileStatus {
	status := &FileStatus{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return status
	}
	status.Exists = true
	status.Size = info.Size()
	status.Mode = info.Mode().String()
	status.ModTime = info.ModTime()
	return status
}

// StateBoxStatusHandler returns a handler for the /api/state-box/status endpoint.
// It reports the state directory and the file cache snapshots it holds.
func StateBoxStatusHandler(sb *util.StateBox) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sb == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "State Box not initialized"})
			return
		}

		status := &StateBoxStatus{
			RootPath:         sb.RootPath(),
			ReadOnly:         sb.IsReadOnly(),
			Initialized:      true,
			PermissionStatus: "ok",
			Warnings:         []string{},
			Errors:           []string{},
		}

		if _, err := os.Stat(sb.RootPath()); err != nil {
			if os.IsNotExist(err) {
				status.Warnings = append(status.Warnings, "State Box root directory does not exist")
				status.PermissionStatus = "warning"
			} else {
				status.Errors = append(status.Errors, "Failed to access State Box root directory")
				status.PermissionStatus = "error"
			}
		}

		status.SelectorCache = getFileStatus(filepath.Join(sb.CacheDir(), cache.EntriesFile))
		status.CacheMetrics = getFileStatus(filepath.Join(sb.CacheDir(), cache.MetricsFile))

		for name, fs := range map[string]*FileStatus{"Selector cache": status.SelectorCache, "Cache metrics": status.CacheMetrics} {
			if !fs.Exists {
				continue
			}
			info, err := os.Stat(fs.Path)
			if err != nil {
				continue
			}
			// Snapshots are written 0600.
			if info.Mode().Perm()&0o077 != 0 {
				status.Warnings = append(status.Warnings, name+" has overly permissive permissions")
				if status.PermissionStatus == "ok" {
					status.PermissionStatus = "warning"
				}
			}
		}

		c.JSON(http.StatusOK, status)
	}
}
