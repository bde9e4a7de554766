// Copyright 2026 The autoheal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// LoadDotEnv loads dir/.env into the process environment if present.
// Variables already set in the environment win over the file.
func LoadDotEnv(dir string) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Errorf("failed to get working directory: %v", err)
			return
		}
		dir = wd
	}
	if errLoad := godotenv.Load(filepath.Join(dir, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}
}
