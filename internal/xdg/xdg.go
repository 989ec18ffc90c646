// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

// Package xdg locates authd's files under the XDG Base Directory layout.
package xdg

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "authd"

// ConfigFileName is the file FindConfig looks for.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for authd.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_HOME_UNKNOWN").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// FindConfig returns the path of config.yaml in the config directory, or ""
// when there is none.
func FindConfig() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	case err != nil:
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	case info.IsDir():
		return "", oops.Code("CONFIG_READ_FAILED").With("path", path).Errorf("config path is a directory")
	}
	return path, nil
}
