package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/opm/internal/config"
)

// opmHome returns the opm state directory (~/.opm), creating it if needed.
func opmHome() (string, error) {
	dir := config.Dir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine home directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// daemonLogPath is where a detached daemon writes its log.
func daemonLogPath() (string, error) {
	dir, err := opmHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}
