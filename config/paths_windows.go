//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func programData() string {
	if p := os.Getenv("PROGRAMDATA"); p != "" {
		return p
	}
	return "C:\\ProgramData"
}

// GetDefaultConfigLocation returns the default configuration file path for Windows.
func GetDefaultConfigLocation() string {
	return filepath.Join(programData(), "Kiwi", "config.yml")
}

// GetDefaultDatabasePath returns the default sqlite database path for Windows.
func GetDefaultDatabasePath() string {
	return filepath.Join(programData(), "Kiwi", "kiwi.db")
}
