package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default client data directory based on the host
// OS, falling back to a dotdir in the user's home directory.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "spotsync")
	}

	// macOS: ~/Library/Application Support/Spotsync
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Spotsync")
	}

	// Windows: %USERPROFILE%/AppData/Local/Spotsync
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Spotsync")
	}

	return filepath.Join(homeDir, ".spotsync")
}

// DefaultRelayDataDir is where `spotsync relay start` keeps its store.
func DefaultRelayDataDir() string {
	return filepath.Join(DefaultDataDir(), "relay")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
