//go:build !windows

package config

// GetDefaultConfigLocation returns the default configuration file path.
func GetDefaultConfigLocation() string {
	return "/etc/kiwi/config.yml"
}

// GetDefaultDatabasePath returns the default sqlite database path.
func GetDefaultDatabasePath() string {
	return "/var/lib/kiwi/kiwi.db"
}
