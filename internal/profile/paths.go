package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.loom.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loom")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// TokenPath returns the bearer-token file path for a profile.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// ArchiveDBPath returns the local history cache path for a profile.
func ArchiveDBPath(name string) string {
	return filepath.Join(Dir(name), "history.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "loom.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
