package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const (
	AppName = "marketplace"
)

// GetWorkspaceDir returns the root directory for all runtime data (WAL,
// snapshots, logs, lock file). A local "_workspace" directory wins;
// otherwise the OS data directory is used.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}

	return filepath.Join(baseDir, AppName)
}

// ResolveDataPaths fills empty storage and logging paths with locations
// under the workspace directory.
func ResolveDataPaths(cfg *Config, workDir string) {
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(workDir, "events.db")
	}
	if cfg.Storage.SnapshotDir == "" {
		cfg.Storage.SnapshotDir = filepath.Join(workDir, "snapshots")
	}
}

// EnsureDir creates the directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile claims the workspace for this process. It fails if another
// instance holds the lock; the returned closer releases it.
func CreateLockFile(workDir string) (func(), error) {
	lockPath := filepath.Join(workDir, "instance.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}
	f.WriteString(strconv.Itoa(os.Getpid()))
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds name in ./configs, then in the OS config dir.
// The ./configs path is returned when neither exists, so the caller's
// error names the expected location.
func ResolveConfigPath(name string) string {
	defaultPath := filepath.Join("configs", name)
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	if configRoot, err := os.UserConfigDir(); err == nil {
		osPath := filepath.Join(configRoot, AppName, name)
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}
	return defaultPath
}
