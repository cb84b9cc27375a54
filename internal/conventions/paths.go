package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default slotrunner data directory name (relative to home).
	DefaultDataDir = ".slotrunner"
	// DBFile is the run history SQLite database filename.
	DBFile = "slotrunner.db"
	// SettingsFile is the optional settings filename.
	SettingsFile = "settings.yaml"
	// EnvFile is the optional dotenv filename with the secrets.
	EnvFile = ".env"
	// SnapshotsDir is the subdirectory for the diagnostic browser snapshots.
	SnapshotsDir = "snapshots"

	// EnvPrefix is the prefix of the environment variables that set flags.
	EnvPrefix = "SLOTRUNNER_"
)

// DBPath returns the run history database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// SettingsPath returns the settings file path.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, SettingsFile)
}

// EnvPath returns the dotenv file path.
func EnvPath(dataDir string) string {
	return filepath.Join(dataDir, EnvFile)
}

// SnapshotDir returns the diagnostic snapshots directory.
func SnapshotDir(dataDir string) string {
	return filepath.Join(dataDir, SnapshotsDir)
}
