// Package constants provides named constants used throughout the rmpgen codebase.
// This centralizes defaults and file-naming conventions shared by the CLI,
// configuration loader and batch scheduler.
package constants

import "time"

// Base configuration file names looked up inside PROP_FILE_DIRECTORY.
const (
	// ConfigFileYAML is the preferred configuration document.
	ConfigFileYAML = "rmpgen.yaml"

	// ConfigFileProp is the legacy XML properties document.
	// It is only read when ConfigFileYAML does not exist.
	ConfigFileProp = "simSpecificSim.prop"
)

// Batch scheduling defaults.
const (
	// DefaultBatchTimeout is the ceiling the scheduler waits for outstanding
	// runs before reporting a timeout warning.
	DefaultBatchTimeout = 48 * time.Hour

	// DefaultGenSetting enables all three generation stages.
	DefaultGenSetting = 0b111
)

// Location map companion file suffixes. The companions live next to the
// base connection file and share its stem.
const (
	NodeInfoSuffix       = "_NodeInfo.csv"
	LegacyNodeInfoSuffix = "_NoteInfo.csv"
	AwaySuffix           = "_Away.csv"
)

// Files the driver itself writes into the base directory.
const (
	// LedgerFileName is the SQLite run ledger.
	LedgerFileName = "rmpgen-ledger.db"

	// EventsFileName receives JSONL run events at debug level and below.
	EventsFileName = "rmpgen-events.jsonl"

	// BackupDirName holds ledger snapshots taken by "runs backup".
	BackupDirName = "rmpgen-backups"
)

// Environment variables passed to external stage commands.
const (
	EnvSeed        = "RMPGEN_SEED"
	EnvStage       = "RMPGEN_STAGE"
	EnvBaseDir     = "RMPGEN_BASE_DIR"
	EnvLocationMap = "RMPGEN_LOCATION_MAP"
	EnvRunIndex    = "RMPGEN_RUN_INDEX"
)
