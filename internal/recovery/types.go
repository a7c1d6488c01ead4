// Package recovery keeps checksummed backups of the seed state and decides
// when a backup may be restored. It only ever reads live state; applying a
// restored snapshot is the host's call.
package recovery

import (
	"errors"

	"github.com/tiangong-vis/coordinator/internal/seed"
)

// #region config

// Config tunes backup cadence, retention, and the rollback gate.
type Config struct {
	EnableBackup      bool   `yaml:"enable_backup"`
	BackupInterval    int64  `yaml:"backup_interval_ms"`
	MaxBackups        int    `yaml:"max_backups"`
	EnableMigration   bool   `yaml:"enable_migration"`
	MigrationVersion  string `yaml:"migration_version"`
	EnableRollback    bool   `yaml:"enable_rollback"`
	RollbackThreshold int    `yaml:"rollback_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EnableBackup:      true,
		BackupInterval:    300_000, // 5 minutes
		MaxBackups:        10,
		EnableMigration:   true,
		MigrationVersion:  "1.0.0",
		EnableRollback:    true,
		RollbackThreshold: 3,
	}
}

const (
	// backupMaxAge is the oldest a backup may be and still be restored.
	backupMaxAge = 24 * 60 * 60 * 1000 // ms
	// cleanupMaxAge is when CleanupExpiredBackups discards a backup.
	cleanupMaxAge = 7 * 24 * 60 * 60 * 1000 // ms
	// stableQualityFloor and stableEntropyFloor define a rollback-worthy
	// backup.
	stableQualityFloor = 0.8
	stableEntropyFloor = 0.7
)

// #endregion config

// #region types

// Backup is one checksummed snapshot. Field names are fixed by the
// on-disk JSON format.
type Backup struct {
	ID          string     `json:"id"`
	Timestamp   int64      `json:"timestamp"` // unix ms
	Version     string     `json:"version"`
	State       seed.State `json:"state"`
	Checksum    string     `json:"checksum"`
	Description string     `json:"description"`
}

// valid reports whether a decoded backup is structurally usable. Checksum
// verification happens separately at restore time.
func (b Backup) valid() bool {
	return b.ID != "" && b.Timestamp > 0 && b.Version != "" && b.Checksum != ""
}

// Result reports the outcome of a restore, rollback, or migration.
type Result struct {
	Success        bool        `json:"success"`
	RecoveredState *seed.State `json:"recoveredState,omitempty"`
	BackupUsed     *Backup     `json:"backupUsed,omitempty"`
	Error          string      `json:"error,omitempty"`
	Warnings       []string    `json:"warnings"`
}

// #endregion types

// #region errors

var (
	// ErrNoBackup means no backup matched, or none passed validation.
	ErrNoBackup = errors.New("no usable backup")
	// ErrIntegrity means a backup failed its checksum or age check.
	ErrIntegrity = errors.New("backup integrity check failed")
	// ErrThresholdNotMet means the error count has not reached the
	// rollback threshold.
	ErrThresholdNotMet = errors.New("error count below rollback threshold")
	// ErrRollbackDisabled is returned when rollback is configured off.
	ErrRollbackDisabled = errors.New("rollback disabled")
	// ErrMigrationDisabled is returned when migration is configured off.
	ErrMigrationDisabled = errors.New("migration disabled")
)

// #endregion errors
