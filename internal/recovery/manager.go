package recovery

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiangong-vis/coordinator/internal/bus"
	"github.com/tiangong-vis/coordinator/internal/sched"
	"github.com/tiangong-vis/coordinator/internal/seed"
	"github.com/tiangong-vis/coordinator/internal/store"
)

// #region events

// BackupCreated is the payload of recovery:backup_created.
type BackupCreated struct {
	Backup Backup `json:"backup"`
}

// BackupFailed is the payload of recovery:backup_failed.
type BackupFailed struct {
	Error string `json:"error"`
}

// StateRecovered is the payload of recovery:state_recovered.
type StateRecovered struct {
	Backup Backup `json:"backup"`
	Result Result `json:"result"`
}

// RecoveryFailed is the payload of recovery:recovery_failed.
type RecoveryFailed struct {
	Error string `json:"error"`
}

// ManagerReady is the payload of recovery:manager_ready.
type ManagerReady struct {
	BackupCount int `json:"backupCount"`
}

// #endregion events

// #region manager

// StateSource provides read-only access to the live seed state.
type StateSource interface {
	State() seed.State
}

const autoBackupTask = "recovery-auto-backup"

// Manager owns the backup list and the rollback error counter.
type Manager struct {
	cfg    Config
	log    *zap.Logger
	router *bus.Router
	store  store.Store
	sched  *sched.Scheduler
	source StateSource

	mu             sync.Mutex
	backups        []Backup
	errorCount     int
	lastBackupTime int64
	unsubs         []func()
}

// NewManager wires the manager but does not touch the store; call Init.
func NewManager(cfg Config, source StateSource, st store.Store, router *bus.Router, sc *sched.Scheduler, log *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		log:    log,
		router: router,
		store:  st,
		sched:  sc,
		source: source,
	}
}

// Init loads persisted backups, attaches the event triggers, and starts
// the backup timer when backups are enabled.
func (m *Manager) Init() error {
	m.mu.Lock()
	m.backups = m.loadBackups()
	count := len(m.backups)
	m.mu.Unlock()

	m.unsubs = append(m.unsubs,
		m.router.Subscribe(bus.NamespaceRandom, "seed_changed", func(bus.Event) {
			m.maybeBackup("seed change")
		}),
		m.router.Subscribe(bus.NamespaceApp, "state_change", func(bus.Event) {
			m.maybeBackup("app state change")
		}),
		m.router.Subscribe(bus.NamespaceSystem, "error", func(bus.Event) {
			m.RecordError()
		}),
	)

	if m.cfg.EnableBackup {
		interval := time.Duration(m.cfg.BackupInterval) * time.Millisecond
		if err := m.sched.Every(autoBackupTask, interval, func() {
			if _, err := m.CreateBackup("scheduled backup"); err != nil {
				m.log.Warn("scheduled backup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule auto backup: %w", err)
		}
	}

	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRecovery,
		Type:      "manager_ready",
		Timestamp: bus.Now(),
		Data:      ManagerReady{BackupCount: count},
	})
	m.log.Info("recovery manager ready", zap.Int("backups", count))
	return nil
}

// loadBackups decodes the persisted list, dropping malformed entries.
func (m *Manager) loadBackups() []Backup {
	raw, err := m.store.Get(store.KeyRandomBackups)
	if err != nil {
		if err != store.ErrNotFound {
			m.log.Warn("load backups failed", zap.Error(err))
		}
		return nil
	}
	var decoded []Backup
	if err := json.Unmarshal(raw, &decoded); err != nil {
		m.log.Warn("persisted backups malformed", zap.Error(err))
		return nil
	}
	kept := decoded[:0]
	for _, b := range decoded {
		if b.valid() {
			kept = append(kept, b)
		}
	}
	if len(kept) < len(decoded) {
		m.log.Warn("dropped malformed backups", zap.Int("dropped", len(decoded)-len(kept)))
	}
	return kept
}

// #endregion manager

// #region backup

// CreateBackup snapshots the live state and prepends it to the backup
// list, pruning to the retention cap.
func (m *Manager) CreateBackup(description string) (Backup, error) {
	state := m.source.State()
	backup := Backup{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
		Version:     m.cfg.MigrationVersion,
		State:       state,
		Checksum:    Checksum(state),
		Description: description,
	}

	m.mu.Lock()
	m.backups = append([]Backup{backup}, m.backups...)
	if len(m.backups) > m.cfg.MaxBackups {
		m.backups = m.backups[:m.cfg.MaxBackups]
	}
	err := m.persistLocked()
	if err == nil {
		m.lastBackupTime = backup.Timestamp
	}
	m.mu.Unlock()

	if err != nil {
		m.router.Publish(bus.Event{
			Namespace: bus.NamespaceRecovery,
			Type:      "backup_failed",
			Timestamp: bus.Now(),
			Data:      BackupFailed{Error: err.Error()},
		})
		return Backup{}, fmt.Errorf("persist backup: %w", err)
	}

	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRecovery,
		Type:      "backup_created",
		Timestamp: bus.Now(),
		Data:      BackupCreated{Backup: backup},
	})
	m.log.Debug("backup created",
		zap.String("id", backup.ID),
		zap.String("description", description))
	return backup, nil
}

// maybeBackup creates an event-triggered backup unless one was taken
// within the backup interval.
func (m *Manager) maybeBackup(reason string) {
	if !m.cfg.EnableBackup {
		return
	}
	m.mu.Lock()
	due := time.Now().UnixMilli()-m.lastBackupTime > m.cfg.BackupInterval
	m.mu.Unlock()
	if !due {
		return
	}
	if _, err := m.CreateBackup(reason); err != nil {
		m.log.Warn("triggered backup failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (m *Manager) persistLocked() error {
	raw, err := json.Marshal(m.backups)
	if err != nil {
		return err
	}
	return m.store.Put(store.KeyRandomBackups, raw)
}

// #endregion backup

// #region recover

// RecoverState restores from the named backup, or from the newest backup
// passing integrity checks when id is empty. The live state is never
// touched; the caller decides what to do with the returned snapshot.
func (m *Manager) RecoverState(id string) (Result, error) {
	backup, err := m.selectBackup(id)
	if err != nil {
		return m.failRecovery(err)
	}

	result := Result{
		Success:        true,
		RecoveredState: &backup.State,
		BackupUsed:     &backup,
		Warnings:       []string{},
	}
	if backup.Version != m.cfg.MigrationVersion {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"version mismatch: backup %s, current %s", backup.Version, m.cfg.MigrationVersion))
	}

	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRecovery,
		Type:      "state_recovered",
		Timestamp: bus.Now(),
		Data:      StateRecovered{Backup: backup, Result: result},
	})
	m.log.Info("state recovered", zap.String("backup", backup.ID))
	return result, nil
}

func (m *Manager) selectBackup(id string) (Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		for _, b := range m.backups {
			if b.ID == id {
				if !m.integrityOK(b) {
					return Backup{}, fmt.Errorf("%w: %s", ErrIntegrity, id)
				}
				return b, nil
			}
		}
		return Backup{}, fmt.Errorf("%w: %s", ErrNoBackup, id)
	}

	// Backups are newest-first.
	for _, b := range m.backups {
		if m.integrityOK(b) {
			return b, nil
		}
	}
	return Backup{}, ErrNoBackup
}

// integrityOK verifies the checksum and rejects backups past the restore
// age limit.
func (m *Manager) integrityOK(b Backup) bool {
	if Checksum(b.State) != b.Checksum {
		m.log.Warn("backup checksum mismatch", zap.String("id", b.ID))
		return false
	}
	if time.Now().UnixMilli()-b.Timestamp > backupMaxAge {
		m.log.Warn("backup too old to restore", zap.String("id", b.ID))
		return false
	}
	return true
}

func (m *Manager) failRecovery(err error) (Result, error) {
	m.router.Publish(bus.Event{
		Namespace: bus.NamespaceRecovery,
		Type:      "recovery_failed",
		Timestamp: bus.Now(),
		Data:      RecoveryFailed{Error: err.Error()},
	})
	m.log.Warn("recovery failed", zap.Error(err))
	return Result{Success: false, Error: err.Error(), Warnings: []string{}}, err
}

// #endregion recover

// #region rollback

// Rollback restores the newest stable backup once enough errors have
// accumulated, then resets the error counter.
func (m *Manager) Rollback() (Result, error) {
	if !m.cfg.EnableRollback {
		return m.failRecovery(ErrRollbackDisabled)
	}

	m.mu.Lock()
	if m.errorCount < m.cfg.RollbackThreshold {
		m.mu.Unlock()
		return m.failRecovery(ErrThresholdNotMet)
	}
	var target string
	for _, b := range m.backups {
		if b.State.RandomQuality > stableQualityFloor && b.State.EntropyLevel > stableEntropyFloor {
			target = b.ID
			break
		}
	}
	m.mu.Unlock()

	if target == "" {
		return m.failRecovery(fmt.Errorf("%w: no stable backup", ErrNoBackup))
	}

	result, err := m.RecoverState(target)
	if err != nil {
		return result, err
	}

	m.mu.Lock()
	m.errorCount = 0
	m.mu.Unlock()
	m.log.Info("rollback complete", zap.String("backup", target))
	return result, nil
}

// RecordError advances the rollback counter. Also driven by system:error
// events.
func (m *Manager) RecordError() {
	m.mu.Lock()
	m.errorCount++
	count := m.errorCount
	m.mu.Unlock()

	if m.cfg.EnableRollback && count >= m.cfg.RollbackThreshold {
		m.log.Warn("error count reached rollback threshold", zap.Int("errors", count))
	}
}

// ErrorCount returns the current rollback counter.
func (m *Manager) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorCount
}

// #endregion rollback

// #region migrate

// MigrateState re-tags the live snapshot with targetVersion and records a
// migration backup.
func (m *Manager) MigrateState(targetVersion string) (Result, error) {
	if !m.cfg.EnableMigration {
		return Result{Success: false, Error: ErrMigrationDisabled.Error(), Warnings: []string{}}, ErrMigrationDisabled
	}

	migrated := m.source.State()
	backup, err := m.CreateBackup(fmt.Sprintf("migrated to %s", targetVersion))
	if err != nil {
		return Result{Success: false, Error: err.Error(), Warnings: []string{}}, err
	}

	return Result{
		Success:        true,
		RecoveredState: &migrated,
		BackupUsed:     &backup,
		Warnings:       []string{fmt.Sprintf("state migrated to version %s", targetVersion)},
	}, nil
}

// #endregion migrate

// #region housekeeping

// CleanupExpiredBackups drops backups past the retention age and returns
// how many were removed.
func (m *Manager) CleanupExpiredBackups() int {
	now := time.Now().UnixMilli()

	m.mu.Lock()
	kept := m.backups[:0]
	for _, b := range m.backups {
		if now-b.Timestamp < cleanupMaxAge {
			kept = append(kept, b)
		}
	}
	removed := len(m.backups) - len(kept)
	m.backups = kept
	if removed > 0 {
		if err := m.persistLocked(); err != nil {
			m.log.Warn("persist after cleanup failed", zap.Error(err))
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.log.Info("expired backups removed", zap.Int("count", removed))
	}
	return removed
}

// Backups returns a copy of the list, newest first.
func (m *Manager) Backups() []Backup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Backup, len(m.backups))
	copy(out, m.backups)
	return out
}

// DeleteBackup removes one backup by ID.
func (m *Manager) DeleteBackup(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.backups {
		if b.ID == id {
			m.backups = append(m.backups[:i], m.backups[i+1:]...)
			if err := m.persistLocked(); err != nil {
				m.log.Warn("persist after delete failed", zap.Error(err))
			}
			return true
		}
	}
	return false
}

// Close stops the backup timer, detaches handlers, and persists.
func (m *Manager) Close() {
	m.sched.Stop(autoBackupTask)
	for _, off := range m.unsubs {
		off()
	}
	m.unsubs = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(); err != nil {
		m.log.Warn("persist on close failed", zap.Error(err))
	}
}

// #endregion housekeeping
