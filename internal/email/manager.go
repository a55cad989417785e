package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/brandon/mailmirror/internal/cache"
	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/internal/metrics"
	"github.com/brandon/mailmirror/pkg/types"
)

// MaxFolderLimit caps the per-folder fetch size of one run
const MaxFolderLimit = 1000

// Outcome is what a sync run did with one fetched message
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeSkipped
	OutcomeDropped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// MirrorStore is the persistence the sync engine writes through
type MirrorStore interface {
	GetAccountByEmail(ctx context.Context, email string) (*types.Account, error)
	MirrorExists(ctx context.Context, ownerID int64, messageID, folder string, uid uint32) (bool, error)
	InsertMirror(ctx context.Context, msg *types.MirroredMessage) error
	DeleteSynced(ctx context.Context, ownerID int64) (int64, error)
}

// Manager runs mailbox syncs. At most one run is active per process.
type Manager struct {
	store        MirrorStore
	dialer       Dialer
	folders      Folders
	defaultLimit int
	metrics      *metrics.Metrics
	logger       *logrus.Logger

	lock    *semaphore.Weighted
	running atomic.Bool

	mu         sync.RWMutex
	connected  bool
	lastRunAt  time.Time
	lastErr    error
	lastReport *types.SyncReport

	now func() time.Time
}

// NewManager creates a new sync manager
func NewManager(cfg *config.Config, store MirrorStore, dialer Dialer, m *metrics.Metrics, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		dialer: dialer,
		folders: Folders{
			Inbox: cfg.Sync.InboxFolder,
			Sent:  cfg.Sync.SentFolder,
		},
		defaultLimit: cfg.Sync.FolderLimit,
		metrics:      m,
		logger:       logger,
		lock:         semaphore.NewWeighted(1),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SyncMailbox mirrors the most recent perFolderLimit messages of the inbox
// and sent folders into the owner's local mirror. It fails fast with
// ErrSyncInProgress when another run holds the lock.
func (m *Manager) SyncMailbox(ctx context.Context, ownerEmail string, perFolderLimit int) (*types.SyncReport, error) {
	if !m.acquire() {
		return nil, ErrSyncInProgress
	}
	defer m.release()

	owner, err := m.resolveOwner(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	return m.run(ctx, owner, perFolderLimit, uuid.NewString())
}

// StartSync takes the lock and resolves the owner, then runs the sync in the
// background. The run outlives ctx; its result is visible through Status.
func (m *Manager) StartSync(ctx context.Context, ownerEmail string, perFolderLimit int) (string, error) {
	if !m.acquire() {
		return "", ErrSyncInProgress
	}

	owner, err := m.resolveOwner(ctx, ownerEmail)
	if err != nil {
		m.release()
		return "", err
	}

	runID := uuid.NewString()
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer m.release()
		if _, err := m.run(runCtx, owner, perFolderLimit, runID); err != nil {
			m.logger.WithError(err).WithField("run_id", runID).Error("Background sync failed")
		}
	}()

	return runID, nil
}

// ForceResync deletes the owner's sync-origin rows and runs a fresh sync
// under the same lock. Locally created rows are kept.
func (m *Manager) ForceResync(ctx context.Context, ownerEmail string, perFolderLimit int) (*types.SyncReport, error) {
	if !m.acquire() {
		return nil, ErrSyncInProgress
	}
	defer m.release()

	owner, err := m.resolveOwner(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}

	deleted, err := m.store.DeleteSynced(ctx, owner.ID)
	if err != nil {
		err = fmt.Errorf("failed to clear synced messages: %w", err)
		m.finish(m.now(), nil, err)
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{
		"owner":   owner.Email,
		"deleted": deleted,
	}).Info("Cleared synced messages for resync")

	return m.run(ctx, owner, perFolderLimit, uuid.NewString())
}

// Status reports the engine state
func (m *Manager) Status() types.SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := types.SyncStatus{
		Connected:      m.connected,
		SyncInProgress: m.running.Load(),
		LastReport:     m.lastReport,
	}
	if !m.lastRunAt.IsZero() {
		at := m.lastRunAt
		status.LastRunAt = &at
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// DefaultLimit is the per-folder limit used when a caller passes none
func (m *Manager) DefaultLimit() int {
	return m.defaultLimit
}

func (m *Manager) acquire() bool {
	if !m.lock.TryAcquire(1) {
		m.metrics.RecordSyncRun(metrics.ResultRejected, 0)
		return false
	}
	m.running.Store(true)
	m.metrics.SetSyncInProgress(true)
	return true
}

func (m *Manager) release() {
	m.running.Store(false)
	m.metrics.SetSyncInProgress(false)
	m.lock.Release(1)
}

func (m *Manager) resolveOwner(ctx context.Context, email string) (types.Account, error) {
	owner, err := m.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrAccountNotFound, email)
		} else {
			err = fmt.Errorf("failed to resolve account: %w", err)
		}
		m.finish(m.now(), nil, err)
		return types.Account{}, err
	}
	return *owner, nil
}

func (m *Manager) folderLimit(n int) int {
	if n <= 0 {
		n = m.defaultLimit
	}
	if n > MaxFolderLimit {
		n = MaxFolderLimit
	}
	return n
}

// run syncs both folders with the lock already held
func (m *Manager) run(ctx context.Context, owner types.Account, perFolderLimit int, runID string) (*types.SyncReport, error) {
	limit := m.folderLimit(perFolderLimit)
	report := &types.SyncReport{
		RunID:     runID,
		Owner:     owner.Email,
		StartedAt: m.now(),
	}

	log := m.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"owner":  owner.Email,
	})
	log.WithField("limit", limit).Info("Starting mailbox sync")

	var session Session
	defer func() {
		if session == nil {
			return
		}
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to close mailbox session")
		}
		m.setConnected(false)
	}()

	folders := []struct {
		name   string
		counts *types.FolderCounts
	}{
		{m.folders.Inbox, &report.Inbox},
		{m.folders.Sent, &report.Sent},
	}

	for _, f := range folders {
		if session == nil {
			s, err := m.dialer.Dial(ctx, owner)
			if err != nil {
				return nil, m.fail(report, log, err)
			}
			session = s
			m.setConnected(true)
		}

		counts, err := m.syncFolder(ctx, session, owner, f.name, limit, log)
		*f.counts = counts
		if err != nil {
			if errors.Is(err, ErrConnect) {
				return nil, m.fail(report, log, err)
			}
			log.WithError(err).WithField("folder", f.name).Warn("Failed to sync folder")
		}
	}

	report.Total.Add(report.Inbox)
	report.Total.Add(report.Sent)
	report.FinishedAt = m.now()
	m.finish(report.StartedAt, report, nil)

	log.WithFields(logrus.Fields{
		"fetched": report.Total.Fetched,
		"saved":   report.Total.Saved,
		"skipped": report.Total.Skipped,
		"elapsed": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Mailbox sync finished")

	return report, nil
}

// fail records a connection failure, which aborts the whole run
func (m *Manager) fail(report *types.SyncReport, log *logrus.Entry, err error) error {
	if !errors.Is(err, ErrConnect) {
		err = fmt.Errorf("%w: %w", ErrConnect, err)
	}
	m.metrics.RecordConnectFailure()
	log.WithError(err).Error("Failed to connect to mailbox")
	m.finish(report.StartedAt, nil, err)
	return err
}

// syncFolder fetches one folder and ingests its messages in order. Counts
// accumulated before a mid-stream error are returned with it.
func (m *Manager) syncFolder(ctx context.Context, session Session, owner types.Account, folder string, limit int, log *logrus.Entry) (types.FolderCounts, error) {
	var counts types.FolderCounts

	messages, err := session.FetchFolder(ctx, folder, uint32(limit))
	if err != nil {
		return counts, err
	}

	for raw, err := range messages {
		if err != nil {
			return counts, err
		}
		counts.Fetched++

		outcome := m.ingest(ctx, owner, raw, log)
		switch outcome {
		case OutcomeSaved:
			counts.Saved++
		case OutcomeSkipped:
			counts.Skipped++
		}
		m.metrics.RecordMessage(folder, outcome.String())
	}

	log.WithFields(logrus.Fields{
		"folder":  folder,
		"fetched": counts.Fetched,
		"saved":   counts.Saved,
		"skipped": counts.Skipped,
	}).Info("Synced folder")

	return counts, nil
}

// ingest runs parse, reconcile, duplicate check and insert for one message
func (m *Manager) ingest(ctx context.Context, owner types.Account, raw RawMessage, log *logrus.Entry) Outcome {
	entry := log.WithFields(logrus.Fields{
		"folder": raw.Folder,
		"uid":    raw.UID,
	})

	parsed, err := Parse(raw.Raw)
	if err != nil {
		entry.WithError(err).Warn("Dropping unparseable message")
		return OutcomeDropped
	}

	msg := Reconcile(parsed, raw, owner, m.folders, m.now())

	if hint, ok := AddressCategory(owner.Email, parsed.From, parsed.To); ok && hint != msg.Category {
		entry.WithFields(logrus.Fields{
			"category":         msg.Category,
			"address_category": hint,
		}).Debug("Address heuristic disagrees with folder")
	}

	exists, err := m.store.MirrorExists(ctx, owner.ID, msg.Source.MessageID, raw.Folder, raw.UID)
	if err != nil {
		entry.WithError(err).Warn("Failed to check for mirrored message")
		return OutcomeFailed
	}
	if exists {
		return OutcomeSkipped
	}

	if err := m.store.InsertMirror(ctx, &msg); err != nil {
		entry.WithError(err).Warn("Failed to save mirrored message")
		return OutcomeFailed
	}
	return OutcomeSaved
}

func (m *Manager) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// finish records the result of a run for Status and metrics
func (m *Manager) finish(startedAt time.Time, report *types.SyncReport, err error) {
	finishedAt := m.now()

	m.mu.Lock()
	m.lastRunAt = finishedAt
	m.lastErr = err
	if report != nil {
		m.lastReport = report
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.RecordSyncRun(metrics.ResultFailed, finishedAt.Sub(startedAt))
		return
	}
	m.metrics.RecordSyncRun(metrics.ResultSuccess, finishedAt.Sub(startedAt))
	m.metrics.UpdateLastRun(report.Total.Fetched, report.Total.Saved, report.Total.Skipped)
}
