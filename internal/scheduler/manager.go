// Package scheduler runs the registry's periodic sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/ledger"
	"carbon-scribe/mrv-registry/internal/metrics"
)

// HealthProber reports on the ledger connection.
type HealthProber interface {
	Health(ctx context.Context) (*ledger.Health, error)
}

// StaleScanner finds attestations still pending after olderThan.
type StaleScanner interface {
	StalePending(ctx context.Context, olderThan time.Duration) ([]attestation.Record, error)
}

// Config holds the cron specs and the pending age considered stale.
type Config struct {
	LedgerProbeCron string
	StaleScanCron   string
	StaleAfter      time.Duration
	JobTimeout      time.Duration
}

// Manager owns the cron runner and the registered sweeps.
type Manager struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	ledger  HealthProber
	stale   StaleScanner
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
	mu      sync.RWMutex
	running bool
}

// NewManager creates a manager. A nil prober or scanner skips that sweep.
func NewManager(prober HealthProber, scanner StaleScanner, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Manager {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	return &Manager{
		cron:    cron.New(),
		jobs:    make(map[string]cron.EntryID),
		ledger:  prober,
		stale:   scanner,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers the configured sweeps and starts the cron runner.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("scheduler already running")
	}
	m.mu.Unlock()

	if m.ledger != nil && m.cfg.LedgerProbeCron != "" {
		if err := m.AddJob("ledger_probe", m.cfg.LedgerProbeCron, m.ProbeLedger); err != nil {
			return err
		}
	}
	if m.stale != nil && m.cfg.StaleScanCron != "" {
		if err := m.AddJob("stale_scan", m.cfg.StaleScanCron, func(ctx context.Context) {
			m.ScanStale(ctx)
		}); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.logger.Info("Starting scheduler", zap.Int("jobs", m.GetActiveJobs()))
	m.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.logger.Info("Stopping scheduler")
	ctx := m.cron.Stop()
	<-ctx.Done()

	m.running = false
}

// AddJob schedules fn under name, replacing any job with the same name.
func (m *Manager) AddJob(name, spec string, fn func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[name]; ok {
		m.cron.Remove(entryID)
	}

	entryID, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
		defer cancel()
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	m.jobs[name] = entryID

	m.logger.Info("Added scheduled job", zap.String("job", name), zap.String("cron", spec))
	return nil
}

// GetActiveJobs returns the number of registered jobs
func (m *Manager) GetActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// NextRun returns when the named job fires next.
func (m *Manager) NextRun(name string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entryID, ok := m.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return m.cron.Entry(entryID).Next, true
}

// ProbeLedger queries ledger health and records the result on the gauge.
func (m *Manager) ProbeLedger(ctx context.Context) {
	health, err := m.ledger.Health(ctx)
	if err != nil {
		m.metrics.SetLedgerUp(false)
		if errors.Is(err, apperrors.ErrNotConfigured) {
			m.logger.Debug("Ledger probe skipped, ledger not configured")
			return
		}
		m.logger.Warn("Ledger health probe failed", zap.Error(err))
		return
	}
	m.metrics.SetLedgerUp(true)
	m.logger.Debug("Ledger healthy",
		zap.Int64("chain_id", health.ChainID),
		zap.Uint64("block_number", health.BlockNumber))
}

// ScanStale reports attestations stuck in pending. It never changes them:
// their transactions may still be mined, so settling them is left to an
// operator.
func (m *Manager) ScanStale(ctx context.Context) int {
	records, err := m.stale.StalePending(ctx, m.cfg.StaleAfter)
	if err != nil {
		m.logger.Error("Failed to scan pending attestations", zap.Error(err))
		return 0
	}
	m.metrics.SetStalePending(len(records))
	for _, r := range records {
		m.logger.Warn("Attestation pending past confirmation timeout",
			zap.String("record_id", r.ID),
			zap.String("project_id", r.ProjectID),
			zap.Time("created_at", r.CreatedAt))
	}
	return len(records)
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
