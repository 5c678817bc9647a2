package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/ledger"
	"carbon-scribe/mrv-registry/internal/metrics"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/pkg/digest"
	"carbon-scribe/mrv-registry/pkg/storage"
)

// EventReconciled is published to project subscribers after each reconciliation.
const EventReconciled = "attestation.reconciled"

// Anchorer submits digests to the ledger.
type Anchorer interface {
	Configured() bool
	Anchor(ctx context.Context, projectID, digest string, metadata map[string]any) (*ledger.AnchorResult, error)
}

// ProjectRegistry is the part of the project service attestations depend on.
type ProjectRegistry interface {
	Lookup(ctx context.Context, id string) (*projects.Project, error)
	List(ctx context.Context, actor auth.Actor, filter projects.Filter) ([]projects.Project, error)
	RecordAnchor(ctx context.Context, id, digest, txRef string) error
}

// Notifier fans reconciliation events out to subscribers.
type Notifier interface {
	Publish(projectID, event string, payload any) int
}

// Dependencies wires a Service. Store, Notifier and Metrics are optional.
type Dependencies struct {
	Repo       Repository
	Projects   ProjectRegistry
	Anchorer   Anchorer
	Dispatcher *Dispatcher
	Store      storage.ObjectStore
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service records MRV attestations and drives their anchoring.
type Service struct {
	repo       Repository
	projects   ProjectRegistry
	anchorer   Anchorer
	dispatcher *Dispatcher
	store      storage.ObjectStore
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(deps Dependencies) *Service {
	return &Service{
		repo:       deps.Repo,
		projects:   deps.Projects,
		anchorer:   deps.Anchorer,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the anchoring workers.
func (s *Service) Start(ctx context.Context) {
	if s.dispatcher != nil {
		s.dispatcher.Start(ctx, s.process)
	}
}

// Shutdown drains queued anchoring jobs.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Shutdown(ctx)
}

// Submit computes the evidence digest for data, persists a pending record and
// hands anchoring to the dispatcher. The returned record is pending unless
// anchoring was settled synchronously (not configured or queue full).
func (s *Service) Submit(ctx context.Context, actor auth.Actor, projectID string, data map[string]any) (*Record, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.Lookup(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: analysis data: %v", apperrors.ErrEncoding, err)
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	now := s.now()
	analyzedAt := now.Truncate(time.Millisecond)
	validatorID := capability.Actor().ID
	sum, preimage, err := digest.Sum(project.ID, validatorID, analyzedAt, payload)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		ValidatorID:  validatorID,
		AnalysisData: raw,
		AnalyzedAt:   analyzedAt,
		Digest:       sum,
		LedgerStatus: LedgerPending,
		CreatedAt:    now,
	}
	record.BundleURI = s.archive(ctx, record, preimage)

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record attestation: %w", err)
	}
	s.metrics.AttestationRecorded()

	s.logger.Info("Attestation recorded",
		zap.String("record_id", record.ID),
		zap.String("project_id", record.ProjectID),
		zap.String("validator_id", validatorID),
		zap.String("digest", sum))

	return s.dispatch(ctx, record)
}

// Reconcile settles a pending record with a terminal outcome. Reconciling a
// record that is already terminal is a no-op returning the stored record.
func (s *Service) Reconcile(ctx context.Context, id string, outcome Outcome) (*Record, error) {
	if !outcome.Status.Terminal() {
		return nil, apperrors.Validation("ledger status %q is not a terminal outcome", outcome.Status)
	}
	applied, err := s.repo.Reconcile(ctx, id, outcome, s.now())
	if err != nil {
		return nil, err
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logger.Debug("Attestation already reconciled",
			zap.String("record_id", id),
			zap.String("ledger_status", string(record.LedgerStatus)))
		return record, nil
	}

	if record.LedgerStatus == LedgerConfirmed {
		if err := s.projects.RecordAnchor(ctx, record.ProjectID, record.Digest, record.LedgerTxRef); err != nil {
			s.logger.Error("Failed to record anchor on project",
				zap.String("record_id", record.ID),
				zap.String("project_id", record.ProjectID),
				zap.Error(err))
		}
	}
	s.metrics.AnchorOutcome(string(record.LedgerStatus))
	if s.notifier != nil {
		s.notifier.Publish(record.ProjectID, EventReconciled, record)
	}

	fields := []zap.Field{
		zap.String("record_id", record.ID),
		zap.String("project_id", record.ProjectID),
		zap.String("ledger_status", string(record.LedgerStatus)),
		zap.String("tx_ref", record.LedgerTxRef),
	}
	if record.FailureReason != "" {
		fields = append(fields, zap.String("reason", record.FailureReason))
	}
	s.logger.Info("Attestation reconciled", fields...)
	return record, nil
}

// Resolve lets an admin settle a pending record by hand, e.g. after finding
// a dangling transaction on the explorer.
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, id string, outcome Outcome) (*Record, error) {
	if _, err := auth.Authorize(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, id, outcome)
}

// Get returns a record. Users may only read records on projects they own.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Record, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if capability.Role() == auth.RoleUser {
		project, err := s.projects.Lookup(ctx, record.ProjectID)
		if err != nil {
			return nil, err
		}
		if !projects.CanRead(capability, project) {
			return nil, fmt.Errorf("%w: attestation %s", apperrors.ErrForbidden, id)
		}
	}
	return record, nil
}

// Lookup returns a record without an access check.
func (s *Service) Lookup(ctx context.Context, id string) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns records matching filter, newest first. Users are scoped to
// their own projects.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter Filter) ([]Record, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	if capability.Role() == auth.RoleUser {
		owned, err := s.projects.List(ctx, actor, projects.Filter{})
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(owned))
		for _, p := range owned {
			ids = append(ids, p.ID)
		}
		if filter.ProjectID != "" && !slices.Contains(ids, filter.ProjectID) {
			return nil, fmt.Errorf("%w: not authorized for project %s", apperrors.ErrForbidden, filter.ProjectID)
		}
		if filter.ProjectID == "" {
			filter.ProjectIDs = ids
		}
	}
	return s.repo.List(ctx, filter)
}

// Verify recomputes the digest from the stored payload and reports whether
// it still matches the anchored value.
func (s *Service) Verify(ctx context.Context, actor auth.Actor, id string) (*Verification, error) {
	record, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	recomputed, err := Recompute(record)
	if err != nil {
		return nil, err
	}
	return &Verification{
		RecordID:   record.ID,
		Stored:     record.Digest,
		Recomputed: recomputed,
		Match:      recomputed == record.Digest,
	}, nil
}

// Reanchor appends a new pending record carrying the same evidence as a
// failed or unavailable one and queues it for anchoring.
func (s *Service) Reanchor(ctx context.Context, actor auth.Actor, id string) (*Record, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	prior, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prior.LedgerStatus != LedgerFailed && prior.LedgerStatus != LedgerUnavailable {
		return nil, apperrors.Transition("attestation", "reanchor", string(prior.LedgerStatus))
	}
	recomputed, err := Recompute(prior)
	if err != nil {
		return nil, err
	}
	if recomputed != prior.Digest {
		return nil, apperrors.Validation("attestation %s no longer matches its digest", prior.ID)
	}

	record := &Record{
		ID:           uuid.NewString(),
		ProjectID:    prior.ProjectID,
		ValidatorID:  prior.ValidatorID,
		AnalysisData: append([]byte(nil), prior.AnalysisData...),
		AnalyzedAt:   prior.AnalyzedAt,
		Digest:       prior.Digest,
		BundleURI:    prior.BundleURI,
		LedgerStatus: LedgerPending,
		ReanchorOf:   prior.ID,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record attestation: %w", err)
	}
	s.metrics.AttestationRecorded()

	s.logger.Info("Attestation re-anchor requested",
		zap.String("record_id", record.ID),
		zap.String("reanchor_of", prior.ID),
		zap.String("actor_id", capability.Actor().ID))
	return s.dispatch(ctx, record)
}

// StalePending returns pending records created before the cutoff.
func (s *Service) StalePending(ctx context.Context, olderThan time.Duration) ([]Record, error) {
	return s.repo.List(ctx, Filter{
		Status:        LedgerPending,
		CreatedBefore: s.now().Add(-olderThan),
	})
}

// Recompute rebuilds the evidence digest of a stored record.
func Recompute(record *Record) (string, error) {
	payload, err := decodePayload(record.AnalysisData)
	if err != nil {
		return "", err
	}
	sum, _, err := digest.Sum(record.ProjectID, record.ValidatorID, record.AnalyzedAt, payload)
	return sum, err
}

func (s *Service) dispatch(ctx context.Context, record *Record) (*Record, error) {
	if s.anchorer == nil || !s.anchorer.Configured() {
		return s.Reconcile(ctx, record.ID, Outcome{
			Status: LedgerUnavailable,
			Reason: apperrors.ErrNotConfigured.Error(),
		})
	}

	err := ErrDispatcherClosed
	if s.dispatcher != nil {
		err = s.dispatcher.Enqueue(Job{
			RecordID:    record.ID,
			ProjectID:   record.ProjectID,
			ValidatorID: record.ValidatorID,
			Digest:      record.Digest,
			AnalyzedAt:  record.AnalyzedAt,
			EnqueuedAt:  s.now(),
		})
	}
	if err != nil {
		s.logger.Warn("Anchor job rejected",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return s.Reconcile(ctx, record.ID, Outcome{Status: LedgerFailed, Reason: err.Error()})
	}
	return record, nil
}

// process is the dispatcher's job handler: anchor, then reconcile.
func (s *Service) process(ctx context.Context, job Job) {
	started := s.now()
	result, err := s.anchorer.Anchor(ctx, job.ProjectID, job.Digest, map[string]any{
		"record_id":    job.RecordID,
		"validator_id": job.ValidatorID,
		"analyzed_at":  digest.FormatTimestamp(job.AnalyzedAt),
	})
	s.metrics.ObserveAnchorLatency(s.now().Sub(started))

	outcome := outcomeFor(result, err)
	if err != nil {
		s.logger.Warn("Anchoring failed",
			zap.String("record_id", job.RecordID),
			zap.String("ledger_status", string(outcome.Status)),
			zap.Error(err))
	}

	if _, err := s.Reconcile(context.WithoutCancel(ctx), job.RecordID, outcome); err != nil {
		s.logger.Error("Failed to reconcile attestation",
			zap.String("record_id", job.RecordID),
			zap.Error(err))
	}
}

func outcomeFor(result *ledger.AnchorResult, err error) Outcome {
	var failure *apperrors.AnchorFailure
	switch {
	case errors.Is(err, apperrors.ErrNotConfigured):
		return Outcome{Status: LedgerUnavailable, Reason: err.Error()}
	case errors.As(err, &failure):
		return Outcome{Status: LedgerFailed, TxRef: failure.TxRef, Reason: failure.Error()}
	case err != nil:
		return Outcome{Status: LedgerFailed, Reason: err.Error()}
	}

	outcome := Outcome{
		Status:      LedgerConfirmed,
		TxRef:       result.TxHash,
		BlockNumber: result.BlockNumber,
		GasUsed:     result.GasUsed,
		ExplorerURL: result.ExplorerURL,
		Method:      result.Method,
	}
	if !result.Success {
		outcome.Status = LedgerFailed
		outcome.Reason = "transaction reverted"
	}
	return outcome
}

// archive stores the canonical preimage next to the record. Failure only
// costs the bundle URI.
func (s *Service) archive(ctx context.Context, record *Record, preimage []byte) string {
	if s.store == nil {
		return ""
	}
	key := fmt.Sprintf("attestations/%s/%s.json", record.ProjectID, record.ID)
	uri, err := s.store.Put(ctx, key, preimage, "application/json")
	if err != nil {
		s.logger.Warn("Failed to archive evidence bundle",
			zap.String("record_id", record.ID),
			zap.String("key", key),
			zap.Error(err))
		return ""
	}
	return uri
}

func decodePayload(raw []byte) (map[string]any, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return payload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: analysis data: %v", apperrors.ErrEncoding, err)
	}
	return payload, nil
}
