package credits

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/pkg/workflows"
)

// ProjectRegistry is the part of the project service credits depend on.
type ProjectRegistry interface {
	Lookup(ctx context.Context, id string) (*projects.Project, error)
	List(ctx context.Context, actor auth.Actor, filter projects.Filter) ([]projects.Project, error)
	MarkIssued(ctx context.Context, id string) (bool, error)
}

// EvidenceLookup resolves an attestation referenced as credit evidence.
type EvidenceLookup interface {
	Lookup(ctx context.Context, id string) (*attestation.Record, error)
}

// TransitionObserver is told about every applied credit transition.
type TransitionObserver interface {
	CreditTransition(to string)
}

// NewStateMachine returns the credit lifecycle.
func NewStateMachine() *workflows.StateMachine[Status] {
	return workflows.NewStateMachine(map[Status][]Status{
		StatusDraft:     {StatusPending, StatusIssued, StatusCancelled},
		StatusPending:   {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusRetired},
		StatusRetired:   {},
		StatusCancelled: {},
	})
}

// Service handles credit issuance and retirement
type Service struct {
	repo     Repository
	projects ProjectRegistry
	evidence EvidenceLookup
	observer TransitionObserver
	sm       *workflows.StateMachine[Status]
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a credit service. evidence and observer may be nil.
func NewService(repo Repository, projects ProjectRegistry, evidence EvidenceLookup, observer TransitionObserver, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		evidence: evidence,
		observer: observer,
		sm:       NewStateMachine(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create mints a draft (or pending) credit for an existing project. When an
// attestation is referenced its digest becomes the credit's evidence digest.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Credit, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	if !(req.Amount > 0) {
		return nil, apperrors.Validation("amount must be greater than zero")
	}
	status := req.Status
	if status == "" {
		status = StatusDraft
	}
	if status != StatusDraft && status != StatusPending {
		return nil, apperrors.Validation("credits are created in draft or pending, not %q", status)
	}

	project, err := s.projects.Lookup(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	metadata := req.Metadata
	if req.AttestationID != "" {
		if s.evidence == nil {
			return nil, fmt.Errorf("%w: attestation lookup unavailable", apperrors.ErrNotConfigured)
		}
		record, err := s.evidence.Lookup(ctx, req.AttestationID)
		if err != nil {
			return nil, err
		}
		if record.ProjectID != project.ID {
			return nil, apperrors.Validation("attestation %s belongs to another project", record.ID)
		}
		if metadata.EvidenceDigest != "" && metadata.EvidenceDigest != record.Digest {
			return nil, apperrors.Validation("evidence digest does not match attestation %s", record.ID)
		}
		metadata.EvidenceDigest = record.Digest
		if metadata.DataBundleURI == "" {
			metadata.DataBundleURI = record.BundleURI
		}
	}

	now := s.now()
	credit := &Credit{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		Amount:        req.Amount,
		Vintage:       req.Vintage,
		Methodology:   req.Methodology,
		Status:        status,
		Metadata:      metadata,
		AttestationID: req.AttestationID,
		CreatedBy:     capability.Actor().ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if credit.Methodology == "" {
		credit.Methodology = project.Methodology
	}
	if err := s.repo.Create(ctx, credit); err != nil {
		return nil, fmt.Errorf("failed to create credit: %w", err)
	}
	s.observe(status)

	s.logger.Info("Credit created",
		zap.String("credit_id", credit.ID),
		zap.String("project_id", credit.ProjectID),
		zap.Float64("amount", credit.Amount),
		zap.String("status", string(credit.Status)))
	return credit, nil
}

// Get returns a credit. Users may read credits held by them or minted on
// their projects.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Credit, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if capability.Role() == auth.RoleUser && !capability.Actor().Holds(credit.IssuedTo) {
		project, err := s.projects.Lookup(ctx, credit.ProjectID)
		if err != nil {
			return nil, err
		}
		if project.OwnerID != capability.Actor().ID {
			return nil, fmt.Errorf("%w: credit %s", apperrors.ErrForbidden, id)
		}
	}
	return credit, nil
}

// List returns credits matching filter; users are scoped to their projects.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter Filter) ([]Credit, error) {
	scoped, err := s.scope(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scoped)
}

// Issue moves a draft or pending credit to issued and binds the holder.
func (s *Service) Issue(ctx context.Context, actor auth.Actor, id string, req IssueRequest) (*Credit, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, apperrors.Validation("recipient is required")
	}
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	issued, err := s.transition(ctx, credit, "issue", capability, Update{
		To:          StatusIssued,
		IssuedTo:    req.Recipient,
		LedgerTxRef: req.LedgerTxRef,
		TokenID:     req.TokenID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.projects.MarkIssued(ctx, issued.ProjectID); err != nil {
		s.logger.Warn("Failed to mark project issued",
			zap.String("project_id", issued.ProjectID),
			zap.String("credit_id", issued.ID),
			zap.Error(err))
	}
	return issued, nil
}

// Retire takes an issued credit out of circulation. Only the holder may
// retire it unless the actor is an admin.
func (s *Service) Retire(ctx context.Context, actor auth.Actor, id string, req RetireRequest) (*Credit, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.sm.CanTransition(credit.Status, StatusRetired) {
		return nil, apperrors.Transition("credit", "retire", string(credit.Status))
	}
	if !capability.Actor().IsAdmin() && !capability.Actor().Holds(credit.IssuedTo) {
		return nil, fmt.Errorf("%w: credit %s is held by another account", apperrors.ErrForbidden, id)
	}
	return s.transition(ctx, credit, "retire", capability, Update{
		To:               StatusRetired,
		RetiredBy:        capability.Actor().Ref(),
		RetirementReason: req.Reason,
	})
}

// Cancel voids a credit that was never issued.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id string) (*Credit, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, credit, "cancel", capability, Update{To: StatusCancelled})
}

// Submit moves a draft credit to pending issuance.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, id string) (*Credit, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	credit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, credit, "submit", capability, Update{To: StatusPending})
}

// Summary folds one snapshot of the scoped credits into per-state totals.
func (s *Service) Summary(ctx context.Context, actor auth.Actor, projectID string) (*Summary, error) {
	scoped, err := s.scope(ctx, actor, Filter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	credits, err := s.repo.List(ctx, scoped)
	if err != nil {
		return nil, err
	}
	summary := Summarize(credits)
	summary.ProjectID = projectID
	summary.GeneratedAt = s.now()
	return &summary, nil
}

// Summarize is the pure fold behind Summary.
func Summarize(credits []Credit) Summary {
	summary := Summary{ByStatus: make(map[Status]StatusTotals, len(Statuses))}
	for _, st := range Statuses {
		summary.ByStatus[st] = StatusTotals{}
	}
	for _, c := range credits {
		totals := summary.ByStatus[c.Status]
		totals.Count++
		totals.Amount += c.Amount
		summary.ByStatus[c.Status] = totals

		summary.TotalCredits++
		summary.TotalAmount += c.Amount
	}
	summary.IssuedCredits = summary.ByStatus[StatusIssued].Count
	summary.IssuedAmount = summary.ByStatus[StatusIssued].Amount
	summary.RetiredCredits = summary.ByStatus[StatusRetired].Count
	summary.RetiredAmount = summary.ByStatus[StatusRetired].Amount
	summary.PendingCredits = summary.ByStatus[StatusPending].Count
	return summary
}

func (s *Service) scope(ctx context.Context, actor auth.Actor, filter Filter) (Filter, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return filter, err
	}
	if capability.Role() != auth.RoleUser {
		return filter, nil
	}

	owned, err := s.projects.List(ctx, actor, projects.Filter{})
	if err != nil {
		return filter, err
	}
	ids := make([]string, 0, len(owned))
	for _, p := range owned {
		ids = append(ids, p.ID)
	}
	if filter.ProjectID != "" {
		if !slices.Contains(ids, filter.ProjectID) {
			return filter, fmt.Errorf("%w: not authorized for project %s", apperrors.ErrForbidden, filter.ProjectID)
		}
		return filter, nil
	}
	filter.ProjectIDs = ids
	return filter, nil
}

func (s *Service) transition(ctx context.Context, credit *Credit, op string, capability auth.Capability, update Update) (*Credit, error) {
	if !s.sm.CanTransition(credit.Status, update.To) {
		return nil, apperrors.Transition("credit", op, string(credit.Status))
	}
	update.At = s.now()

	from := []Status{credit.Status}
	updated, err := s.repo.Transition(ctx, credit.ID, from, update)
	if err != nil {
		return nil, err
	}
	s.observe(update.To)

	s.logger.Info("Credit status changed",
		zap.String("credit_id", credit.ID),
		zap.String("from", string(credit.Status)),
		zap.String("to", string(update.To)),
		zap.String("actor_id", capability.Actor().ID))
	return updated, nil
}

func (s *Service) observe(to Status) {
	if s.observer != nil {
		s.observer.CreditTransition(string(to))
	}
}
