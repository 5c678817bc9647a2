package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/pkg/geospatial"
	"carbon-scribe/mrv-registry/pkg/workflows"
)

// SystemActor is recorded in history for transitions no person triggered.
const SystemActor = "system"

// NewStateMachine returns the project review lifecycle. Rejected -> InReview
// is a resubmission that opens a new review cycle.
func NewStateMachine() *workflows.StateMachine[Status] {
	return workflows.NewStateMachine(map[Status][]Status{
		StatusDraft:      {StatusInReview},
		StatusInReview:   {StatusMonitoring, StatusRejected},
		StatusRejected:   {StatusInReview},
		StatusMonitoring: {StatusIssued},
		StatusIssued:     {},
	})
}

// Service handles project lifecycle operations
type Service struct {
	repo   Repository
	sm     *workflows.StateMachine[Status]
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new project service
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		sm:     NewStateMachine(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a draft project owned by the caller.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateProjectRequest) (*Project, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.Validation("name is required")
	}
	if req.Area < 0 {
		return nil, apperrors.Validation("area must not be negative")
	}

	now := s.now()
	project := &Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     capability.Actor().ID,
		Ecosystem:   req.Ecosystem,
		Methodology: req.Methodology,
		Area:        req.Area,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if len(req.Geometry) > 0 && string(req.Geometry) != "null" {
		geom, err := geospatial.ValidateGeoJSON(req.Geometry)
		if err != nil {
			return nil, apperrors.Validation("geometry: %v", err)
		}
		project.Geometry = req.Geometry
		if req.Area == 0 {
			project.Area = geospatial.ConvertToHectares(geospatial.CalculateArea(geom))
		}
	}

	if err := s.repo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.record(ctx, project, "", StatusDraft, project.OwnerID, "")

	s.logger.Info("Project created",
		zap.String("project_id", project.ID),
		zap.String("owner_id", project.OwnerID))
	return project, nil
}

// Get returns a project. Users may only read projects they own.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Project, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanRead(capability, project) {
		return nil, fmt.Errorf("%w: project %s belongs to another owner", apperrors.ErrForbidden, id)
	}
	return project, nil
}

// Lookup returns a project without an ownership check, for collaborating
// services that have already authorized their caller.
func (s *Service) Lookup(ctx context.Context, id string) (*Project, error) {
	return s.repo.GetByID(ctx, id)
}

// CanSubscribe reports whether actor may follow events for project id.
func (s *Service) CanSubscribe(ctx context.Context, actor auth.Actor, id string) bool {
	_, err := s.Get(ctx, actor, id)
	return err == nil
}

// List returns projects matching filter. Users are always scoped to their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter Filter) ([]Project, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	if capability.Role() == auth.RoleUser {
		filter.OwnerID = capability.Actor().ID
	}
	return s.repo.List(ctx, filter)
}

// Update edits a project's descriptors. Only the owner or an admin may edit,
// and only while the project is a draft or has been rejected.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, req UpdateProjectRequest) (*Project, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != capability.Actor().ID && !capability.Actor().IsAdmin() {
		return nil, fmt.Errorf("%w: only the owner may edit project %s", apperrors.ErrForbidden, id)
	}
	if project.Status != StatusDraft && project.Status != StatusRejected {
		return nil, apperrors.Transition("project", "update", string(project.Status))
	}

	update := DescriptorUpdate{
		Name:        project.Name,
		Description: project.Description,
		Ecosystem:   project.Ecosystem,
		Methodology: project.Methodology,
		Geometry:    project.Geometry,
		Area:        project.Area,
		At:          s.now(),
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, apperrors.Validation("name is required")
		}
		update.Name = *req.Name
	}
	if req.Description != nil {
		update.Description = *req.Description
	}
	if req.Ecosystem != nil {
		update.Ecosystem = *req.Ecosystem
	}
	if req.Methodology != nil {
		update.Methodology = *req.Methodology
	}
	if req.Area != nil {
		if *req.Area < 0 {
			return nil, apperrors.Validation("area must not be negative")
		}
		update.Area = *req.Area
	}
	if len(req.Geometry) > 0 && string(req.Geometry) != "null" {
		geom, err := geospatial.ValidateGeoJSON(req.Geometry)
		if err != nil {
			return nil, apperrors.Validation("geometry: %v", err)
		}
		update.Geometry = req.Geometry
		if req.Area == nil {
			update.Area = geospatial.ConvertToHectares(geospatial.CalculateArea(geom))
		}
	}

	updated, err := s.repo.UpdateDescriptors(ctx, id, project.Status, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Project updated",
		zap.String("project_id", id),
		zap.String("actor_id", capability.Actor().ID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// History returns the project's status changes, oldest first.
func (s *Service) History(ctx context.Context, actor auth.Actor, id string) ([]StatusChange, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// SubmitForReview moves a draft, or a rejected project being resubmitted,
// into review. Every submission opens a new review cycle.
func (s *Service) SubmitForReview(ctx context.Context, actor auth.Actor, id string) (*Project, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != capability.Actor().ID {
		return nil, fmt.Errorf("%w: only the owner may submit project %s", apperrors.ErrForbidden, id)
	}
	return s.transition(ctx, project, "submit", capability.Actor().ID, StatusUpdate{
		To:       StatusInReview,
		NewCycle: true,
	})
}

// Approve moves a project under review to monitoring and binds the validator.
func (s *Service) Approve(ctx context.Context, actor auth.Actor, id, notes string) (*Project, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, project, "approve", capability.Actor().ID, StatusUpdate{
		To:     StatusMonitoring,
		Review: &Review{ValidatorID: capability.Actor().ID, Notes: notes},
	})
}

// Reject closes the current review cycle. Notes are required.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id, notes string) (*Project, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(notes) == "" {
		return nil, apperrors.Validation("rejection notes are required")
	}
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, project, "reject", capability.Actor().ID, StatusUpdate{
		To:     StatusRejected,
		Review: &Review{ValidatorID: capability.Actor().ID, Notes: notes},
	})
}

// MarkIssued records that credits were issued for a project in monitoring.
// Projects in any other state are left alone and false is returned.
func (s *Service) MarkIssued(ctx context.Context, id string) (bool, error) {
	project, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if project.Status != StatusMonitoring {
		return false, nil
	}
	_, err = s.transition(ctx, project, "issue", SystemActor, StatusUpdate{To: StatusIssued})
	if errors.Is(err, apperrors.ErrInvalidTransition) {
		// a concurrent issuance got there first
		return false, nil
	}
	return err == nil, err
}

// RecordAnchor stores the latest confirmed evidence digest on the project.
func (s *Service) RecordAnchor(ctx context.Context, id, digest, txRef string) error {
	if err := s.repo.UpdateEvidence(ctx, id, digest, txRef, s.now()); err != nil {
		return err
	}
	s.logger.Info("Project evidence anchored",
		zap.String("project_id", id),
		zap.String("digest", digest),
		zap.String("tx_ref", txRef))
	return nil
}

func (s *Service) transition(ctx context.Context, project *Project, op, actorID string, update StatusUpdate) (*Project, error) {
	if !s.sm.CanTransition(project.Status, update.To) {
		return nil, apperrors.Transition("project", op, string(project.Status))
	}
	update.At = s.now()

	updated, err := s.repo.UpdateStatus(ctx, project.ID, project.Status, update)
	if err != nil {
		return nil, err
	}

	notes := ""
	if update.Review != nil {
		notes = update.Review.Notes
	}
	s.record(ctx, updated, project.Status, update.To, actorID, notes)

	s.logger.Info("Project status changed",
		zap.String("project_id", project.ID),
		zap.String("from", string(project.Status)),
		zap.String("to", string(update.To)),
		zap.String("actor_id", actorID),
		zap.Int("review_cycle", updated.ReviewCycle))
	return updated, nil
}

// record appends history. The status change itself has already been
// applied, so a history failure is logged rather than returned.
func (s *Service) record(ctx context.Context, project *Project, from, to Status, actorID, notes string) {
	change := &StatusChange{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		From:        from,
		To:          to,
		ChangedBy:   actorID,
		Notes:       notes,
		ReviewCycle: project.ReviewCycle,
		ChangedAt:   s.now(),
	}
	if err := s.repo.AppendHistory(ctx, change); err != nil {
		s.logger.Warn("Failed to append project history",
			zap.String("project_id", project.ID),
			zap.Error(err))
	}
}

// CanRead reports whether the capability admits reading project.
func CanRead(capability auth.Capability, project *Project) bool {
	return capability.Role() != auth.RoleUser || project.OwnerID == capability.Actor().ID
}
