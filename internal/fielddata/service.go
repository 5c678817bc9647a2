package fielddata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/scoring"
	"carbon-scribe/mrv-registry/pkg/geospatial"
	"carbon-scribe/mrv-registry/pkg/storage"
)

// ProjectLookup resolves the project a field data entry belongs to.
type ProjectLookup interface {
	Lookup(ctx context.Context, id string) (*projects.Project, error)
}

// Service handles field data collection and validation
type Service struct {
	repo     Repository
	projects ProjectLookup
	oracle   scoring.Oracle
	store    storage.ObjectStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a field data service. store may be nil, in which case
// images are scored but not archived.
func NewService(repo Repository, projects ProjectLookup, oracle scoring.Oracle, store storage.ObjectStore, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		oracle:   oracle,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create records a measurement on a project plot. Users may only collect
// on projects they own.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*FieldData, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.Lookup(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !projects.CanRead(capability, project) {
		return nil, fmt.Errorf("%w: not authorized for project %s", apperrors.ErrForbidden, project.ID)
	}
	if strings.TrimSpace(req.PlotID) == "" {
		return nil, apperrors.Validation("plot_id is required")
	}
	if err := geospatial.ValidatePoint(req.Location.Lat, req.Location.Lng); err != nil {
		return nil, apperrors.Validation("gps_coordinates: %v", err)
	}
	if req.CanopyCover < 0 || req.CanopyCover > 100 {
		return nil, apperrors.Validation("canopy_cover must be within [0,100]")
	}

	now := s.now()
	fd := &FieldData{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		CollectorID:  capability.Actor().ID,
		PlotID:       req.PlotID,
		Location:     req.Location,
		Species:      req.Species,
		CanopyCover:  req.CanopyCover,
		SoilType:     req.SoilType,
		Notes:        req.Notes,
		Measurements: req.Measurements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, fd); err != nil {
		return nil, fmt.Errorf("failed to create field data: %w", err)
	}

	s.logger.Info("Field data recorded",
		zap.String("field_data_id", fd.ID),
		zap.String("project_id", fd.ProjectID),
		zap.String("collector_id", fd.CollectorID))
	return fd, nil
}

// Get returns one entry. Users see only entries they collected.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*FieldData, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	fd, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if capability.Role() == auth.RoleUser && fd.CollectorID != capability.Actor().ID {
		return nil, fmt.Errorf("%w: field data %s belongs to another collector", apperrors.ErrForbidden, id)
	}
	return fd, nil
}

// List returns entries matching filter.
func (s *Service) List(ctx context.Context, actor auth.Actor, filter Filter) ([]FieldData, error) {
	capability, err := auth.Authorize(actor)
	if err != nil {
		return nil, err
	}
	if filter.ProjectID != "" {
		project, err := s.projects.Lookup(ctx, filter.ProjectID)
		if err != nil {
			return nil, err
		}
		if !projects.CanRead(capability, project) {
			return nil, fmt.Errorf("%w: not authorized for project %s", apperrors.ErrForbidden, project.ID)
		}
	}
	if capability.Role() == auth.RoleUser {
		filter.CollectorID = capability.Actor().ID
	}
	return s.repo.List(ctx, filter)
}

// AttachEvidence scores and archives images and folds them into the
// entry's evidence bundle. Scoring failures degrade to a zero score.
func (s *Service) AttachEvidence(ctx context.Context, actor auth.Actor, id string, images []Image) (*FieldData, error) {
	fd, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, apperrors.Validation("at least one image is required")
	}
	for _, img := range images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			return nil, apperrors.Validation("file %s is not an image", img.Filename)
		}
	}

	evidence := fd.Evidence
	for _, img := range images {
		item := ImageEvidence{
			Ref:         storage.ContentRef(img.Data),
			Filename:    img.Filename,
			ContentType: img.ContentType,
			Size:        int64(len(img.Data)),
		}
		if s.store != nil {
			key := fmt.Sprintf("field-data/%s/%s", fd.ID, strings.TrimPrefix(item.Ref, "sha256:"))
			uri, err := s.store.Put(ctx, key, img.Data, img.ContentType)
			if err != nil {
				s.logger.Warn("Failed to archive field image",
					zap.String("field_data_id", fd.ID),
					zap.String("ref", item.Ref),
					zap.Error(err))
			} else {
				item.URI = uri
			}
		}
		item.Analysis = scoring.ScoreOrDegrade(ctx, s.oracle, img.Data, s.logger)
		item.ScoredAt = s.now()
		evidence.Images = append(evidence.Images, item)
	}
	evidence.CredibilityScore, evidence.Confidence = meanScores(evidence.Images)

	if err := s.repo.UpdateEvidence(ctx, fd.ID, evidence, s.now()); err != nil {
		return nil, fmt.Errorf("failed to update evidence: %w", err)
	}
	fd.Evidence = evidence

	s.logger.Info("Field evidence attached",
		zap.String("field_data_id", fd.ID),
		zap.Int("images", len(images)),
		zap.Float64("credibility_score", evidence.CredibilityScore))
	return fd, nil
}

// Validate marks an entry validated. Validation is one-way: repeating it
// keeps the first validator.
func (s *Service) Validate(ctx context.Context, actor auth.Actor, id string) (*FieldData, error) {
	capability, err := auth.Authorize(actor, auth.RoleAdmin, auth.RoleValidator)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.MarkValidated(ctx, id, capability.Actor().ID, s.now())
	if err != nil {
		return nil, err
	}
	fd, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("Field data validated",
			zap.String("field_data_id", id),
			zap.String("validator_id", fd.ValidatorID))
	}
	return fd, nil
}

func meanScores(images []ImageEvidence) (credibility, confidence float64) {
	if len(images) == 0 {
		return 0, 0
	}
	for _, img := range images {
		credibility += img.Analysis.CredibilityScore
		confidence += img.Analysis.Confidence
	}
	n := float64(len(images))
	return credibility / n, confidence / n
}
