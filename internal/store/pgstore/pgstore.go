// Package pgstore persists the registry in PostgreSQL through gorm.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/projects"
)

// Store bundles the gorm-backed repositories over one connection pool.
type Store struct {
	db *gorm.DB

	Projects     *ProjectRepository
	FieldData    *FieldDataRepository
	Credits      *CreditRepository
	Attestations *AttestationRepository
}

// Open connects to dsn and sizes the pool.
func Open(dsn string, maxOpen, maxIdle int, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	log.Info("Connected to PostgreSQL")
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Projects:     &ProjectRepository{db: db},
		FieldData:    &FieldDataRepository{db: db},
		Credits:      &CreditRepository{db: db},
		Attestations: &AttestationRepository{db: db},
	}
}

// Migrate creates or updates the registry tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&projects.Project{},
		&projects.StatusChange{},
		&fielddata.FieldData{},
		&credits.Credit{},
		&attestation.Record{},
	)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func first[T any](ctx context.Context, db *gorm.DB, entity, id string) (*T, error) {
	var out T
	err := db.WithContext(ctx).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound(entity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", entity, err)
	}
	return &out, nil
}

// scopeProjects applies the ProjectID/ProjectIDs filter pair. An empty
// non-nil slice renders IN (NULL), which matches nothing.
func scopeProjects(query *gorm.DB, projectID string, projectIDs []string) *gorm.DB {
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if projectIDs != nil {
		query = query.Where("project_id IN ?", projectIDs)
	}
	return query
}

// ProjectRepository implements projects.Repository.
type ProjectRepository struct {
	db *gorm.DB
}

var _ projects.Repository = (*ProjectRepository)(nil)

func (r *ProjectRepository) Create(ctx context.Context, project *projects.Project) error {
	if err := r.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*projects.Project, error) {
	return first[projects.Project](ctx, r.db, "project", id)
}

func (r *ProjectRepository) List(ctx context.Context, filter projects.Filter) ([]projects.Project, error) {
	query := r.db.WithContext(ctx).Model(&projects.Project{}).Order("created_at DESC, id")
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	var out []projects.Project
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, from projects.Status, update projects.StatusUpdate) (*projects.Project, error) {
	fields := update.Fields()
	if update.NewCycle {
		fields["review_cycle"] = gorm.Expr("review_cycle + 1")
	}

	var updated []projects.Project
	result := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update project status: %w", result.Error)
	}
	if result.RowsAffected == 0 || len(updated) == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.Transition("project", "update", string(current.Status))
	}
	return &updated[0], nil
}

func (r *ProjectRepository) UpdateDescriptors(ctx context.Context, id string, from projects.Status, update projects.DescriptorUpdate) (*projects.Project, error) {
	var updated []projects.Project
	result := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, from).
		Updates(update.Fields())
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update project: %w", result.Error)
	}
	if result.RowsAffected == 0 || len(updated) == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.Transition("project", "update", string(current.Status))
	}
	return &updated[0], nil
}

func (r *ProjectRepository) UpdateEvidence(ctx context.Context, id, digest, txRef string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&projects.Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"evidence_digest": digest,
			"ledger_tx_ref":   txRef,
			"updated_at":      at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update project evidence: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("project", id)
	}
	return nil
}

func (r *ProjectRepository) AppendHistory(ctx context.Context, change *projects.StatusChange) error {
	if err := r.db.WithContext(ctx).Create(change).Error; err != nil {
		return fmt.Errorf("failed to append status change: %w", err)
	}
	return nil
}

func (r *ProjectRepository) ListHistory(ctx context.Context, projectID string) ([]projects.StatusChange, error) {
	var out []projects.StatusChange
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("changed_at, id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list status changes: %w", err)
	}
	return out, nil
}

// FieldDataRepository implements fielddata.Repository.
type FieldDataRepository struct {
	db *gorm.DB
}

var _ fielddata.Repository = (*FieldDataRepository)(nil)

func (r *FieldDataRepository) Create(ctx context.Context, fd *fielddata.FieldData) error {
	if err := r.db.WithContext(ctx).Create(fd).Error; err != nil {
		return fmt.Errorf("failed to create field data: %w", err)
	}
	return nil
}

func (r *FieldDataRepository) GetByID(ctx context.Context, id string) (*fielddata.FieldData, error) {
	return first[fielddata.FieldData](ctx, r.db, "field data", id)
}

func (r *FieldDataRepository) List(ctx context.Context, filter fielddata.Filter) ([]fielddata.FieldData, error) {
	query := r.db.WithContext(ctx).Model(&fielddata.FieldData{}).Order("created_at DESC, id")
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.CollectorID != "" {
		query = query.Where("collector_id = ?", filter.CollectorID)
	}
	if filter.Validated != nil {
		query = query.Where("validated = ?", *filter.Validated)
	}
	var out []fielddata.FieldData
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list field data: %w", err)
	}
	return out, nil
}

// UpdateEvidence writes through the struct so the json serializer applies.
func (r *FieldDataRepository) UpdateEvidence(ctx context.Context, id string, evidence fielddata.Evidence, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&fielddata.FieldData{}).
		Where("id = ?", id).
		Select("evidence", "updated_at").
		Updates(&fielddata.FieldData{Evidence: evidence, UpdatedAt: at})
	if result.Error != nil {
		return fmt.Errorf("failed to update field data evidence: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("field data", id)
	}
	return nil
}

func (r *FieldDataRepository) MarkValidated(ctx context.Context, id, validatorID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&fielddata.FieldData{}).
		Where("id = ? AND validated = ?", id, false).
		Updates(map[string]interface{}{
			"validated":    true,
			"validator_id": validatorID,
			"validated_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to validate field data: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// CreditRepository implements credits.Repository.
type CreditRepository struct {
	db *gorm.DB
}

var _ credits.Repository = (*CreditRepository)(nil)

func (r *CreditRepository) Create(ctx context.Context, credit *credits.Credit) error {
	if err := r.db.WithContext(ctx).Create(credit).Error; err != nil {
		return fmt.Errorf("failed to create credit: %w", err)
	}
	return nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id string) (*credits.Credit, error) {
	return first[credits.Credit](ctx, r.db, "credit", id)
}

func (r *CreditRepository) List(ctx context.Context, filter credits.Filter) ([]credits.Credit, error) {
	query := scopeProjects(r.db.WithContext(ctx).Model(&credits.Credit{}), filter.ProjectID, filter.ProjectIDs).
		Order("created_at DESC, id")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.IssuedTo != "" {
		query = query.Where("issued_to = ?", filter.IssuedTo)
	}
	var out []credits.Credit
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	return out, nil
}

func (r *CreditRepository) Transition(ctx context.Context, id string, from []credits.Status, update credits.Update) (*credits.Credit, error) {
	var updated []credits.Credit
	result := r.db.WithContext(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(update.Fields())
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update credit: %w", result.Error)
	}
	if result.RowsAffected == 0 || len(updated) == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.Transition("credit", "update", string(current.Status))
	}
	return &updated[0], nil
}

// AttestationRepository implements attestation.Repository.
type AttestationRepository struct {
	db *gorm.DB
}

var _ attestation.Repository = (*AttestationRepository)(nil)

func (r *AttestationRepository) Create(ctx context.Context, record *attestation.Record) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create attestation: %w", err)
	}
	return nil
}

func (r *AttestationRepository) GetByID(ctx context.Context, id string) (*attestation.Record, error) {
	return first[attestation.Record](ctx, r.db, "attestation", id)
}

func (r *AttestationRepository) List(ctx context.Context, filter attestation.Filter) ([]attestation.Record, error) {
	query := scopeProjects(r.db.WithContext(ctx).Model(&attestation.Record{}), filter.ProjectID, filter.ProjectIDs).
		Order("created_at DESC, id")
	if filter.Status != "" {
		query = query.Where("ledger_status = ?", filter.Status)
	}
	if !filter.CreatedBefore.IsZero() {
		query = query.Where("created_at < ?", filter.CreatedBefore)
	}
	var out []attestation.Record
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	return out, nil
}

func (r *AttestationRepository) Reconcile(ctx context.Context, id string, outcome attestation.Outcome, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&attestation.Record{}).
		Where("id = ? AND ledger_status = ?", id, attestation.LedgerPending).
		Updates(outcome.Fields(at))
	if result.Error != nil {
		return false, fmt.Errorf("failed to reconcile attestation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
