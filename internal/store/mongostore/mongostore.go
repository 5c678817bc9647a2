// Package mongostore persists the registry in MongoDB. Conditional state
// changes are single-document updates filtered on the expected state.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/projects"
)

const (
	collProjects     = "projects"
	collHistory      = "project_status_history"
	collFieldData    = "field_data"
	collCredits      = "credits"
	collAttestations = "attestations"
)

// Store bundles the Mongo-backed repositories over one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger

	Projects     *ProjectRepository
	FieldData    *FieldDataRepository
	Credits      *CreditRepository
	Attestations *AttestationRepository
}

// Connect opens a client, pings the server and builds the repositories.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	logger.Info("Connected to MongoDB", zap.String("database", database))
	return &Store{
		client:       client,
		db:           db,
		logger:       logger,
		Projects:     &ProjectRepository{projects: db.Collection(collProjects), history: db.Collection(collHistory)},
		FieldData:    &FieldDataRepository{coll: db.Collection(collFieldData)},
		Credits:      &CreditRepository{coll: db.Collection(collCredits)},
		Attestations: &AttestationRepository{coll: db.Collection(collAttestations)},
	}, nil
}

// EnsureIndexes creates the secondary indexes used by List filters.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collProjects: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		collHistory: {
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "changed_at", Value: 1}}},
		},
		collFieldData: {
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
			{Keys: bson.D{{Key: "collector_id", Value: 1}}},
		},
		collCredits: {
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "issued_to", Value: 1}}},
		},
		collAttestations: {
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
			{Keys: bson.D{{Key: "ledger_status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "digest", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var newestFirst = options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})

func findOne[T any](ctx context.Context, coll *mongo.Collection, entity, id string) (*T, error) {
	var out T
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound(entity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", entity, err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions, entity string) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entity, err)
	}
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", entity, err)
	}
	return out, nil
}

// ProjectRepository implements projects.Repository.
type ProjectRepository struct {
	projects *mongo.Collection
	history  *mongo.Collection
}

var _ projects.Repository = (*ProjectRepository)(nil)

func (r *ProjectRepository) Create(ctx context.Context, project *projects.Project) error {
	if _, err := r.projects.InsertOne(ctx, project); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*projects.Project, error) {
	return findOne[projects.Project](ctx, r.projects, "project", id)
}

func (r *ProjectRepository) List(ctx context.Context, filter projects.Filter) ([]projects.Project, error) {
	q := bson.M{}
	if filter.OwnerID != "" {
		q["owner_id"] = filter.OwnerID
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	return findAll[projects.Project](ctx, r.projects, q, newestFirst, "projects")
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, from projects.Status, update projects.StatusUpdate) (*projects.Project, error) {
	change := bson.M{"$set": update.Fields()}
	if update.NewCycle {
		change["$inc"] = bson.M{"review_cycle": 1}
	}

	var updated projects.Project
	err := r.projects.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		change,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.Transition("project", "update", string(current.Status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update project status: %w", err)
	}
	return &updated, nil
}

func (r *ProjectRepository) UpdateDescriptors(ctx context.Context, id string, from projects.Status, update projects.DescriptorUpdate) (*projects.Project, error) {
	var updated projects.Project
	err := r.projects.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": update.Fields()},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.Transition("project", "update", string(current.Status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return &updated, nil
}

func (r *ProjectRepository) UpdateEvidence(ctx context.Context, id, digest, txRef string, at time.Time) error {
	res, err := r.projects.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"evidence_digest": digest,
		"ledger_tx_ref":   txRef,
		"updated_at":      at,
	}})
	if err != nil {
		return fmt.Errorf("failed to update project evidence: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("project", id)
	}
	return nil
}

func (r *ProjectRepository) AppendHistory(ctx context.Context, change *projects.StatusChange) error {
	if _, err := r.history.InsertOne(ctx, change); err != nil {
		return fmt.Errorf("failed to insert status change: %w", err)
	}
	return nil
}

func (r *ProjectRepository) ListHistory(ctx context.Context, projectID string) ([]projects.StatusChange, error) {
	opts := options.Find().SetSort(bson.D{{Key: "changed_at", Value: 1}})
	return findAll[projects.StatusChange](ctx, r.history, bson.M{"project_id": projectID}, opts, "status changes")
}

// FieldDataRepository implements fielddata.Repository.
type FieldDataRepository struct {
	coll *mongo.Collection
}

var _ fielddata.Repository = (*FieldDataRepository)(nil)

func (r *FieldDataRepository) Create(ctx context.Context, fd *fielddata.FieldData) error {
	if _, err := r.coll.InsertOne(ctx, fd); err != nil {
		return fmt.Errorf("failed to insert field data: %w", err)
	}
	return nil
}

func (r *FieldDataRepository) GetByID(ctx context.Context, id string) (*fielddata.FieldData, error) {
	return findOne[fielddata.FieldData](ctx, r.coll, "field data", id)
}

func (r *FieldDataRepository) List(ctx context.Context, filter fielddata.Filter) ([]fielddata.FieldData, error) {
	q := bson.M{}
	if filter.ProjectID != "" {
		q["project_id"] = filter.ProjectID
	}
	if filter.CollectorID != "" {
		q["collector_id"] = filter.CollectorID
	}
	if filter.Validated != nil {
		q["validated"] = *filter.Validated
	}
	return findAll[fielddata.FieldData](ctx, r.coll, q, newestFirst, "field data")
}

func (r *FieldDataRepository) UpdateEvidence(ctx context.Context, id string, evidence fielddata.Evidence, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"evidence":   evidence,
		"updated_at": at,
	}})
	if err != nil {
		return fmt.Errorf("failed to update field data evidence: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("field data", id)
	}
	return nil
}

func (r *FieldDataRepository) MarkValidated(ctx context.Context, id, validatorID string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "validated": false},
		bson.M{"$set": bson.M{
			"validated":    true,
			"validator_id": validatorID,
			"validated_at": at,
			"updated_at":   at,
		}})
	if err != nil {
		return false, fmt.Errorf("failed to validate field data: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// CreditRepository implements credits.Repository.
type CreditRepository struct {
	coll *mongo.Collection
}

var _ credits.Repository = (*CreditRepository)(nil)

func (r *CreditRepository) Create(ctx context.Context, credit *credits.Credit) error {
	if _, err := r.coll.InsertOne(ctx, credit); err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}
	return nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id string) (*credits.Credit, error) {
	return findOne[credits.Credit](ctx, r.coll, "credit", id)
}

func (r *CreditRepository) List(ctx context.Context, filter credits.Filter) ([]credits.Credit, error) {
	q := bson.M{}
	if filter.ProjectIDs != nil {
		q["project_id"] = bson.M{"$in": filter.ProjectIDs}
	}
	if filter.ProjectID != "" {
		q["project_id"] = filter.ProjectID
		if filter.ProjectIDs != nil {
			q["project_id"] = bson.M{"$eq": filter.ProjectID, "$in": filter.ProjectIDs}
		}
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.IssuedTo != "" {
		q["issued_to"] = filter.IssuedTo
	}
	return findAll[credits.Credit](ctx, r.coll, q, newestFirst, "credits")
}

func (r *CreditRepository) Transition(ctx context.Context, id string, from []credits.Status, update credits.Update) (*credits.Credit, error) {
	var updated credits.Credit
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": update.Fields()},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.Transition("credit", "update", string(current.Status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update credit: %w", err)
	}
	return &updated, nil
}

// AttestationRepository implements attestation.Repository.
type AttestationRepository struct {
	coll *mongo.Collection
}

var _ attestation.Repository = (*AttestationRepository)(nil)

func (r *AttestationRepository) Create(ctx context.Context, record *attestation.Record) error {
	if _, err := r.coll.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

func (r *AttestationRepository) GetByID(ctx context.Context, id string) (*attestation.Record, error) {
	return findOne[attestation.Record](ctx, r.coll, "attestation", id)
}

func (r *AttestationRepository) List(ctx context.Context, filter attestation.Filter) ([]attestation.Record, error) {
	q := bson.M{}
	if filter.ProjectIDs != nil {
		q["project_id"] = bson.M{"$in": filter.ProjectIDs}
	}
	if filter.ProjectID != "" {
		q["project_id"] = filter.ProjectID
		if filter.ProjectIDs != nil {
			q["project_id"] = bson.M{"$eq": filter.ProjectID, "$in": filter.ProjectIDs}
		}
	}
	if filter.Status != "" {
		q["ledger_status"] = filter.Status
	}
	if !filter.CreatedBefore.IsZero() {
		q["created_at"] = bson.M{"$lt": filter.CreatedBefore}
	}
	return findAll[attestation.Record](ctx, r.coll, q, newestFirst, "attestations")
}

func (r *AttestationRepository) Reconcile(ctx context.Context, id string, outcome attestation.Outcome, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "ledger_status": attestation.LedgerPending},
		bson.M{"$set": outcome.Fields(at)})
	if err != nil {
		return false, fmt.Errorf("failed to reconcile attestation: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
