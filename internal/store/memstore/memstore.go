// Package memstore keeps every repository in process memory. It backs the
// "memory" database driver and the service-level tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/projects"
)

// Store bundles the four repositories.
type Store struct {
	Projects     *ProjectRepository
	FieldData    *FieldDataRepository
	Credits      *CreditRepository
	Attestations *AttestationRepository
}

func New() *Store {
	return &Store{
		Projects:     NewProjectRepository(),
		FieldData:    NewFieldDataRepository(),
		Credits:      NewCreditRepository(),
		Attestations: NewAttestationRepository(),
	}
}

func timePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func bytesCopy(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// ProjectRepository implements projects.Repository.
type ProjectRepository struct {
	mu       sync.RWMutex
	projects map[string]*projects.Project
	history  map[string][]projects.StatusChange
}

var _ projects.Repository = (*ProjectRepository)(nil)

func NewProjectRepository() *ProjectRepository {
	return &ProjectRepository{
		projects: make(map[string]*projects.Project),
		history:  make(map[string][]projects.StatusChange),
	}
}

func cloneProject(p *projects.Project) *projects.Project {
	c := *p
	c.Geometry = bytesCopy(p.Geometry)
	c.ReviewedAt = timePtr(p.ReviewedAt)
	return &c
}

func (r *ProjectRepository) Create(ctx context.Context, project *projects.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.projects[project.ID]; exists {
		return fmt.Errorf("project %s already exists", project.ID)
	}
	r.projects[project.ID] = cloneProject(project)
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*projects.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	return cloneProject(p), nil
}

func (r *ProjectRepository) List(ctx context.Context, filter projects.Filter) ([]projects.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]projects.Project, 0, len(r.projects))
	for _, p := range r.projects {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r *ProjectRepository) UpdateStatus(ctx context.Context, id string, from projects.Status, update projects.StatusUpdate) (*projects.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	if p.Status != from {
		return nil, apperrors.Transition("project", "update", string(p.Status))
	}
	update.Apply(p)
	return cloneProject(p), nil
}

func (r *ProjectRepository) UpdateDescriptors(ctx context.Context, id string, from projects.Status, update projects.DescriptorUpdate) (*projects.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	if p.Status != from {
		return nil, apperrors.Transition("project", "update", string(p.Status))
	}
	update.Apply(p)
	return cloneProject(p), nil
}

func (r *ProjectRepository) UpdateEvidence(ctx context.Context, id, digest, txRef string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return apperrors.NotFound("project", id)
	}
	p.EvidenceDigest = digest
	p.LedgerTxRef = txRef
	p.UpdatedAt = at
	return nil
}

func (r *ProjectRepository) AppendHistory(ctx context.Context, change *projects.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[change.ProjectID] = append(r.history[change.ProjectID], *change)
	return nil
}

func (r *ProjectRepository) ListHistory(ctx context.Context, projectID string) ([]projects.StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.history[projectID]), nil
}

// FieldDataRepository implements fielddata.Repository.
type FieldDataRepository struct {
	mu      sync.RWMutex
	entries map[string]*fielddata.FieldData
}

var _ fielddata.Repository = (*FieldDataRepository)(nil)

func NewFieldDataRepository() *FieldDataRepository {
	return &FieldDataRepository{entries: make(map[string]*fielddata.FieldData)}
}

func cloneFieldData(fd *fielddata.FieldData) *fielddata.FieldData {
	c := *fd
	c.Evidence.Images = slices.Clone(fd.Evidence.Images)
	c.ValidatedAt = timePtr(fd.ValidatedAt)
	return &c
}

func (r *FieldDataRepository) Create(ctx context.Context, fd *fielddata.FieldData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[fd.ID]; exists {
		return fmt.Errorf("field data %s already exists", fd.ID)
	}
	r.entries[fd.ID] = cloneFieldData(fd)
	return nil
}

func (r *FieldDataRepository) GetByID(ctx context.Context, id string) (*fielddata.FieldData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fd, ok := r.entries[id]
	if !ok {
		return nil, apperrors.NotFound("field data", id)
	}
	return cloneFieldData(fd), nil
}

func (r *FieldDataRepository) List(ctx context.Context, filter fielddata.Filter) ([]fielddata.FieldData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]fielddata.FieldData, 0, len(r.entries))
	for _, fd := range r.entries {
		if filter.ProjectID != "" && fd.ProjectID != filter.ProjectID {
			continue
		}
		if filter.CollectorID != "" && fd.CollectorID != filter.CollectorID {
			continue
		}
		if filter.Validated != nil && fd.Validated != *filter.Validated {
			continue
		}
		out = append(out, *cloneFieldData(fd))
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r *FieldDataRepository) UpdateEvidence(ctx context.Context, id string, evidence fielddata.Evidence, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd, ok := r.entries[id]
	if !ok {
		return apperrors.NotFound("field data", id)
	}
	evidence.Images = slices.Clone(evidence.Images)
	fd.Evidence = evidence
	fd.UpdatedAt = at
	return nil
}

func (r *FieldDataRepository) MarkValidated(ctx context.Context, id, validatorID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd, ok := r.entries[id]
	if !ok {
		return false, apperrors.NotFound("field data", id)
	}
	if fd.Validated {
		return false, nil
	}
	fd.Validated = true
	fd.ValidatorID = validatorID
	fd.ValidatedAt = &at
	fd.UpdatedAt = at
	return true, nil
}

// CreditRepository implements credits.Repository.
type CreditRepository struct {
	mu      sync.RWMutex
	credits map[string]*credits.Credit
}

var _ credits.Repository = (*CreditRepository)(nil)

func NewCreditRepository() *CreditRepository {
	return &CreditRepository{credits: make(map[string]*credits.Credit)}
}

func cloneCredit(c *credits.Credit) *credits.Credit {
	out := *c
	out.IssuedAt = timePtr(c.IssuedAt)
	out.RetiredAt = timePtr(c.RetiredAt)
	out.CancelledAt = timePtr(c.CancelledAt)
	return &out
}

func (r *CreditRepository) Create(ctx context.Context, credit *credits.Credit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.credits[credit.ID]; exists {
		return fmt.Errorf("credit %s already exists", credit.ID)
	}
	r.credits[credit.ID] = cloneCredit(credit)
	return nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id string) (*credits.Credit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credits[id]
	if !ok {
		return nil, apperrors.NotFound("credit", id)
	}
	return cloneCredit(c), nil
}

func (r *CreditRepository) List(ctx context.Context, filter credits.Filter) ([]credits.Credit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]credits.Credit, 0, len(r.credits))
	for _, c := range r.credits {
		if filter.ProjectID != "" && c.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ProjectIDs != nil && !slices.Contains(filter.ProjectIDs, c.ProjectID) {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.IssuedTo != "" && c.IssuedTo != filter.IssuedTo {
			continue
		}
		out = append(out, *cloneCredit(c))
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r *CreditRepository) Transition(ctx context.Context, id string, from []credits.Status, update credits.Update) (*credits.Credit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credits[id]
	if !ok {
		return nil, apperrors.NotFound("credit", id)
	}
	if !slices.Contains(from, c.Status) {
		return nil, apperrors.Transition("credit", "update", string(c.Status))
	}
	update.Apply(c)
	return cloneCredit(c), nil
}

// AttestationRepository implements attestation.Repository.
type AttestationRepository struct {
	mu      sync.RWMutex
	records map[string]*attestation.Record
}

var _ attestation.Repository = (*AttestationRepository)(nil)

func NewAttestationRepository() *AttestationRepository {
	return &AttestationRepository{records: make(map[string]*attestation.Record)}
}

func cloneRecord(r *attestation.Record) *attestation.Record {
	c := *r
	c.AnalysisData = bytesCopy(r.AnalysisData)
	c.ReconciledAt = timePtr(r.ReconciledAt)
	return &c
}

func (r *AttestationRepository) Create(ctx context.Context, record *attestation.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("attestation %s already exists", record.ID)
	}
	r.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *AttestationRepository) GetByID(ctx context.Context, id string) (*attestation.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("attestation", id)
	}
	return cloneRecord(rec), nil
}

func (r *AttestationRepository) List(ctx context.Context, filter attestation.Filter) ([]attestation.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]attestation.Record, 0, len(r.records))
	for _, rec := range r.records {
		if filter.ProjectID != "" && rec.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ProjectIDs != nil && !slices.Contains(filter.ProjectIDs, rec.ProjectID) {
			continue
		}
		if filter.Status != "" && rec.LedgerStatus != filter.Status {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !rec.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		out = append(out, *cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (r *AttestationRepository) Reconcile(ctx context.Context, id string, outcome attestation.Outcome, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false, apperrors.NotFound("attestation", id)
	}
	if rec.LedgerStatus != attestation.LedgerPending {
		return false, nil
	}
	outcome.Apply(rec, at)
	return true, nil
}

// newer orders newest first, breaking ties by id for a stable listing.
func newer(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}
