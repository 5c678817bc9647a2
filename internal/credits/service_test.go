package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/metrics"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/store/memstore"
)

var (
	owner     = auth.Actor{ID: "owner-1", Role: auth.RoleUser}
	holder    = auth.Actor{ID: "user-1", Role: auth.RoleUser, Address: "addr1"}
	other     = auth.Actor{ID: "user-2", Role: auth.RoleUser, Address: "addr2"}
	validator = auth.Actor{ID: "V", Role: auth.RoleValidator}
	admin     = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

type evidenceMap map[string]*attestation.Record

func (m evidenceMap) Lookup(ctx context.Context, id string) (*attestation.Record, error) {
	if r, ok := m[id]; ok {
		return r, nil
	}
	return nil, apperrors.NotFound("attestation", id)
}

type fixture struct {
	store    *memstore.Store
	projects *projects.Service
	metrics  *metrics.Metrics
	service  *credits.Service
	project  *projects.Project
	evidence evidenceMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		metrics:  metrics.New(prometheus.NewRegistry()),
		evidence: evidenceMap{},
	}
	f.projects = projects.NewService(f.store.Projects, zap.NewNop())
	f.service = credits.NewService(f.store.Credits, f.projects, f.evidence, f.metrics, zap.NewNop())

	p, err := f.projects.Create(context.Background(), owner, projects.CreateProjectRequest{Name: "Mangrove restoration", Methodology: "VM0033"})
	require.NoError(t, err)
	f.project = p
	return f
}

func (f *fixture) mint(t *testing.T, amount float64) *credits.Credit {
	t.Helper()
	c, err := f.service.Create(context.Background(), validator, credits.CreateRequest{
		ProjectID: f.project.ID,
		Amount:    amount,
		Vintage:   "2024",
	})
	require.NoError(t, err)
	return c
}

func TestIssueThenRetire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.mint(t, 100.5)
	assert.Equal(t, credits.StatusDraft, c.Status)
	assert.Equal(t, "VM0033", c.Methodology)

	issued, err := f.service.Issue(ctx, validator, c.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)
	assert.Equal(t, credits.StatusIssued, issued.Status)
	assert.Equal(t, "addr1", issued.IssuedTo)
	require.NotNil(t, issued.IssuedAt)

	retired, err := f.service.Retire(ctx, holder, c.ID, credits.RetireRequest{Reason: "offset 2024 travel"})
	require.NoError(t, err)
	assert.Equal(t, credits.StatusRetired, retired.Status)
	assert.Equal(t, "addr1", retired.RetiredBy)
	require.NotNil(t, retired.RetiredAt)
	assert.Equal(t, 100.5, retired.Amount)

	_, err = f.service.Retire(ctx, holder, c.ID, credits.RetireRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CreditTransitions.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CreditTransitions.WithLabelValues("retired")))
}

func TestRetireByNonHolderIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.mint(t, 10)
	_, err := f.service.Issue(ctx, admin, c.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)

	_, err = f.service.Retire(ctx, other, c.ID, credits.RetireRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	unchanged, err := f.store.Credits.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credits.StatusIssued, unchanged.Status)
	assert.Empty(t, unchanged.RetiredBy)
	assert.Nil(t, unchanged.RetiredAt)

	retired, err := f.service.Retire(ctx, admin, c.ID, credits.RetireRequest{Reason: "registry correction"})
	require.NoError(t, err)
	assert.Equal(t, admin.ID, retired.RetiredBy)
}

func TestDisallowedTransitionsLeaveCreditUnmodified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.mint(t, 5)
	_, err := f.service.Retire(ctx, admin, draft.ID, credits.RetireRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = f.service.Issue(ctx, validator, draft.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)
	_, err = f.service.Issue(ctx, validator, draft.ID, credits.IssueRequest{Recipient: "addr2"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	_, err = f.service.Cancel(ctx, validator, draft.ID)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	got, err := f.store.Credits.GetByID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "addr1", got.IssuedTo)
	assert.Equal(t, credits.StatusIssued, got.Status)
}

func TestSubmitAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.mint(t, 7)
	pending, err := f.service.Submit(ctx, validator, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credits.StatusPending, pending.Status)

	_, err = f.service.Submit(ctx, validator, c.ID)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	cancelled, err := f.service.Cancel(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, credits.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.service.Issue(ctx, admin, c.ID, credits.IssueRequest{Recipient: "addr1"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, owner, credits.CreateRequest{ProjectID: f.project.ID, Amount: 1})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	for _, amount := range []float64{0, -3} {
		_, err = f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: amount})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	}

	_, err = f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: "missing", Amount: 1})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 1, Status: credits.StatusIssued})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	pending, err := f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 1, Status: credits.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, credits.StatusPending, pending.Status)
}

func TestCreateWithAttestationCopiesDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.evidence["att-1"] = &attestation.Record{ID: "att-1", ProjectID: f.project.ID, Digest: "0xabc", BundleURI: "s3://bucket/a.json"}
	f.evidence["att-2"] = &attestation.Record{ID: "att-2", ProjectID: "elsewhere", Digest: "0xdef"}

	c, err := f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 50, AttestationID: "att-1"})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", c.Metadata.EvidenceDigest)
	assert.Equal(t, "s3://bucket/a.json", c.Metadata.DataBundleURI)

	_, err = f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 50, AttestationID: "att-2"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.service.Create(ctx, validator, credits.CreateRequest{
		ProjectID: f.project.ID, Amount: 50, AttestationID: "att-1",
		Metadata: credits.Metadata{EvidenceDigest: "0xforged"},
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 50, AttestationID: "att-9"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestIssueMarksMonitoringProjectIssued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.projects.SubmitForReview(ctx, owner, f.project.ID)
	require.NoError(t, err)
	_, err = f.projects.Approve(ctx, validator, f.project.ID, "")
	require.NoError(t, err)

	c := f.mint(t, 20)
	_, err = f.service.Issue(ctx, validator, c.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)

	p, err := f.projects.Lookup(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.StatusIssued, p.Status)

	_, err = f.service.Issue(ctx, validator, f.mint(t, 1).ID, credits.IssueRequest{Recipient: "addr1"})
	assert.NoError(t, err, "issuing on an already issued project is not an error")
}

func TestReadScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.mint(t, 3)
	_, err := f.service.Issue(ctx, validator, c.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, holder, c.ID)
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, owner, c.ID)
	assert.NoError(t, err)
	_, err = f.service.Get(ctx, other, c.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	ownerView, err := f.service.List(ctx, owner, credits.Filter{})
	require.NoError(t, err)
	assert.Len(t, ownerView, 1)

	otherView, err := f.service.List(ctx, other, credits.Filter{})
	require.NoError(t, err)
	assert.Empty(t, otherView)

	_, err = f.service.Summary(ctx, other, f.project.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mint(t, 10)
	pending, err := f.service.Create(ctx, validator, credits.CreateRequest{ProjectID: f.project.ID, Amount: 20, Status: credits.StatusPending})
	require.NoError(t, err)
	require.Equal(t, credits.StatusPending, pending.Status)
	issued := f.mint(t, 30)
	retired := f.mint(t, 40)

	_, err = f.service.Issue(ctx, validator, issued.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)
	_, err = f.service.Issue(ctx, validator, retired.ID, credits.IssueRequest{Recipient: "addr1"})
	require.NoError(t, err)
	_, err = f.service.Retire(ctx, holder, retired.ID, credits.RetireRequest{})
	require.NoError(t, err)

	summary, err := f.service.Summary(ctx, admin, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, summary.ProjectID)
	assert.Equal(t, 4, summary.TotalCredits)
	assert.Equal(t, 100.0, summary.TotalAmount)
	assert.Equal(t, 1, summary.IssuedCredits)
	assert.Equal(t, 30.0, summary.IssuedAmount)
	assert.Equal(t, 1, summary.RetiredCredits)
	assert.Equal(t, 40.0, summary.RetiredAmount)
	assert.Equal(t, 1, summary.PendingCredits)
	assert.Equal(t, credits.StatusTotals{Count: 1, Amount: 10}, summary.ByStatus[credits.StatusDraft])
	assert.Equal(t, credits.StatusTotals{}, summary.ByStatus[credits.StatusCancelled])
	assert.NotZero(t, summary.GeneratedAt)
}

func TestUpdateNeverCarriesAmount(t *testing.T) {
	for _, to := range credits.Statuses {
		fields := credits.Update{To: to}.Fields()
		assert.NotContains(t, fields, "amount")
	}
}
