package attestation_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/ledger"
	"carbon-scribe/mrv-registry/internal/metrics"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/store/memstore"
	"carbon-scribe/mrv-registry/pkg/digest"
	"carbon-scribe/mrv-registry/pkg/storage"
)

var (
	owner     = auth.Actor{ID: "owner-1", Role: auth.RoleUser}
	stranger  = auth.Actor{ID: "user-2", Role: auth.RoleUser}
	validator = auth.Actor{ID: "V", Role: auth.RoleValidator}
	admin     = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

type MockAnchorer struct {
	mock.Mock
}

func (m *MockAnchorer) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockAnchorer) Anchor(ctx context.Context, projectID, digest string, metadata map[string]any) (*ledger.AnchorResult, error) {
	args := m.Called(ctx, projectID, digest, metadata)
	var result *ledger.AnchorResult
	if r := args.Get(0); r != nil {
		result = r.(*ledger.AnchorResult)
	}
	return result, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(projectID, event string, payload any) int {
	return m.Called(projectID, event, payload).Int(0)
}

type fixture struct {
	store      *memstore.Store
	blobs      *storage.MemoryStore
	projects   *projects.Service
	anchorer   *MockAnchorer
	notifier   *MockNotifier
	dispatcher *attestation.Dispatcher
	metrics    *metrics.Metrics
	service    *attestation.Service
	project    *projects.Project
}

func newFixture(t *testing.T, configured bool, queueSize int) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		store:    memstore.New(),
		blobs:    storage.NewMemoryStore(),
		anchorer: new(MockAnchorer),
		notifier: new(MockNotifier),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.projects = projects.NewService(f.store.Projects, logger)
	f.dispatcher = attestation.NewDispatcher(3, queueSize, logger, f.metrics)
	f.anchorer.On("Configured").Return(configured)
	f.notifier.On("Publish", mock.Anything, attestation.EventReconciled, mock.Anything).Return(1)

	f.service = attestation.NewService(attestation.Dependencies{
		Repo:       f.store.Attestations,
		Projects:   f.projects,
		Anchorer:   f.anchorer,
		Dispatcher: f.dispatcher,
		Store:      f.blobs,
		Notifier:   f.notifier,
		Metrics:    f.metrics,
		Logger:     logger,
	})

	project, err := f.projects.Create(context.Background(), owner, projects.CreateProjectRequest{Name: "Mangrove restoration"})
	require.NoError(t, err)
	f.project = project
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.service.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.service.Shutdown(ctx)
	})
}

func (f *fixture) waitFor(t *testing.T, id string, status attestation.LedgerStatus) *attestation.Record {
	t.Helper()
	var rec *attestation.Record
	require.Eventually(t, func() bool {
		got, err := f.store.Attestations.GetByID(context.Background(), id)
		if err != nil {
			return false
		}
		rec = got
		return got.LedgerStatus == status
	}, 2*time.Second, 10*time.Millisecond)
	return rec
}

func TestSubmit_AnchorsAndReconcilesConfirmed(t *testing.T) {
	f := newFixture(t, true, 8)
	ctx := context.Background()

	f.anchorer.On("Anchor", mock.Anything, f.project.ID, mock.AnythingOfType("string"), mock.Anything).Return(&ledger.AnchorResult{
		TxHash:      "0xtx",
		BlockNumber: 42,
		GasUsed:     21000,
		Success:     true,
		ExplorerURL: ledger.ExplorerURL(ledger.ChainIDAmoy, "0xtx"),
		Method:      ledger.MethodSelfTx,
	}, nil)

	data := map[string]any{"co2": 120.5, "areaChange": 0.03}
	record, err := f.service.Submit(ctx, validator, f.project.ID, data)
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerPending, record.LedgerStatus)
	assert.Equal(t, "V", record.ValidatorID)

	want, preimage, err := digest.Sum(f.project.ID, "V", record.AnalyzedAt, data)
	require.NoError(t, err)
	assert.Equal(t, want, record.Digest)

	archived, err := f.blobs.Get(ctx, "attestations/"+f.project.ID+"/"+record.ID+".json")
	require.NoError(t, err)
	assert.Equal(t, preimage, archived)
	assert.Equal(t, "mem://attestations/"+f.project.ID+"/"+record.ID+".json", record.BundleURI)

	f.start(t)
	confirmed := f.waitFor(t, record.ID, attestation.LedgerConfirmed)
	assert.Equal(t, "0xtx", confirmed.LedgerTxRef)
	assert.Equal(t, uint64(42), confirmed.BlockNumber)
	assert.Equal(t, "https://amoy.polygonscan.com/tx/0xtx", confirmed.ExplorerURL)
	assert.Equal(t, want, confirmed.Digest)

	require.Eventually(t, func() bool {
		p, err := f.projects.Lookup(ctx, f.project.ID)
		return err == nil && p.LedgerTxRef == "0xtx"
	}, 2*time.Second, 10*time.Millisecond)
	p, err := f.projects.Lookup(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, want, p.EvidenceDigest)

	f.anchorer.AssertNumberOfCalls(t, "Anchor", 1)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.AnchorOutcomes.WithLabelValues("confirmed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttestationsRecorded))
}

func TestSubmit_NotConfiguredRecordsLedgerUnavailable(t *testing.T) {
	f := newFixture(t, false, 8)

	record, err := f.service.Submit(context.Background(), validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerUnavailable, record.LedgerStatus)
	assert.NotEmpty(t, record.Digest)
	require.NotNil(t, record.ReconciledAt)

	f.anchorer.AssertNotCalled(t, "Anchor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.dispatcher.Depth())
	f.notifier.AssertCalled(t, "Publish", f.project.ID, attestation.EventReconciled, mock.Anything)
}

func TestSubmit_AnchorFailureKeepsTxRef(t *testing.T) {
	f := newFixture(t, true, 8)
	f.anchorer.On("Anchor", mock.Anything, f.project.ID, mock.Anything, mock.Anything).Return(nil,
		&apperrors.AnchorFailure{Reason: "confirmation timeout", TxRef: "0xdangling", Err: context.DeadlineExceeded})

	record, err := f.service.Submit(context.Background(), validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerPending, record.LedgerStatus)

	f.start(t)
	failed := f.waitFor(t, record.ID, attestation.LedgerFailed)
	assert.Equal(t, "0xdangling", failed.LedgerTxRef)
	assert.Contains(t, failed.FailureReason, "confirmation timeout")

	p, err := f.projects.Lookup(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, p.LedgerTxRef)
}

func TestSubmit_RevertedReceiptIsFailed(t *testing.T) {
	f := newFixture(t, true, 8)
	f.anchorer.On("Anchor", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ledger.AnchorResult{
		TxHash: "0xrev", Success: false, Method: ledger.MethodContract,
	}, nil)

	record, err := f.service.Submit(context.Background(), admin, f.project.ID, nil)
	require.NoError(t, err)

	f.start(t)
	failed := f.waitFor(t, record.ID, attestation.LedgerFailed)
	assert.Equal(t, "transaction reverted", failed.FailureReason)
	assert.Equal(t, "0xrev", failed.LedgerTxRef)
}

func TestSubmit_QueueFullRecordsFailed(t *testing.T) {
	f := newFixture(t, true, 0)

	record, err := f.service.Submit(context.Background(), validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerFailed, record.LedgerStatus)
	assert.Equal(t, "anchor queue full", record.FailureReason)
	f.anchorer.AssertNotCalled(t, "Anchor", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_CallerErrors(t *testing.T) {
	f := newFixture(t, false, 8)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, owner, f.project.ID, map[string]any{"co2": 1})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = f.service.Submit(ctx, validator, "missing", map[string]any{"co2": 1})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": math.NaN()})
	assert.True(t, errors.Is(err, apperrors.ErrEncoding))

	records, err := f.store.Attestations.List(ctx, attestation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	f := newFixture(t, true, 8)
	ctx := context.Background()

	record, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)

	first, err := f.service.Reconcile(ctx, record.ID, attestation.Outcome{Status: attestation.LedgerConfirmed, TxRef: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerConfirmed, first.LedgerStatus)

	second, err := f.service.Reconcile(ctx, record.ID, attestation.Outcome{Status: attestation.LedgerFailed, Reason: "late callback"})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerConfirmed, second.LedgerStatus)
	assert.Equal(t, "0x1", second.LedgerTxRef)
	assert.Empty(t, second.FailureReason)

	f.notifier.AssertNumberOfCalls(t, "Publish", 1)

	_, err = f.service.Reconcile(ctx, record.ID, attestation.Outcome{Status: attestation.LedgerPending})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.service.Reconcile(ctx, "missing", attestation.Outcome{Status: attestation.LedgerFailed})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestResolve_AdminOnly(t *testing.T) {
	f := newFixture(t, true, 8)
	ctx := context.Background()
	record, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, validator, record.ID, attestation.Outcome{Status: attestation.LedgerFailed})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	resolved, err := f.service.Resolve(ctx, admin, record.ID, attestation.Outcome{Status: attestation.LedgerConfirmed, TxRef: "0xlate"})
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerConfirmed, resolved.LedgerStatus)
}

func TestVerify_DetectsTampering(t *testing.T) {
	f := newFixture(t, false, 8)
	ctx := context.Background()

	record, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 120.5, "areaChange": 0.03})
	require.NoError(t, err)

	v, err := f.service.Verify(ctx, validator, record.ID)
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.Equal(t, record.Digest, v.Recomputed)

	tampered := *record
	tampered.ID = "tampered"
	tampered.AnalysisData = []byte(`{"areaChange":0.03,"co2":999}`)
	require.NoError(t, f.store.Attestations.Create(ctx, &tampered))

	v, err = f.service.Verify(ctx, admin, "tampered")
	require.NoError(t, err)
	assert.False(t, v.Match)
	assert.Equal(t, record.Digest, v.Stored)
}

func TestGetAndList_ScopedForUsers(t *testing.T) {
	f := newFixture(t, false, 8)
	ctx := context.Background()

	record, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)

	got, err := f.service.Get(ctx, owner, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	_, err = f.service.Get(ctx, stranger, record.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	mine, err := f.service.List(ctx, owner, attestation.Filter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := f.service.List(ctx, stranger, attestation.Filter{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.service.List(ctx, stranger, attestation.Filter{ProjectID: f.project.ID})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestReanchor(t *testing.T) {
	f := newFixture(t, true, 8)
	ctx := context.Background()

	record, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 120.5})
	require.NoError(t, err)
	require.Equal(t, attestation.LedgerPending, record.LedgerStatus)

	_, err = f.service.Reanchor(ctx, admin, record.ID)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = f.service.Reconcile(ctx, record.ID, attestation.Outcome{Status: attestation.LedgerFailed, Reason: "submission failed"})
	require.NoError(t, err)

	_, err = f.service.Reanchor(ctx, validator, record.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	again, err := f.service.Reanchor(ctx, admin, record.ID)
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerPending, again.LedgerStatus)
	assert.NotEqual(t, record.ID, again.ID)
	assert.Equal(t, record.ID, again.ReanchorOf)
	assert.Equal(t, record.Digest, again.Digest)
	assert.True(t, record.AnalyzedAt.Equal(again.AnalyzedAt))
	assert.Equal(t, 2, f.dispatcher.Depth())

	prior, err := f.store.Attestations.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, attestation.LedgerFailed, prior.LedgerStatus)

	_, err = f.service.Reconcile(ctx, again.ID, attestation.Outcome{Status: attestation.LedgerConfirmed, TxRef: "0x2"})
	require.NoError(t, err)
	_, err = f.service.Reanchor(ctx, admin, again.ID)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestStalePending(t *testing.T) {
	f := newFixture(t, true, 8)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, validator, f.project.ID, map[string]any{"co2": 1})
	require.NoError(t, err)

	stale, err := f.service.StalePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = f.service.StalePending(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
