package orchestrator_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/deposit"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/orchestrator"
	"github.com/passrepo/depositorch/internal/registry"
	"github.com/passrepo/depositorch/internal/repoclient"
	"github.com/passrepo/depositorch/internal/transport"
	"github.com/passrepo/depositorch/internal/worker"
)

// staticStatusProcessor resolves every status check to a fixed native term,
// regardless of statusURL, for scenarios S2/S3 where the real SWORD/JSON
// documents are out of scope.
type staticStatusProcessor struct {
	status model.DepositStatus
	ok     bool
}

func (p staticStatusProcessor) Resolve(context.Context, string, registry.TargetConfig) (model.DepositStatus, bool, error) {
	return p.status, p.ok, nil
}

// staticPackagerSource resolves every target ref to a single fixed Packager.
type staticPackagerSource struct{ packager *orchestrator.Packager }

func (s staticPackagerSource) Resolve(string) (*orchestrator.Packager, bool) { return s.packager, true }

type staticManifest struct{ sub *deposit.Submission }

func (m staticManifest) Build(ctx context.Context, s *model.Submission) (*deposit.Submission, error) {
	return m.sub, nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Load(registry.Document{
		Targets: []registry.TargetConfig{
			{
				Key: "test-target",
				Transport: registry.TransportConfig{
					Protocol:      "filesystem",
					BaseDirectory: t.TempDir(),
				},
			},
		},
	}))
	return r
}

// TestSubmissionProcessor_ClaimsAndFansOut covers the claim-and-fan-out half
// of SubmissionProcessor.Process: the Submission transitions to IN_PROGRESS
// and a Deposit is created per target. The full synchronous settlement path
// (scenario S1) is covered end-to-end by
// TestDepositTask_SynchronousTargetSettlesAccepted below.
func TestSubmissionProcessor_ClaimsAndFansOut(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()

	var created model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{
		Submitted:        true,
		Source:           model.SourcePass,
		AggregatedStatus: model.AggregatedNotStarted,
		Repositories:     []string{"test-target"},
	}, &created)
	require.NoError(t, err)

	reg := newTestRegistry(t)
	pool := worker.New(ctx, 2, 8)
	defer pool.Stop()

	engine := cse.New(fake)
	errHandler := orchestrator.NewErrorHandler(ctx, engine)
	defer errHandler.Stop()

	manifest := &deposit.Submission{
		SubmissionID: created.ID,
		Files: []deposit.File{{
			Path: "manuscript.pdf",
			Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("bytes")), nil },
		}},
	}

	proc := &orchestrator.SubmissionProcessor{
		Engine:       engine,
		Client:       fake,
		Manifest:     staticManifest{sub: manifest},
		Packagers:    orchestrator.NewPackagerSource(reg, assembler.New()),
		Pool:         pool,
		ErrorHandler: errHandler,
	}

	require.NoError(t, proc.Process(ctx, created.ID))

	var afterClaim model.Submission
	_, err = fake.Read(ctx, created.ID, model.EntitySubmission, &afterClaim)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedInProgress, afterClaim.AggregatedStatus)

	require.Eventually(t, func() bool {
		ids, _ := fake.FindByAttribute(ctx, model.EntityDeposit, "submission", created.ID)
		return len(ids) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubmissionAggregator_Idempotent(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{
		AggregatedStatus: model.AggregatedInProgress,
	}, &sub)
	require.NoError(t, err)

	var dep model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{
		SubmissionRef: sub.ID,
		Status:        model.DepositStatusAccepted,
	}, &dep)
	require.NoError(t, err)
	fake.SeedIncoming(sub.ID, "submission", dep.ID)

	agg := &orchestrator.SubmissionAggregator{Engine: engine, Client: fake}
	require.NoError(t, agg.Aggregate(ctx, sub.ID))

	var afterFirst model.Submission
	_, err = fake.Read(ctx, sub.ID, model.EntitySubmission, &afterFirst)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedAccepted, afterFirst.AggregatedStatus)
	etagAfterFirst, _ := fake.ETagOf(sub.ID)

	require.NoError(t, agg.Aggregate(ctx, sub.ID))
	etagAfterSecond, _ := fake.ETagOf(sub.ID)
	assert.Equal(t, etagAfterFirst, etagAfterSecond, "repeated aggregation over unchanged children must not write")
}

func TestSubmissionAggregator_NonTerminalChildrenNoWrite(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{
		AggregatedStatus: model.AggregatedInProgress,
	}, &sub)
	require.NoError(t, err)

	var dep model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{
		SubmissionRef: sub.ID,
		Status:        model.DepositStatusSubmitted,
	}, &dep)
	require.NoError(t, err)
	fake.SeedIncoming(sub.ID, "submission", dep.ID)

	agg := &orchestrator.SubmissionAggregator{Engine: engine, Client: fake}

	require.NoError(t, agg.Aggregate(ctx, sub.ID))
	etagAfterFirst, _ := fake.ETagOf(sub.ID)

	require.NoError(t, agg.Aggregate(ctx, sub.ID))
	etagAfterSecond, _ := fake.ETagOf(sub.ID)
	assert.Equal(t, etagAfterFirst, etagAfterSecond, "aggregation over still-intermediate children must not write")

	var afterSecond model.Submission
	_, err = fake.Read(ctx, sub.ID, model.EntitySubmission, &afterSecond)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedInProgress, afterSecond.AggregatedStatus)
}

func TestSubmissionAggregator_MixedOutcomeRejects(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{AggregatedStatus: model.AggregatedInProgress}, &sub)
	require.NoError(t, err)

	var depA, depB model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{SubmissionRef: sub.ID, Status: model.DepositStatusAccepted}, &depA)
	require.NoError(t, err)
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{SubmissionRef: sub.ID, Status: model.DepositStatusRejected}, &depB)
	require.NoError(t, err)
	fake.SeedIncoming(sub.ID, "submission", depA.ID, depB.ID)

	agg := &orchestrator.SubmissionAggregator{Engine: engine, Client: fake}
	require.NoError(t, agg.Aggregate(ctx, sub.ID))

	var after model.Submission
	_, err = fake.Read(ctx, sub.ID, model.EntitySubmission, &after)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedRejected, after.AggregatedStatus)
}

func testManifest(subID string) *deposit.Submission {
	return &deposit.Submission{
		SubmissionID: subID,
		Files: []deposit.File{{
			Path: "manuscript.pdf",
			Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("bytes")), nil },
		}},
	}
}

// TestDepositTask_SynchronousTargetSettlesAccepted exercises scenario S1 in
// full: a filesystem target returns no asynchronous receipt, so the Deposit
// must reach ACCEPTED and its RepositoryCopy COMPLETE within one DepositTask
// run, with no refresh step required (spec.md §8 property 2, scenario S1).
func TestDepositTask_SynchronousTargetSettlesAccepted(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{AggregatedStatus: model.AggregatedInProgress}, &sub)
	require.NoError(t, err)

	var dep model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{SubmissionRef: sub.ID, RepositoryRef: "test-target", Status: model.DepositStatusNull}, &dep)
	require.NoError(t, err)
	fake.SeedIncoming(sub.ID, "submission", dep.ID)

	reg := newTestRegistry(t)
	cfg, ok := reg.Lookup("test-target")
	require.True(t, ok)
	packager, err := orchestrator.ResolvePackager(cfg, assembler.New())
	require.NoError(t, err)

	task := &orchestrator.DepositTask{
		Engine:    engine,
		Client:    fake,
		DepositID: dep.ID,
		Manifest:  testManifest(sub.ID),
		Packager:  packager,
	}
	require.NoError(t, task.Run(ctx))

	var afterDep model.Deposit
	_, err = fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	require.Equal(t, model.DepositStatusAccepted, afterDep.Status)

	var copyEntity model.RepositoryCopy
	_, err = fake.Read(ctx, afterDep.RepositoryCopyRef, model.EntityRepositoryCopy, &copyEntity)
	require.NoError(t, err)
	assert.Equal(t, model.CopyComplete, copyEntity.CopyStatus)

	agg := &orchestrator.SubmissionAggregator{Engine: engine, Client: fake}
	require.NoError(t, agg.Aggregate(ctx, sub.ID))
	var afterSub model.Submission
	_, err = fake.Read(ctx, sub.ID, model.EntitySubmission, &afterSub)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedAccepted, afterSub.AggregatedStatus)
}

// fakeAsyncTransport always reports success with a status-document URL,
// standing in for a real SWORDv2 target whose acceptance is decided later
// (scenarios S2/S3).
type fakeAsyncTransport struct{}

func (fakeAsyncTransport) Open(ctx context.Context, params registry.TransportConfig) (transport.Session, error) {
	return fakeAsyncSession{}, nil
}

type fakeAsyncSession struct{}

func (fakeAsyncSession) Send(ctx context.Context, pkg *assembler.PackageStream, params registry.TransportConfig) (transport.Response, error) {
	return transport.Response{Success: true, Receipt: transport.Receipt{StatusDocumentURL: "https://example.org/status/1"}}, nil
}
func (fakeAsyncSession) Close() error { return nil }

func seedAsyncSubmittedDeposit(t *testing.T, fake *repoclient.Fake, ctx context.Context) (model.Submission, model.Deposit, *orchestrator.Packager) {
	t.Helper()
	engine := cse.New(fake)

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{AggregatedStatus: model.AggregatedInProgress}, &sub)
	require.NoError(t, err)

	var dep model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{SubmissionRef: sub.ID, RepositoryRef: "async-target", Status: model.DepositStatusNull}, &dep)
	require.NoError(t, err)
	fake.SeedIncoming(sub.ID, "submission", dep.ID)

	packager := &orchestrator.Packager{
		Config:    registry.TargetConfig{Key: "async-target"},
		Assembler: assembler.New(),
		Transport: fakeAsyncTransport{},
	}

	task := &orchestrator.DepositTask{Engine: engine, Client: fake, DepositID: dep.ID, Manifest: testManifest(sub.ID), Packager: packager}
	require.NoError(t, task.Run(ctx))

	var afterDep model.Deposit
	_, err = fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	require.Equal(t, model.DepositStatusSubmitted, afterDep.Status)
	require.NotEmpty(t, afterDep.RepositoryCopyRef)

	return sub, afterDep, packager
}

// TestDepositStatusRefresher_AsyncAccepted exercises scenario S2: an
// asynchronous target whose status document resolves to an accepted term
// drives the Deposit SUBMITTED -> ACCEPTED and its RepositoryCopy to
// COMPLETE.
func TestDepositStatusRefresher_AsyncAccepted(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	_, dep, packager := seedAsyncSubmittedDeposit(t, fake, ctx)
	packager.StatusProcessor = staticStatusProcessor{status: model.DepositStatusAccepted, ok: true}

	refresher := &orchestrator.DepositStatusRefresher{
		Engine:       engine,
		Client:       fake,
		Packagers:    staticPackagerSource{packager: packager},
		ErrorHandler: orchestrator.NewErrorHandler(ctx, engine),
	}
	require.NoError(t, refresher.Refresh(ctx, dep.ID))

	var afterDep model.Deposit
	_, err := fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusAccepted, afterDep.Status)

	var copyEntity model.RepositoryCopy
	_, err = fake.Read(ctx, afterDep.RepositoryCopyRef, model.EntityRepositoryCopy, &copyEntity)
	require.NoError(t, err)
	assert.Equal(t, model.CopyComplete, copyEntity.CopyStatus)
}

// TestDepositStatusRefresher_AsyncRejected exercises scenario S3: a
// "withdrawn" native term drives the Deposit to REJECTED and its
// RepositoryCopy to REJECTED.
func TestDepositStatusRefresher_AsyncRejected(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	_, dep, packager := seedAsyncSubmittedDeposit(t, fake, ctx)
	packager.StatusProcessor = staticStatusProcessor{status: model.DepositStatusRejected, ok: true}

	refresher := &orchestrator.DepositStatusRefresher{
		Engine:       engine,
		Client:       fake,
		Packagers:    staticPackagerSource{packager: packager},
		ErrorHandler: orchestrator.NewErrorHandler(ctx, engine),
	}
	require.NoError(t, refresher.Refresh(ctx, dep.ID))

	var afterDep model.Deposit
	_, err := fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusRejected, afterDep.Status)

	var copyEntity model.RepositoryCopy
	_, err = fake.Read(ctx, afterDep.RepositoryCopyRef, model.EntityRepositoryCopy, &copyEntity)
	require.NoError(t, err)
	assert.Equal(t, model.CopyRejected, copyEntity.CopyStatus)
}

// TestDepositStatusRefresher_UnresolvedTermLeavesSubmitted covers the §9
// open-question resolution directly against the refresher: an unrecognized
// native term must leave the Deposit SUBMITTED, not guess a terminal state.
func TestDepositStatusRefresher_UnresolvedTermLeavesSubmitted(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	_, dep, packager := seedAsyncSubmittedDeposit(t, fake, ctx)
	packager.StatusProcessor = staticStatusProcessor{ok: false}

	refresher := &orchestrator.DepositStatusRefresher{
		Engine:       engine,
		Client:       fake,
		Packagers:    staticPackagerSource{packager: packager},
		ErrorHandler: orchestrator.NewErrorHandler(ctx, engine),
	}
	require.NoError(t, refresher.Refresh(ctx, dep.ID))

	var afterDep model.Deposit
	_, err := fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusSubmitted, afterDep.Status, "unresolved native term must leave the deposit SUBMITTED")
}

// TestSubmissionProcessor_ConfigurationMiss exercises scenario S5: a target
// with no registry entry leaves the created Deposit FAILED while the parent
// Submission stays IN_PROGRESS (its only child never reaches terminal, so
// no aggregation runs).
func TestSubmissionProcessor_ConfigurationMiss(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)
	errHandler := orchestrator.NewErrorHandler(ctx, engine)
	defer errHandler.Stop()

	var sub model.Submission
	_, err := fake.Create(ctx, model.EntitySubmission, &model.Submission{
		Submitted:        true,
		Source:           model.SourcePass,
		AggregatedStatus: model.AggregatedNotStarted,
		Repositories:     []string{"unconfigured-target"},
	}, &sub)
	require.NoError(t, err)

	pool := worker.New(ctx, 2, 8)
	defer pool.Stop()

	proc := &orchestrator.SubmissionProcessor{
		Engine:       engine,
		Client:       fake,
		Manifest:     staticManifest{sub: testManifest(sub.ID)},
		Packagers:    orchestrator.NewPackagerSource(registry.New(), assembler.New()),
		Pool:         pool,
		ErrorHandler: errHandler,
	}
	require.NoError(t, proc.Process(ctx, sub.ID))

	var depositID string
	require.Eventually(t, func() bool {
		ids, _ := fake.FindByAttribute(ctx, model.EntityDeposit, "submission", sub.ID)
		if len(ids) == 0 {
			return false
		}
		depositID = ids[0]
		return true
	}, time.Second, 5*time.Millisecond)

	var dep model.Deposit
	require.Eventually(t, func() bool {
		_, err := fake.Read(ctx, depositID, model.EntityDeposit, &dep)
		return err == nil && dep.Status == model.DepositStatusFailed
	}, time.Second, 5*time.Millisecond, "a Deposit for an unconfigured target must be marked FAILED by the error handler")

	var afterSub model.Submission
	_, err = fake.Read(ctx, sub.ID, model.EntitySubmission, &afterSub)
	require.NoError(t, err)
	assert.Equal(t, model.AggregatedInProgress, afterSub.AggregatedStatus, "submission must stay IN_PROGRESS: its only child never reached terminal")
}

// TestDepositStatusRefresher_ConcurrentRefreshSerializes exercises scenario
// S6: two concurrent refresh attempts against the
// same SUBMITTED Deposit must yield exactly one ACCEPTED transition, the
// other observing CSE's pre-condition miss as a benign no-op.
func TestDepositStatusRefresher_ConcurrentRefreshSerializes(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)

	_, dep, packager := seedAsyncSubmittedDeposit(t, fake, ctx)
	packager.StatusProcessor = staticStatusProcessor{status: model.DepositStatusAccepted, ok: true}

	errHandler := orchestrator.NewErrorHandler(ctx, engine)
	defer errHandler.Stop()
	refresher := &orchestrator.DepositStatusRefresher{
		Engine:       engine,
		Client:       fake,
		Packagers:    staticPackagerSource{packager: packager},
		ErrorHandler: errHandler,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = refresher.Refresh(ctx, dep.ID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err, "both concurrent refreshes must complete without error: the loser observes a benign policy-miss, not a failure")
	}

	var afterDep model.Deposit
	_, err := fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusAccepted, afterDep.Status)

	var copyEntity model.RepositoryCopy
	_, err = fake.Read(ctx, afterDep.RepositoryCopyRef, model.EntityRepositoryCopy, &copyEntity)
	require.NoError(t, err)
	assert.Equal(t, model.CopyComplete, copyEntity.CopyStatus, "exactly one transition to COMPLETE must have occurred")
}

// TestRunRefresh_MinWaitSkipsRecentlySubmittedDeposit exercises the
// SwordV2SleepTime gate (spec.md §6 "min wait between submit and first
// refresh"): a scanned (non-uri) SUBMITTED Deposit younger than minWait is
// left untouched, and becomes eligible once enough time has passed.
func TestRunRefresh_MinWaitSkipsRecentlySubmittedDeposit(t *testing.T) {
	fake := repoclient.NewFake()
	ctx := context.Background()
	engine := cse.New(fake)
	errHandler := orchestrator.NewErrorHandler(ctx, engine)
	defer errHandler.Stop()

	packager := &orchestrator.Packager{
		Config:          registry.TargetConfig{Key: "async-target"},
		StatusProcessor: staticStatusProcessor{status: model.DepositStatusAccepted, ok: true},
	}
	refresher := &orchestrator.DepositStatusRefresher{
		Engine:       engine,
		Client:       fake,
		Packagers:    staticPackagerSource{packager: packager},
		ErrorHandler: errHandler,
	}

	var copyEntity model.RepositoryCopy
	_, err := fake.Create(ctx, model.EntityRepositoryCopy, &model.RepositoryCopy{CopyStatus: model.CopyInProgress}, &copyEntity)
	require.NoError(t, err)

	var dep model.Deposit
	_, err = fake.Create(ctx, model.EntityDeposit, &model.Deposit{
		RepositoryRef:     "async-target",
		Status:            model.DepositStatusSubmitted,
		StatusRef:         "https://example.test/status/1",
		RepositoryCopyRef: copyEntity.ID,
		SubmittedAt:       time.Now(),
	}, &dep)
	require.NoError(t, err)
	fake.IndexAttribute(model.EntityDeposit, "depositStatus", string(model.DepositStatusSubmitted), dep.ID)

	n, err := orchestrator.RunRefresh(ctx, fake, refresher, "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a Deposit submitted moments ago must be skipped under a 1-hour minWait")

	var stillSubmitted model.Deposit
	_, err = fake.Read(ctx, dep.ID, model.EntityDeposit, &stillSubmitted)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusSubmitted, stillSubmitted.Status)

	n, err = orchestrator.RunRefresh(ctx, fake, refresher, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "minWait=0 must refresh the same Deposit immediately")

	var afterDep model.Deposit
	_, err = fake.Read(ctx, dep.ID, model.EntityDeposit, &afterDep)
	require.NoError(t, err)
	assert.Equal(t, model.DepositStatusAccepted, afterDep.Status)
}
