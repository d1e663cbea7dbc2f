package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/deposit"
	"github.com/passrepo/depositorch/internal/failure"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/policy"
	"github.com/passrepo/depositorch/internal/repoclient"
	"github.com/passrepo/depositorch/internal/worker"
)

// SubmissionProcessor claims an admissible Submission, builds its manifest,
// creates one Deposit per target, and dispatches a DepositTask for each
// (spec.md §4.2).
type SubmissionProcessor struct {
	Engine       *cse.Engine
	Client       repoclient.Client
	Manifest     ManifestBuilder
	Packagers    PackagerSource
	Pool         *worker.Pool
	ErrorHandler *ErrorHandler
}

// Process claims submissionID, at most once, building its manifest and
// fanning out one Deposit + DepositTask per target.
func (p *SubmissionProcessor) Process(ctx context.Context, submissionID string) error {
	log := logging.With("component", "submission_processor", "submission_id", submissionID)

	var built *deposit.Submission

	result := p.Engine.PerformCritical(ctx, submissionID, model.EntitySubmission,
		func(entity any) bool {
			return policy.SubmissionAdmissible(entity.(*model.Submission))
		},
		func(entity any) (any, error) {
			sub := entity.(*model.Submission)

			manifest, err := p.Manifest.Build(ctx, sub)
			if err != nil {
				return nil, fmt.Errorf("build manifest: %w", err)
			}
			if err := manifest.Validate(); err != nil {
				return nil, fmt.Errorf("validate manifest: %w", err)
			}
			built = manifest

			sub.AggregatedStatus = model.AggregatedInProgress
			return sub.AggregatedStatus, nil
		},
		func(freshEntity any, _ any) bool {
			sub := freshEntity.(*model.Submission)
			return policy.SubmissionClaimed(sub) && built != nil && len(built.Files) > 0
		},
	)

	if !result.Success {
		if errors.Is(result.Cause, cse.ErrPolicyMiss) {
			log.Debug("submission not admissible, skipping")
			return nil
		}
		category := failure.TransientIO
		if errors.Is(result.Cause, repoclient.ErrConflict) {
			category = failure.Conflict
		}
		log.Error("failed to claim submission", "error", result.Cause)
		p.ErrorHandler.Report(failure.Scoped(category, submissionID, model.EntitySubmission, result.Cause))
		return result.Cause
	}

	sub := result.Entity.(*model.Submission)
	return p.fanOut(ctx, sub, built, log)
}

func (p *SubmissionProcessor) fanOut(ctx context.Context, sub *model.Submission, manifest *deposit.Submission, log *slog.Logger) error {
	for _, targetRef := range sub.Repositories {
		depositEntity := &model.Deposit{
			SubmissionRef: sub.ID,
			RepositoryRef: targetRef,
			Status:        model.DepositStatusNull,
		}

		var created model.Deposit
		if _, err := p.Client.Create(ctx, model.EntityDeposit, depositEntity, &created); err != nil {
			log.Error("failed to create deposit", "target", targetRef, "error", err)
			continue
		}

		packager, ok := p.Packagers.Resolve(targetRef)
		if !ok {
			log.Warn("no packager configured for target, marking deposit failed", "target", targetRef, "deposit_id", created.ID)
			p.ErrorHandler.Report(failure.Scoped(failure.Configuration, created.ID, model.EntityDeposit, fmt.Errorf("no packager configured for target %q", targetRef)))
			continue
		}

		task := &DepositTask{
			Engine:       p.Engine,
			Client:       p.Client,
			ErrorHandler: p.ErrorHandler,
			DepositID:    created.ID,
			Manifest:     manifest,
			Packager:     packager,
		}

		if err := p.Pool.Submit(task.Run); err != nil {
			log.Warn("pool saturated, marking deposit failed", "deposit_id", created.ID, "error", err)
			p.ErrorHandler.Report(failure.Scoped(failure.TransientIO, created.ID, model.EntityDeposit, err))
		}
	}
	return nil
}
