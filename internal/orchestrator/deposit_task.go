package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/deposit"
	"github.com/passrepo/depositorch/internal/failure"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/metrics"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/policy"
	"github.com/passrepo/depositorch/internal/repoclient"
	"github.com/passrepo/depositorch/internal/transport"
)

// DepositTask packages one Deposit for one target, transmits it, and
// records the outcome under CSE (spec.md §4.4). It runs inside a worker
// pool goroutine.
type DepositTask struct {
	Engine       *cse.Engine
	Client       repoclient.Client
	ErrorHandler *ErrorHandler
	DepositID    string
	Manifest     *deposit.Submission
	Packager     *Packager
}

// Run executes both CSE invocations of spec.md §4.4: the physical transfer,
// then, after every successful transfer, the logical-outcome attachment
// (which settles the deposit at once when the receipt carries no
// asynchronous status reference).
func (t *DepositTask) Run(ctx context.Context) error {
	ctx, span := metrics.StartSpan(ctx, "deposit_task.run")
	defer span.End()

	log := logging.With("component", "deposit_task", "deposit_id", t.DepositID)

	var response transport.Response

	result := t.Engine.PerformCritical(ctx, t.DepositID, model.EntityDeposit,
		func(entity any) bool {
			return policy.DepositEligibleForTransfer(entity.(*model.Deposit))
		},
		func(entity any) (any, error) {
			d := entity.(*model.Deposit)

			pkg, err := t.Packager.Assembler.Assemble(ctx, t.Manifest, t.Packager.AssemblerOptions())
			if err != nil {
				return nil, fmt.Errorf("assemble: %w", err)
			}

			session, err := t.Packager.Transport.Open(ctx, t.Packager.Config.Transport)
			if err != nil {
				pkg.Close()
				return nil, fmt.Errorf("open transport session: %w", err)
			}
			defer session.Close()

			response, err = session.Send(ctx, pkg, t.Packager.Config.Transport)
			pkg.Close()
			if err != nil {
				return nil, fmt.Errorf("send: %w", err)
			}
			if !response.Success {
				return nil, fmt.Errorf("transport rejected package: %w", response.Cause)
			}

			d.Status = model.DepositStatusSubmitted
			d.SubmittedAt = time.Now()
			return nil, nil
		},
		func(freshEntity any, _ any) bool {
			d := freshEntity.(*model.Deposit)
			return d.Status == model.DepositStatusSubmitted && response.Success
		},
	)

	if !result.Success {
		if errors.Is(result.Cause, cse.ErrPolicyMiss) {
			log.Debug("deposit not eligible for transfer, skipping")
			return nil
		}
		log.Error("physical transfer failed", "error", result.Cause)
		t.ErrorHandler.Report(failure.Scoped(failure.TransientIO, t.DepositID, model.EntityDeposit, result.Cause))
		return result.Cause
	}

	return t.attachLogicalOutcome(ctx, response.Receipt, log)
}

// attachLogicalOutcome implements CSE invocation 2 of spec.md §4.4. A
// target that returns no asynchronous status reference has already settled
// the deposit synchronously (spec.md §8 scenario S1): the RepositoryCopy is
// recorded COMPLETE and the Deposit ACCEPTED immediately. Otherwise the copy
// is recorded IN_PROGRESS against the status reference for a later refresh
// (scenario S2).
func (t *DepositTask) attachLogicalOutcome(ctx context.Context, receipt transport.Receipt, log *slog.Logger) error {
	synchronous := receipt.StatusDocumentURL == ""
	statusURL := transport.RewriteStatusURL(t.Packager.Config.Transport, receipt.StatusDocumentURL)

	result := t.Engine.PerformCritical(ctx, t.DepositID, model.EntityDeposit,
		func(any) bool { return true },
		func(entity any) (any, error) {
			d := entity.(*model.Deposit)

			copyStatus := model.CopyInProgress
			if synchronous {
				copyStatus = model.CopyComplete
			}
			copyEntity := &model.RepositoryCopy{
				CopyStatus:  copyStatus,
				ExternalIDs: receipt.ExternalIDs,
				AccessURL:   receipt.ItemURL,
			}
			var created model.RepositoryCopy
			if _, err := t.Client.Create(ctx, model.EntityRepositoryCopy, copyEntity, &created); err != nil {
				return nil, fmt.Errorf("create repository copy: %w", err)
			}

			d.StatusRef = statusURL
			d.RepositoryCopyRef = created.ID
			if synchronous {
				d.Status = model.DepositStatusAccepted
			}
			return created, nil
		},
		func(any, any) bool { return true },
	)

	if !result.Success {
		log.Error("failed to attach logical outcome", "error", result.Cause)
		t.ErrorHandler.Report(failure.Scoped(failure.TransientIO, t.DepositID, model.EntityDeposit, result.Cause))
		return result.Cause
	}
	if synchronous {
		metrics.RecordDepositOutcome(ctx, string(model.DepositStatusAccepted))
		log.Debug("transport returned no asynchronous receipt, deposit settled synchronously")
	}
	return nil
}
