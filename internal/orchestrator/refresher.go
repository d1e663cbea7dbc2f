package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/failure"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/metrics"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/policy"
	"github.com/passrepo/depositorch/internal/repoclient"
)

// DepositStatusRefresher resolves a Deposit's asynchronous target-side
// outcome by fetching and interpreting its statusRef document (spec.md
// §4.7).
type DepositStatusRefresher struct {
	Engine       *cse.Engine
	Client       repoclient.Client
	Packagers    PackagerSource
	ErrorHandler *ErrorHandler
}

// Refresh runs the refresh critical section over depositID.
func (r *DepositStatusRefresher) Refresh(ctx context.Context, depositID string) error {
	log := logging.With("component", "deposit_refresher", "deposit_id", depositID)

	var packager *Packager
	var unresolvedTerm bool

	result := r.Engine.PerformCritical(ctx, depositID, model.EntityDeposit,
		func(entity any) bool {
			d := entity.(*model.Deposit)
			if !policy.DepositEligibleForRefresh(d) {
				return false
			}
			p, ok := r.Packagers.Resolve(d.RepositoryRef)
			if !ok {
				return false
			}
			packager = p
			return d.RepositoryCopyRef != ""
		},
		func(entity any) (any, error) {
			d := entity.(*model.Deposit)

			var copyEntity model.RepositoryCopy
			copyETag, err := r.Client.Read(ctx, d.RepositoryCopyRef, model.EntityRepositoryCopy, &copyEntity)
			if err != nil {
				return nil, fmt.Errorf("read repository copy: %w", err)
			}

			status, ok, err := packager.StatusProcessor.Resolve(ctx, d.StatusRef, packager.Config)
			if err != nil {
				return nil, fmt.Errorf("resolve status: %w", err)
			}
			if !ok {
				// Unrecognized native term: leave SUBMITTED, do not guess
				// (spec.md §9 open question resolution).
				unresolvedTerm = true
				metrics.RecordRefreshUnresolved(ctx, d.RepositoryRef)
				return nil, errUnresolvedStatus
			}

			switch status {
			case model.DepositStatusAccepted:
				d.Status = model.DepositStatusAccepted
				copyEntity.CopyStatus = model.CopyComplete
				metrics.RecordDepositOutcome(ctx, string(model.DepositStatusAccepted))
			case model.DepositStatusRejected:
				d.Status = model.DepositStatusRejected
				copyEntity.CopyStatus = model.CopyRejected
				metrics.RecordDepositOutcome(ctx, string(model.DepositStatusRejected))
			default:
				// Still SUBMITTED: leave both entities unchanged.
				return nil, errNoChange
			}

			var updatedCopy model.RepositoryCopy
			if _, err := r.Client.UpdateAndRead(ctx, copyEntity.ID, model.EntityRepositoryCopy, copyETag, &copyEntity, &updatedCopy); err != nil {
				return nil, fmt.Errorf("update repository copy: %w", err)
			}
			return updatedCopy, nil
		},
		func(freshEntity any, value any) bool {
			d := freshEntity.(*model.Deposit)
			copyResult, ok := value.(model.RepositoryCopy)
			if !ok {
				return true
			}
			return policy.RepositoryCopyCongruent(d.Status, copyResult.CopyStatus, true)
		},
	)

	if !result.Success {
		switch {
		case errors.Is(result.Cause, cse.ErrPolicyMiss):
			log.Debug("deposit not eligible for refresh, skipping")
			return nil
		case errors.Is(result.Cause, errNoChange):
			log.Debug("target still reports SUBMITTED, nothing to update")
			return nil
		case errors.Is(result.Cause, errUnresolvedStatus):
			if unresolvedTerm {
				log.Warn("unrecognized status term, leaving deposit SUBMITTED")
			}
			return nil
		}
		log.Error("refresh failed", "error", result.Cause)
		r.ErrorHandler.Report(failure.Scoped(failure.TransientIO, depositID, model.EntityDeposit, result.Cause))
		return result.Cause
	}
	return nil
}

var errUnresolvedStatus = errors.New("orchestrator: status document term not recognized")
