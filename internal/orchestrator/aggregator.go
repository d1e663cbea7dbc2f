package orchestrator

import (
	"errors"

	"context"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/policy"
	"github.com/passrepo/depositorch/internal/repoclient"
)

// SubmissionAggregator collapses per-Deposit terminal outcomes into
// Submission.aggregatedStatus once every linked Deposit is terminal
// (spec.md §4.6). Idempotent: when the computed outcome already matches the
// Submission's current aggregatedStatus, the critical function returns
// errNoChange and CSE performs no write (spec.md §8 property 4).
type SubmissionAggregator struct {
	Engine *cse.Engine
	Client repoclient.Client
}

// Aggregate runs the aggregation critical section over submissionID.
func (a *SubmissionAggregator) Aggregate(ctx context.Context, submissionID string) error {
	log := logging.With("component", "submission_aggregator", "submission_id", submissionID)

	result := a.Engine.PerformCritical(ctx, submissionID, model.EntitySubmission,
		func(entity any) bool {
			return policy.AggregationAdmissible(entity.(*model.Submission))
		},
		func(entity any) (any, error) {
			sub := entity.(*model.Submission)

			links, err := a.Client.Incoming(ctx, submissionID)
			if err != nil {
				return nil, err
			}

			var terminal []model.DepositStatus
			allTerminal := true
			for _, depositID := range links["submission"] {
				var d model.Deposit
				if _, err := a.Client.Read(ctx, depositID, model.EntityDeposit, &d); err != nil {
					// Corrupt/unknown entities do not block aggregation
					// (spec.md §4.6).
					continue
				}
				if !d.Status.IsTerminal() {
					allTerminal = false
					continue
				}
				terminal = append(terminal, d.Status)
			}

			if !allTerminal || len(terminal) == 0 {
				return nil, errNoChange
			}

			outcome := policy.AggregateOutcome(terminal)
			if sub.AggregatedStatus == outcome {
				return outcome, errNoChange
			}
			sub.AggregatedStatus = outcome
			return outcome, nil
		},
		func(any, any) bool { return true },
	)

	if !result.Success {
		if errors.Is(result.Cause, errNoChange) || errors.Is(result.Cause, cse.ErrPolicyMiss) {
			log.Debug("aggregation is a no-op")
			return nil
		}
		log.Error("aggregation failed", "error", result.Cause)
		return result.Cause
	}
	return nil
}

var errNoChange = errors.New("orchestrator: aggregated status unchanged")
