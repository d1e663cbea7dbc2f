package orchestrator

import (
	"context"

	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/repoclient"
)

// DepositProcessor handles an event about a Deposit: terminal deposits
// trigger aggregation of the parent Submission; intermediate deposits
// trigger a status refresh (spec.md §4.5).
type DepositProcessor struct {
	Client     repoclient.Client
	Aggregator *SubmissionAggregator
	Refresher  *DepositStatusRefresher
}

// Process reads depositID and routes to the aggregator or the refresher.
func (p *DepositProcessor) Process(ctx context.Context, depositID string) error {
	log := logging.With("component", "deposit_processor", "deposit_id", depositID)

	var d model.Deposit
	if _, err := p.Client.Read(ctx, depositID, model.EntityDeposit, &d); err != nil {
		log.Warn("could not read deposit", "error", err)
		return err
	}

	if d.Status.IsTerminal() {
		return p.Aggregator.Aggregate(ctx, d.SubmissionRef)
	}
	return p.Refresher.Refresh(ctx, depositID)
}
