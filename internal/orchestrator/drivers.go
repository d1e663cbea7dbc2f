package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/repoclient"
	"github.com/passrepo/depositorch/internal/worker"
)

// RunRetry re-enqueues one Deposit (if uri is non-empty) or every Deposit
// whose status is null or FAILED (spec.md §6 "retry [--uri=...]") as a
// fresh DepositTask.
func RunRetry(ctx context.Context, engine *cse.Engine, client repoclient.Client, packagers PackagerSource, manifests ManifestBuilder, pool *worker.Pool, errHandler *ErrorHandler, uri string) (int, error) {
	deposits, err := resolveDepositTargets(ctx, client, uri, string(model.DepositStatusNull), string(model.DepositStatusFailed))
	if err != nil {
		return 0, err
	}

	log := logging.With("component", "retry_driver")
	enqueued := 0
	for _, d := range deposits {
		packager, ok := packagers.Resolve(d.RepositoryRef)
		if !ok {
			log.Warn("no packager for target, skipping retry", "deposit_id", d.ID, "target", d.RepositoryRef)
			continue
		}

		var sub model.Submission
		if _, err := client.Read(ctx, d.SubmissionRef, model.EntitySubmission, &sub); err != nil {
			log.Warn("could not read submission for retried deposit", "deposit_id", d.ID, "error", err)
			continue
		}
		manifest, err := manifests.Build(ctx, &sub)
		if err != nil {
			log.Warn("could not rebuild manifest for retried deposit", "deposit_id", d.ID, "error", err)
			continue
		}

		task := &DepositTask{
			Engine:       engine,
			Client:       client,
			ErrorHandler: errHandler,
			DepositID:    d.ID,
			Manifest:     manifest,
			Packager:     packager,
		}
		if err := pool.Submit(task.Run); err != nil {
			log.Warn("pool saturated during retry", "deposit_id", d.ID, "error", err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// RunRefresh re-runs DepositStatusRefresher over one Deposit (if uri is
// non-empty) or every SUBMITTED Deposit (spec.md §6 "refresh [--uri=...]").
// minWait is the configured SwordV2SleepTime: a Deposit submitted less than
// minWait ago is skipped for this pass rather than refreshed early, since
// most targets have not yet had time to settle a status. An
// operator-named uri bypasses minWait — an explicit target is always
// attempted.
func RunRefresh(ctx context.Context, client repoclient.Client, refresher *DepositStatusRefresher, uri string, minWait time.Duration) (int, error) {
	deposits, err := resolveDepositTargets(ctx, client, uri, string(model.DepositStatusSubmitted))
	if err != nil {
		return 0, err
	}

	log := logging.With("component", "refresh_driver")
	refreshed := 0
	for _, d := range deposits {
		if uri == "" && minWait > 0 && !d.SubmittedAt.IsZero() && time.Since(d.SubmittedAt) < minWait {
			log.Debug("deposit not yet past minimum refresh wait, skipping", "deposit_id", d.ID)
			continue
		}
		if err := refresher.Refresh(ctx, d.ID); err != nil {
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// resolveDepositTargets reads uri as a single Deposit id when non-empty
// (returned regardless of its status — an operator-named target is always
// attempted), or otherwise finds every Deposit whose depositStatus matches
// one of wantStatuses via FindByAttribute.
func resolveDepositTargets(ctx context.Context, client repoclient.Client, uri string, wantStatuses ...string) ([]model.Deposit, error) {
	if uri != "" {
		var d model.Deposit
		if _, err := client.Read(ctx, uri, model.EntityDeposit, &d); err != nil {
			return nil, fmt.Errorf("orchestrator: read deposit %s: %w", uri, err)
		}
		return []model.Deposit{d}, nil
	}

	seen := make(map[string]bool)
	var out []model.Deposit
	for _, status := range wantStatuses {
		ids, err := client.FindByAttribute(ctx, model.EntityDeposit, "depositStatus", status)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: scan deposits with status %q: %w", status, err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			var d model.Deposit
			if _, err := client.Read(ctx, id, model.EntityDeposit, &d); err != nil {
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}
