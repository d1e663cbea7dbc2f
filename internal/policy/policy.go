// Package policy collects the pure predicate functions spec.md §2 item 3
// calls out as a distinct component: small boolean functions over entities
// and statuses that CSE pre/post-conditions compose, kept free of I/O so
// they can be unit tested without a repoclient.Client.
package policy

import "github.com/passrepo/depositorch/internal/model"

// SubmissionAdmissible reports whether s is eligible for SubmissionProcessor
// to claim (spec.md §4.2 admission policy): user-submitted, sourced from the
// upstream repository's own UI, and not already claimed or terminal.
func SubmissionAdmissible(s *model.Submission) bool {
	if s == nil {
		return false
	}
	if !s.Submitted || s.Source != model.SourcePass {
		return false
	}
	return s.AggregatedStatus == model.AggregatedNotStarted || s.AggregatedStatus == model.AggregatedFailed
}

// SubmissionClaimed reports whether the claim transition landed.
func SubmissionClaimed(s *model.Submission) bool {
	return s != nil && s.AggregatedStatus == model.AggregatedInProgress
}

// AggregationAdmissible reports whether a Submission is still eligible for
// SubmissionAggregator to run over (spec.md §4.6 pre-condition).
func AggregationAdmissible(s *model.Submission) bool {
	return s != nil && !s.AggregatedStatus.IsTerminal()
}

// DepositEligibleForTransfer reports whether a Deposit may undergo a fresh
// physical transfer attempt (spec.md §4.4 CSE invocation 1 pre-condition).
func DepositEligibleForTransfer(d *model.Deposit) bool {
	return d != nil && d.Status.IsIntermediate()
}

// DepositEligibleForRefresh reports whether a Deposit qualifies for
// DepositStatusRefresher (spec.md §4.7 pre-condition, minus the registry and
// RepositoryCopy-readability checks that require I/O and are checked by the
// caller).
func DepositEligibleForRefresh(d *model.Deposit) bool {
	return d != nil && d.Status.IsIntermediate() && d.StatusRef != ""
}

// AggregateOutcome folds a set of terminal Deposit statuses into the
// Submission-level AggregatedStatus, per spec.md §4.6: ACCEPTED only if every
// terminal child is ACCEPTED, REJECTED if any terminal child is REJECTED.
// The caller is responsible for first confirming all children are terminal;
// AggregateOutcome itself only inspects the statuses given to it.
func AggregateOutcome(terminalStatuses []model.DepositStatus) model.AggregatedStatus {
	if len(terminalStatuses) == 0 {
		return model.AggregatedInProgress
	}
	outcome := model.AggregatedAccepted
	for _, status := range terminalStatuses {
		if status == model.DepositStatusRejected {
			outcome = model.AggregatedRejected
		}
	}
	return outcome
}

// AllTerminal reports whether every status in the slice is terminal.
func AllTerminal(statuses []model.DepositStatus) bool {
	for _, s := range statuses {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// RepositoryCopyCongruent checks the cross-entity invariants of spec.md §3 /
// §8 property 2 given a deposit's new status and its copy's new status.
func RepositoryCopyCongruent(depositStatus model.DepositStatus, copyStatus model.CopyStatus, copyPresent bool) bool {
	switch depositStatus {
	case model.DepositStatusAccepted:
		return copyPresent && copyStatus == model.CopyComplete
	case model.DepositStatusRejected:
		return copyPresent && copyStatus == model.CopyRejected
	case model.DepositStatusSubmitted:
		return copyPresent && copyStatus == model.CopyInProgress
	case model.DepositStatusFailed:
		return !copyPresent
	default:
		return true
	}
}
