package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/policy"
)

func TestSubmissionAdmissible(t *testing.T) {
	cases := []struct {
		name string
		sub  *model.Submission
		want bool
	}{
		{"nil", nil, false},
		{"not submitted", &model.Submission{Submitted: false, Source: model.SourcePass}, false},
		{"wrong source", &model.Submission{Submitted: true, Source: model.SourceBatch}, false},
		{"terminal", &model.Submission{Submitted: true, Source: model.SourcePass, AggregatedStatus: model.AggregatedAccepted}, false},
		{"not started", &model.Submission{Submitted: true, Source: model.SourcePass, AggregatedStatus: model.AggregatedNotStarted}, true},
		{"failed retry", &model.Submission{Submitted: true, Source: model.SourcePass, AggregatedStatus: model.AggregatedFailed}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.SubmissionAdmissible(tc.sub))
		})
	}
}

func TestAggregateOutcome(t *testing.T) {
	assert.Equal(t, model.AggregatedAccepted, policy.AggregateOutcome([]model.DepositStatus{
		model.DepositStatusAccepted, model.DepositStatusAccepted,
	}))
	assert.Equal(t, model.AggregatedRejected, policy.AggregateOutcome([]model.DepositStatus{
		model.DepositStatusAccepted, model.DepositStatusRejected,
	}))
	assert.Equal(t, model.AggregatedInProgress, policy.AggregateOutcome(nil))
}

func TestAllTerminal(t *testing.T) {
	assert.True(t, policy.AllTerminal([]model.DepositStatus{model.DepositStatusAccepted, model.DepositStatusRejected}))
	assert.False(t, policy.AllTerminal([]model.DepositStatus{model.DepositStatusAccepted, model.DepositStatusSubmitted}))
}

func TestRepositoryCopyCongruent(t *testing.T) {
	assert.True(t, policy.RepositoryCopyCongruent(model.DepositStatusAccepted, model.CopyComplete, true))
	assert.False(t, policy.RepositoryCopyCongruent(model.DepositStatusAccepted, model.CopyInProgress, true))
	assert.True(t, policy.RepositoryCopyCongruent(model.DepositStatusFailed, "", false))
	assert.False(t, policy.RepositoryCopyCongruent(model.DepositStatusFailed, model.CopyInProgress, true))
}
