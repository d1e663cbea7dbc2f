// Package cse implements the Critical-Section Engine: the compare-and-swap
// primitive every mutation of Submission, Deposit, or RepositoryCopy state
// goes through (spec.md §4.1).
//
// CSE combines an in-process keyed mutex (internal/keylock) with a bounded
// ETag-conflict retry loop built on github.com/cenkalti/backoff/v4. The
// retryable condition is repoclient.ErrConflict; any other error from the
// critical function aborts immediately without retry.
package cse

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/passrepo/depositorch/internal/keylock"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/metrics"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/repoclient"
)

// DefaultMaxAttempts is the bound on ETag-conflict retries (spec.md §4.1 step 5).
const DefaultMaxAttempts = 10

// DefaultRetryInterval is the fixed short backoff between conflict retries.
const DefaultRetryInterval = 25 * time.Millisecond

// Pre evaluates whether the critical update may proceed against entity.
// Returning false is a normal, non-error outcome (a "policy miss").
type Pre func(entity any) bool

// Critical mutates entity in place and returns an arbitrary computed value.
// A returned error aborts the critical section; it is carried back as
// Result.Cause and never retried (it is not a conflict).
type Critical func(entity any) (value any, err error)

// Post evaluates the freshly persisted entity and the critical function's
// computed value. Returning false does not roll back the mutation — the
// spec requires the write stands regardless (spec.md §4.1 step 6).
type Post func(freshEntity any, value any) bool

// Result carries every possible outcome of performCritical; CSE never
// panics or returns a bare error (spec.md §4.1, "CSE never throws").
type Result struct {
	Success bool
	Entity  any
	Value   any
	Cause   error
}

// Engine performs critical sections over entities addressed through a
// repoclient.Client, serialized per identifier by a keylock.Registry.
type Engine struct {
	Client       repoclient.Client
	Locks        *keylock.Registry
	MaxAttempts  int
	RetryBackoff time.Duration
}

// New constructs an Engine with the spec's default retry bound and backoff.
func New(client repoclient.Client) *Engine {
	return &Engine{
		Client:       client,
		Locks:        keylock.New(),
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryInterval,
	}
}

// newEntity allocates a zero-value pointer for the given entity type, so CSE
// can decode into it without the caller naming a concrete Go type.
func newEntity(entityType model.EntityType) any {
	switch entityType {
	case model.EntitySubmission:
		return &model.Submission{}
	case model.EntityDeposit:
		return &model.Deposit{}
	case model.EntityRepositoryCopy:
		return &model.RepositoryCopy{}
	default:
		return &map[string]any{}
	}
}

// PerformCritical implements spec.md §4.1's performCritical(id, entityType,
// pre, post, critical) → Result. Exactly one of the pre-condition, conflict
// bound exceeded, or success outcome holds on return.
func (e *Engine) PerformCritical(ctx context.Context, id string, entityType model.EntityType, pre Pre, critical Critical, post Post) Result {
	ctx, span := metrics.StartSpan(ctx, "cse.perform_critical")
	defer span.End()

	unlock := e.Locks.Lock(keyOf(entityType, id))
	defer unlock()

	log := logging.With("component", "cse", "entity_type", string(entityType), "entity_id", id)

	maxAttempts := e.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		etag   string
		entity any
		value  any
	)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryInterval()), uint64(maxAttempts-1))

	attempt := 0
	operation := func() error {
		attempt++

		entity = newEntity(entityType)
		var err error
		etag, err = e.Client.Read(ctx, id, entityType, entity)
		if err != nil {
			return backoff.Permanent(err)
		}

		if !pre(entity) {
			return backoff.Permanent(errPolicyMiss)
		}

		value, err = critical(entity)
		if err != nil {
			return backoff.Permanent(err)
		}

		fresh := newEntity(entityType)
		_, err = e.Client.UpdateAndRead(ctx, id, entityType, etag, entity, fresh)
		if err != nil {
			if errors.Is(err, repoclient.ErrConflict) {
				metrics.RecordCSEConflict(ctx, string(entityType))
				log.Debug("etag conflict, retrying", "attempt", attempt)
				return err
			}
			return backoff.Permanent(err)
		}
		entity = fresh
		return nil
	}

	err := backoff.Retry(operation, policy)
	if err != nil {
		if errors.Is(err, errPolicyMiss) {
			log.Debug("pre-condition not met")
			return Result{Success: false, Cause: errPolicyMiss}
		}
		if errors.Is(err, repoclient.ErrConflict) {
			metrics.RecordCSERetriesExhausted(ctx, string(entityType))
			metrics.RecordCSEAttempt(ctx, string(entityType), false)
			log.Warn("conflict retry bound exceeded", "attempts", attempt)
			return Result{Success: false, Cause: repoclient.ErrConflict}
		}
		metrics.RecordCSEAttempt(ctx, string(entityType), false)
		log.Debug("critical section failed", "error", err)
		return Result{Success: false, Cause: err}
	}

	if !post(entity, value) {
		metrics.RecordCSEAttempt(ctx, string(entityType), false)
		log.Debug("post-condition failed, mutation stands")
		return Result{Success: false, Entity: entity, Value: value, Cause: errPostConditionFailed}
	}

	metrics.RecordCSEAttempt(ctx, string(entityType), true)
	return Result{Success: true, Entity: entity, Value: value}
}

func (e *Engine) retryInterval() time.Duration {
	if e.RetryBackoff <= 0 {
		return DefaultRetryInterval
	}
	return e.RetryBackoff
}

func keyOf(entityType model.EntityType, id string) string {
	return string(entityType) + ":" + id
}

var (
	errPolicyMiss          = errors.New("cse: pre-condition not satisfied")
	errPostConditionFailed = errors.New("cse: post-condition not satisfied")
)

// ErrPolicyMiss and ErrPostConditionFailed let callers distinguish these two
// benign, non-retryable outcomes from genuine failures with errors.Is.
var (
	ErrPolicyMiss          = errPolicyMiss
	ErrPostConditionFailed = errPostConditionFailed
)
