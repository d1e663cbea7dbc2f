package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/passrepo/depositorch/internal/cse"
	"github.com/passrepo/depositorch/internal/failure"
	"github.com/passrepo/depositorch/internal/logging"
	"github.com/passrepo/depositorch/internal/model"
)

// ErrorHandler is the single process-wide sink for uncaught errors from
// event listeners, worker tasks, and rejected pool submissions (spec.md
// §4.8). It is channel-fed with one consumer goroutine that fans all of
// those sources in, marking the referenced entity FAILED when possible.
type ErrorHandler struct {
	engine *cse.Engine
	inbox  chan *failure.Error
	stop   chan struct{}
	done   chan struct{}
}

// NewErrorHandler starts the handler's consumer goroutine, bound to ctx.
func NewErrorHandler(ctx context.Context, engine *cse.Engine) *ErrorHandler {
	h := &ErrorHandler{
		engine: engine,
		inbox:  make(chan *failure.Error, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run(ctx)
	return h
}

// Report enqueues err for handling. Never blocks the caller beyond the
// inbox's buffer; a full inbox means the process is already overwhelmed, so
// Report drops to a synchronous log rather than applying more backpressure
// to an already-failing caller.
func (h *ErrorHandler) Report(err *failure.Error) {
	select {
	case h.inbox <- err:
	default:
		logging.With("component", "error_handler").Error("inbox full, logging synchronously", "error", err)
	}
}

func (h *ErrorHandler) run(ctx context.Context) {
	log := logging.With("component", "error_handler")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			for {
				select {
				case err := <-h.inbox:
					h.handle(ctx, err, log)
				default:
					return
				}
			}
		case err, ok := <-h.inbox:
			if !ok {
				return
			}
			h.handle(ctx, err, log)
		}
	}
}

func (h *ErrorHandler) handle(ctx context.Context, err *failure.Error, log *slog.Logger) {
	if err.Entity == nil {
		log.Error("unscoped failure", "category", err.Category, "error", err.Cause)
		return
	}

	log.Error("entity-scoped failure", "category", err.Category, "entity_type", err.Entity.Type, "entity_id", err.Entity.ID, "error", err.Cause)

	result := h.engine.PerformCritical(ctx, err.Entity.ID, err.Entity.Type,
		func(entity any) bool {
			e, ok := entity.(model.Entity)
			return ok && !e.IsTerminal()
		},
		func(entity any) (any, error) {
			entity.(model.Entity).MarkFailed()
			return nil, nil
		},
		func(any, any) bool { return true },
	)

	if !result.Success && !errors.Is(result.Cause, cse.ErrPolicyMiss) {
		log.Warn("failed to mark entity FAILED", "entity_type", err.Entity.Type, "entity_id", err.Entity.ID, "cause", result.Cause)
	}
}

// Stop handles every failure already in the inbox, then ends the consumer
// goroutine and waits for it to exit. If the handler's context ended first,
// the goroutine has already exited and Stop returns without draining.
func (h *ErrorHandler) Stop() {
	close(h.stop)
	<-h.done
}
