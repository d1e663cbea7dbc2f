// Package repoclient defines the RepositoryClient contract the core
// consumes for all persistent-entity reads and optimistically-concurrent
// writes (spec.md §2 item 2, §6), and a concrete HTTP implementation.
//
// The contract itself is the "external collaborator" spec.md scopes out of
// the core; the core only ever depends on the Client interface below.
package repoclient

import (
	"context"
	"errors"

	"github.com/passrepo/depositorch/internal/model"
)

// ErrNotFound is returned by Read when no entity exists for the given id.
var ErrNotFound = errors.New("repoclient: entity not found")

// ErrConflict is returned by UpdateAndRead when the supplied ETag no longer
// matches the stored entity's current version (spec.md §4.1 step 5).
var ErrConflict = errors.New("repoclient: etag conflict")

// Client is the RepositoryClient contract of spec.md §6: read/create entities,
// perform ETag-conditioned writes, and resolve the two lookup shapes CSE's
// callers need (incoming links, attribute search).
//
// Implementations MUST be safe for concurrent use — spec.md §5 names the
// client as a shared, thread-safe resource.
type Client interface {
	// Read fetches the entity with id/entityType, decoding its JSON body into
	// out, and returns its current ETag. Returns ErrNotFound if absent.
	Read(ctx context.Context, id string, entityType model.EntityType, out any) (etag string, err error)

	// Create persists a brand-new entity (in must not carry an id; the
	// returned entity, decoded into out, carries the assigned id and initial
	// ETag).
	Create(ctx context.Context, entityType model.EntityType, in any, out any) (etag string, err error)

	// UpdateAndRead performs an If-Match conditional write of in against id,
	// guarded by etag, and decodes the freshly stored representation into
	// out. Returns ErrConflict if etag is stale.
	UpdateAndRead(ctx context.Context, id string, entityType model.EntityType, etag string, in any, out any) (newETag string, err error)

	// Incoming returns, for the entity id, the set of entity ids that link to
	// it, keyed by relation name (e.g. "submission" for Deposits pointing at
	// a Submission).
	Incoming(ctx context.Context, id string) (map[string][]string, error)

	// FindByAttribute returns entity ids of entityType whose attr field
	// equals value.
	FindByAttribute(ctx context.Context, entityType model.EntityType, attr, value string) ([]string, error)
}
