// Package failure defines the closed error taxonomy of spec.md §7. The core
// wraps causes in these types with fmt.Errorf("...: %w", cause) rather than
// reaching for an errors framework — see DESIGN.md.
package failure

import (
	"errors"
	"fmt"

	"github.com/passrepo/depositorch/internal/model"
)

// Category is one of the seven taxonomy buckets from spec.md §7.
type Category string

const (
	PolicyMiss     Category = "policy_miss"
	Conflict       Category = "conflict"
	TransientIO    Category = "transient_io"
	ProtocolFormat Category = "protocol_format"
	Configuration  Category = "configuration"
	Remedial       Category = "remedial"
	Fatal          Category = "fatal"
)

// EntityRef names the entity an Error is scoped to, if any.
type EntityRef struct {
	ID   string
	Type model.EntityType
}

// Error is the wrapped error type propagated from CSE, workers, and event
// listeners to the central error handler (spec.md §4.8, §7).
type Error struct {
	Category Category
	Entity   *EntityRef
	Cause    error
}

func (e *Error) Error() string {
	if e.Entity != nil {
		return fmt.Sprintf("%s: %s %s: %v", e.Category, e.Entity.Type, e.Entity.ID, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an unscoped Error (no entity reference — logged only).
func New(cat Category, cause error) *Error {
	return &Error{Category: cat, Cause: cause}
}

// Scoped constructs an Error referencing the entity that should be marked
// FAILED by the error handler, iff it is not already terminal.
func Scoped(cat Category, entityID string, entityType model.EntityType, cause error) *Error {
	return &Error{Category: cat, Entity: &EntityRef{ID: entityID, Type: entityType}, Cause: cause}
}

// Is reports whether err (or something it wraps) is a *Error of category cat.
func Is(err error, cat Category) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category == cat
	}
	return false
}

// CategoryOf extracts the category of err if it is (or wraps) a *Error.
func CategoryOf(err error) (Category, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category, true
	}
	return "", false
}
