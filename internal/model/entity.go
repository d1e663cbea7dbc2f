// Package model defines the persistent entity shapes and status algebra for
// the custody transfer pipeline: Submission, Deposit, and RepositoryCopy.
package model

import (
	"fmt"
	"time"
)

// EntityType identifies the persistent entity kinds the core mutates.
type EntityType string

const (
	EntitySubmission     EntityType = "Submission"
	EntityDeposit        EntityType = "Deposit"
	EntityRepositoryCopy EntityType = "RepositoryCopy"
)

// Entity is the small capability set CSE needs from any persistent record:
// an identifier, a type tag, and the ability to mark itself FAILED. Keeping
// this a capability set rather than a type hierarchy lets Submission and
// Deposit share the error-handling path without a common base struct.
type Entity interface {
	Identifier() string
	EntityType() EntityType
	// MarkFailed transitions the entity to its FAILED/terminal-failure
	// variant in place. Callers must only invoke this when IsTerminal()
	// is false; MarkFailed itself does not re-check.
	MarkFailed()
	// IsTerminal reports whether further mutation by the core is forbidden.
	IsTerminal() bool
}

// SubmissionSource identifies who originated a Submission.
type SubmissionSource string

const (
	SourcePass   SubmissionSource = "PASS"
	SourceOther  SubmissionSource = "OTHER"
	SourceBatch  SubmissionSource = "BATCH"
	SourceUnknown SubmissionSource = ""
)

// AggregatedStatus is the Submission-level outcome of custody transfer.
type AggregatedStatus string

const (
	AggregatedNotStarted AggregatedStatus = "NOT_STARTED"
	AggregatedInProgress AggregatedStatus = "IN_PROGRESS"
	AggregatedFailed     AggregatedStatus = "FAILED"
	AggregatedAccepted   AggregatedStatus = "ACCEPTED"
	AggregatedRejected   AggregatedStatus = "REJECTED"
)

// terminalAggregated is the partition of AggregatedStatus values from which
// no further core mutation is permitted (spec.md §3, invariant d).
var terminalAggregated = map[AggregatedStatus]bool{
	AggregatedAccepted: true,
	AggregatedRejected: true,
}

// IsTerminal reports whether s forbids further mutation.
func (s AggregatedStatus) IsTerminal() bool { return terminalAggregated[s] }

// Submission is the root of one custody transfer request.
type Submission struct {
	ID               string             `json:"id"`
	ETag             string             `json:"-"`
	Submitted        bool               `json:"submitted"`
	Source           SubmissionSource   `json:"source"`
	Repositories     []string           `json:"repositories"` // target repository references, ordered
	AggregatedStatus AggregatedStatus   `json:"aggregatedStatus"`
}

func (s *Submission) Identifier() string      { return s.ID }
func (s *Submission) EntityType() EntityType  { return EntitySubmission }
func (s *Submission) IsTerminal() bool        { return s.AggregatedStatus.IsTerminal() }
func (s *Submission) MarkFailed()             { s.AggregatedStatus = AggregatedFailed }

// DepositStatus is the lifecycle status of one Deposit. The empty string is
// the "null"/dirty status spec.md §3 treats as intermediate.
type DepositStatus string

const (
	DepositStatusNull      DepositStatus = ""
	DepositStatusSubmitted DepositStatus = "SUBMITTED"
	DepositStatusAccepted  DepositStatus = "ACCEPTED"
	DepositStatusRejected  DepositStatus = "REJECTED"
	DepositStatusFailed    DepositStatus = "FAILED"
)

var terminalDeposit = map[DepositStatus]bool{
	DepositStatusAccepted: true,
	DepositStatusRejected: true,
}

// IsTerminal reports whether s forbids further mutation by the core.
func (s DepositStatus) IsTerminal() bool { return terminalDeposit[s] }

// IsIntermediate is the complement of IsTerminal — a status from which
// further transitions are possible (null, SUBMITTED, or FAILED when a
// retry driver re-admits the deposit).
func (s DepositStatus) IsIntermediate() bool { return !s.IsTerminal() }

// Deposit is one custody-transfer attempt to one target repository.
type Deposit struct {
	ID               string        `json:"id"`
	ETag             string        `json:"-"`
	SubmissionRef    string        `json:"submission"`
	RepositoryRef    string        `json:"repository"`
	Status           DepositStatus `json:"depositStatus"`
	StatusRef        string        `json:"statusRef,omitempty"`
	RepositoryCopyRef string       `json:"repositoryCopy,omitempty"`
	// SubmittedAt is stamped when Status first becomes SUBMITTED, and gates
	// how soon the deposit becomes eligible for its first status refresh
	// (spec.md §6 SwordV2SleepTime).
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

func (d *Deposit) Identifier() string     { return d.ID }
func (d *Deposit) EntityType() EntityType { return EntityDeposit }
func (d *Deposit) IsTerminal() bool       { return d.Status.IsTerminal() }
func (d *Deposit) MarkFailed()            { d.Status = DepositStatusFailed }

// CopyStatus is the lifecycle status of a RepositoryCopy.
type CopyStatus string

const (
	CopyInProgress CopyStatus = "IN_PROGRESS"
	CopyComplete   CopyStatus = "COMPLETE"
	CopyRejected   CopyStatus = "REJECTED"
)

var terminalCopy = map[CopyStatus]bool{
	CopyComplete: true,
	CopyRejected: true,
}

// IsTerminal reports whether s forbids further mutation.
func (s CopyStatus) IsTerminal() bool { return terminalCopy[s] }

// RepositoryCopy is an opaque handle to where the deposited package lives
// inside the target repository.
type RepositoryCopy struct {
	ID          string     `json:"id"`
	ETag        string     `json:"-"`
	CopyStatus  CopyStatus `json:"copyStatus"`
	ExternalIDs []string   `json:"externalIds,omitempty"`
	AccessURL   string     `json:"accessUrl,omitempty"`
}

func (c *RepositoryCopy) Identifier() string     { return c.ID }
func (c *RepositoryCopy) EntityType() EntityType { return EntityRepositoryCopy }
func (c *RepositoryCopy) IsTerminal() bool       { return c.CopyStatus.IsTerminal() }
func (c *RepositoryCopy) MarkFailed()            { /* RepositoryCopy has no FAILED variant; no-op */ }

// CheckInvariants validates the §3 cross-entity invariants between a Deposit
// and its RepositoryCopy. It returns a non-nil error describing the first
// violation found; callers in tests use this to assert §8 property 2.
func CheckInvariants(d *Deposit, copy *RepositoryCopy) error {
	switch d.Status {
	case DepositStatusAccepted:
		if copy == nil || copy.CopyStatus != CopyComplete {
			return fmt.Errorf("deposit %s ACCEPTED requires a COMPLETE repository copy", d.ID)
		}
	case DepositStatusRejected:
		if copy == nil || copy.CopyStatus != CopyRejected {
			return fmt.Errorf("deposit %s REJECTED requires a REJECTED repository copy", d.ID)
		}
	case DepositStatusSubmitted:
		if copy == nil || copy.CopyStatus != CopyInProgress {
			return fmt.Errorf("deposit %s SUBMITTED requires an IN_PROGRESS repository copy", d.ID)
		}
	case DepositStatusFailed:
		if copy != nil {
			return fmt.Errorf("deposit %s FAILED must not have a repository copy", d.ID)
		}
	}
	return nil
}
