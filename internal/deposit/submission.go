// Package deposit defines DepositSubmission, the normalized, non-persisted
// view of a Submission that the Assembler packages (spec.md §3).
package deposit

import "io"

// File is one manifest entry: a retrievable byte source plus the path it
// should occupy inside the assembled package.
type File struct {
	// Path is the file's location within the package's payload directory,
	// e.g. "manuscript.pdf"; the Assembler stores it as "data/manuscript.pdf".
	Path string
	// Open returns a fresh reader over the file's bytes; the Assembler may
	// call it more than once (e.g. once to checksum, once to archive).
	Open func() (io.ReadCloser, error)
	// MediaType is the file's declared content type, if known.
	MediaType string
}

// Metadata is the descriptive metadata accompanying a submission, carried
// as an opaque key-value bag; concrete Assemblers decide how to render it
// (e.g. into a BagIt bag-info.txt or a METS document).
type Metadata map[string]string

// Submission is the in-memory manifest an Assembler packages and a
// Transport transmits: it is built on demand from persistent Submission
// state and is never itself persisted (spec.md §3 "DepositSubmission").
type Submission struct {
	SubmissionID string
	Files        []File
	Metadata     Metadata
	// Targets is the ordered set of target repository references this
	// submission is bound for (spec.md §3's "ordered set of target
	// repository references").
	Targets []string
}

// Validate reports the spec.md §4.2 critical-update failure conditions: an
// empty manifest, or any file lacking a retrievable location.
func (s *Submission) Validate() error {
	if len(s.Files) == 0 {
		return errEmptyManifest
	}
	for _, f := range s.Files {
		if f.Open == nil {
			return errUnretrievableFile(f.Path)
		}
	}
	return nil
}
