// Package assembler implements the Assembler contract: turning a
// deposit.Submission manifest into a lazily-read package stream
// (spec.md §4.4 [NEW domain stack]).
//
// The concrete implementation is BagIt-flavored: a tar or zip archive
// rooted at "data/", with a generated manifest file carrying one checksum
// line per payload file. archive/tar, archive/zip, compress/gzip, and
// crypto/sha256+crypto/md5 are stdlib; DESIGN.md records why no
// third-party archiving library from the example pack was a better fit
// (none of the retrieved repos import one — BagIt assembly is exactly the
// shape the Go standard library already covers well).
package assembler

import (
	"context"
	"fmt"
	"io"

	"github.com/passrepo/depositorch/internal/deposit"
)

// Options configures one assembly run, drawn from a target's registry
// AssemblerConfig (spec.md §4.3).
type Options struct {
	// Archive selects the container format: "tar" or "zip".
	Archive string
	// Compress gzips the tar stream; ignored for zip (zip already compresses
	// per-entry).
	Compress bool
	// Checksum selects the manifest digest algorithm: "sha256" or "md5".
	Checksum string
	// SpecID is an opaque packaging-spec identifier carried into the
	// package's metadata (e.g. a BagIt profile identifier).
	SpecID string
}

// PackageStream is a lazily-produced archive: bytes are generated as Read is
// called, so an Assembler never buffers a whole submission in memory
// (spec.md §4.4 "The stream is lazy; bytes are produced on read").
type PackageStream struct {
	io.Reader
	// MediaType is the content type the Transport should declare for this
	// stream (e.g. "application/zip" or "application/x-tar").
	MediaType string
	io.Closer
}

// Assembler packages a deposit.Submission for transmission to one target.
type Assembler interface {
	Assemble(ctx context.Context, sub *deposit.Submission, opts Options) (*PackageStream, error)
}

// BagIt is the concrete, stdlib-backed Assembler.
type BagIt struct{}

// New returns the default BagIt-flavored Assembler.
func New() *BagIt { return &BagIt{} }

// Assemble validates sub, then streams a BagIt-structured archive: payload
// files under "data/", a generated "manifest-<algorithm>.txt", and a
// "bagit.txt" declaring the spec identifier.
func (b *BagIt) Assemble(ctx context.Context, sub *deposit.Submission, opts Options) (*PackageStream, error) {
	if err := sub.Validate(); err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		err := writeArchive(ctx, pw, sub, opts)
		pw.CloseWithError(err)
	}()

	mediaType := "application/x-tar"
	if opts.Compress {
		mediaType = "application/gzip"
	}
	if opts.Archive == "zip" {
		mediaType = "application/zip"
	}

	return &PackageStream{Reader: pr, MediaType: mediaType, Closer: pr}, nil
}
