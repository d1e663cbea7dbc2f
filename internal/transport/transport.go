// Package transport implements the Transport contract: sending an
// assembler.PackageStream to a configured target and returning a response
// carrying an optional asynchronous-status receipt (spec.md §4.4).
//
// Three bindings are provided, selected by registry.TransportConfig.Protocol:
// sword (SWORDv2/AtomPub over net/http), ftp (github.com/jlaffaye/ftp), and
// filesystem (a local-directory drop via os). Sessions are scoped: Open
// returns a Session that the caller must Close on every exit path (spec.md
// §4.4 step 5, §5).
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/registry"
)

// Receipt is what a successful send yields about where the target will
// eventually report the logical (asynchronous) outcome.
type Receipt struct {
	// StatusDocumentURL, when non-empty, is where the Deposit's eventual
	// ACCEPTED/REJECTED outcome can be polled (spec.md §4.4 CSE invocation 2).
	StatusDocumentURL string
	// ItemURL, when present, is the target-side handle to the deposited item.
	ItemURL string
	// ExternalIDs are target-assigned identifiers for the deposited item.
	ExternalIDs []string
}

// Response is the outcome of one Session.Send call.
type Response struct {
	Success bool
	Cause   error
	Receipt Receipt
}

// Session is a scoped connection to one target, opened for exactly one
// send and then closed by the caller.
type Session interface {
	Send(ctx context.Context, pkg *assembler.PackageStream, params registry.TransportConfig) (Response, error)
	Close() error
}

// Transport opens a Session bound to a target's TransportConfig.
type Transport interface {
	Open(ctx context.Context, params registry.TransportConfig) (Session, error)
}

// New resolves the Transport implementation for the given protocol.
func New(protocol string) (Transport, error) {
	switch strings.ToLower(protocol) {
	case "sword":
		return &SWORDTransport{}, nil
	case "ftp":
		return &FTPTransport{}, nil
	case "filesystem", "":
		return &FilesystemTransport{}, nil
	default:
		return nil, fmt.Errorf("transport: unsupported protocol %q", protocol)
	}
}

// RewriteStatusURL applies params' optional prefix-replacement rule to url,
// per spec.md §4.4 "rewrite the status-document URL using a prefix-replacement
// rule (to reach the same resource from a different network perspective)".
func RewriteStatusURL(params registry.TransportConfig, url string) string {
	if params.StatusURLRewriteFrom == "" {
		return url
	}
	if strings.HasPrefix(url, params.StatusURLRewriteFrom) {
		return params.StatusURLRewriteTo + strings.TrimPrefix(url, params.StatusURLRewriteFrom)
	}
	return url
}
