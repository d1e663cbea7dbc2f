package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/passrepo/depositorch/internal/deposit"
	"github.com/passrepo/depositorch/internal/model"
	"github.com/passrepo/depositorch/internal/repoclient"
)

// fileRecord is the shape of one linked file entity this core reads to
// build a deposit.Submission manifest; it deliberately carries only the
// fields the Assembler needs (spec.md §3 "DepositSubmission... built on
// demand from persistent state").
type fileRecord struct {
	Path      string `json:"path"`
	MediaType string `json:"mediaType"`
	AccessURL string `json:"accessUrl"`
}

type metadataRecord struct {
	Fields map[string]string `json:"fields"`
}

// ManifestBuilder builds the normalized, non-persisted deposit.Submission
// view from a persistent Submission and its linked entities (spec.md §4.2
// "Build DepositSubmission from the Submission and its links").
type ManifestBuilder interface {
	Build(ctx context.Context, sub *model.Submission) (*deposit.Submission, error)
}

// RepositoryManifestBuilder resolves a Submission's linked file and metadata
// entities through a repoclient.Client's Incoming relation lookup, and wraps
// each file's access URL in an HTTP-fetching deposit.File.Open.
type RepositoryManifestBuilder struct {
	Client     repoclient.Client
	HTTPClient *http.Client
}

// NewRepositoryManifestBuilder constructs a RepositoryManifestBuilder with a
// default HTTP client.
func NewRepositoryManifestBuilder(client repoclient.Client) *RepositoryManifestBuilder {
	return &RepositoryManifestBuilder{Client: client, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (b *RepositoryManifestBuilder) Build(ctx context.Context, sub *model.Submission) (*deposit.Submission, error) {
	links, err := b.Client.Incoming(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve links for %s: %w", sub.ID, err)
	}

	out := &deposit.Submission{
		SubmissionID: sub.ID,
		Targets:      append([]string(nil), sub.Repositories...),
		Metadata:     deposit.Metadata{},
	}

	for _, fileID := range links["file"] {
		var rec fileRecord
		if _, err := b.Client.Read(ctx, fileID, "File", &rec); err != nil {
			return nil, fmt.Errorf("orchestrator: read file %s: %w", fileID, err)
		}
		if rec.AccessURL == "" {
			return nil, fmt.Errorf("orchestrator: file %s has no retrievable location", fileID)
		}
		url := rec.AccessURL
		out.Files = append(out.Files, deposit.File{
			Path:      rec.Path,
			MediaType: rec.MediaType,
			Open:      func() (io.ReadCloser, error) { return b.fetch(ctx, url) },
		})
	}

	for _, metaID := range links["metadata"] {
		var rec metadataRecord
		if _, err := b.Client.Read(ctx, metaID, "Metadata", &rec); err != nil {
			return nil, fmt.Errorf("orchestrator: read metadata %s: %w", metaID, err)
		}
		for k, v := range rec.Fields {
			out.Metadata[k] = v
		}
	}

	return out, nil
}

func (b *RepositoryManifestBuilder) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("orchestrator: fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
