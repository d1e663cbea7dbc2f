package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/registry"
)

// FilesystemTransport drops packages into a local directory: used for test
// targets and the S1 synchronous scenario (spec.md §8) where no real
// network-facing repository is available. Its receipt never carries a
// status-document URL, so deposits through it always settle synchronously.
type FilesystemTransport struct{}

func (t *FilesystemTransport) Open(ctx context.Context, params registry.TransportConfig) (Session, error) {
	dir := params.BaseDirectory
	if dir == "" {
		return nil, fmt.Errorf("transport/filesystem: no baseDirectory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/filesystem: create %s: %w", dir, err)
	}
	return &filesystemSession{dir: dir}, nil
}

type filesystemSession struct {
	dir string
}

func (s *filesystemSession) Send(ctx context.Context, pkg *assembler.PackageStream, params registry.TransportConfig) (Response, error) {
	name := fmt.Sprintf("deposit-%s.pkg", uuid.New().String())
	target := filepath.Join(s.dir, name)

	f, err := os.Create(target)
	if err != nil {
		return Response{Success: false, Cause: fmt.Errorf("transport/filesystem: create %s: %w", target, err)}, nil
	}
	defer f.Close()

	if _, err := io.Copy(f, pkg); err != nil {
		return Response{Success: false, Cause: fmt.Errorf("transport/filesystem: write %s: %w", target, err)}, nil
	}

	return Response{
		Success: true,
		Receipt: Receipt{ExternalIDs: []string{target}, ItemURL: "file://" + target},
	}, nil
}

func (s *filesystemSession) Close() error { return nil }
