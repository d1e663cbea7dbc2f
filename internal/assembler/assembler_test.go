package assembler_test

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passrepo/depositorch/internal/assembler"
	"github.com/passrepo/depositorch/internal/deposit"
)

func fileFromString(path, content string) deposit.File {
	return deposit.File{
		Path: path,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestAssemble_TarContainsPayloadAndManifest(t *testing.T) {
	sub := &deposit.Submission{
		SubmissionID: "sub-1",
		Files: []deposit.File{
			fileFromString("manuscript.pdf", "pdf-bytes"),
			fileFromString("figure1.png", "png-bytes"),
		},
	}

	stream, err := assembler.New().Assemble(context.Background(), sub, assembler.Options{Archive: "tar", Checksum: "sha256"})
	require.NoError(t, err)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	require.NoError(t, err)

	names := map[string]bool{}
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names[hdr.Name] = true
	}

	assert.True(t, names["data/manuscript.pdf"])
	assert.True(t, names["data/figure1.png"])
	assert.True(t, names["manifest-sha256.txt"])
	assert.True(t, names["bagit.txt"])
}

func TestAssemble_EmptyManifestFails(t *testing.T) {
	sub := &deposit.Submission{SubmissionID: "sub-1"}
	_, err := assembler.New().Assemble(context.Background(), sub, assembler.Options{})
	assert.Error(t, err)
}
