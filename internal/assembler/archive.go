package assembler

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/passrepo/depositorch/internal/deposit"
)

// normalizeChecksum validates opts.Checksum and returns its canonical name.
func normalizeChecksum(algorithm string) (string, error) {
	switch strings.ToLower(algorithm) {
	case "":
		return "sha256", nil
	case "sha256", "md5":
		return strings.ToLower(algorithm), nil
	default:
		return "", fmt.Errorf("assembler: unsupported checksum algorithm %q", algorithm)
	}
}

func newHash(algorithm string) hash.Hash {
	if algorithm == "md5" {
		return md5.New()
	}
	return sha256.New()
}

// writeArchive streams sub's files and a generated manifest into w, in the
// container format opts.Archive selects.
func writeArchive(ctx context.Context, w io.Writer, sub *deposit.Submission, opts Options) error {
	switch strings.ToLower(opts.Archive) {
	case "", "tar":
		return writeTar(ctx, w, sub, opts)
	case "zip":
		return writeZip(ctx, sub, w, opts)
	default:
		return fmt.Errorf("assembler: unsupported archive format %q", opts.Archive)
	}
}

func writeTar(ctx context.Context, w io.Writer, sub *deposit.Submission, opts Options) error {
	var out io.Writer = w
	var gz *gzip.Writer
	if opts.Compress {
		gz = gzip.NewWriter(w)
		out = gz
	}
	tw := tar.NewWriter(out)

	manifestLines, err := copyPayloadFiles(ctx, sub, opts, func(path string, size int64, body []byte) error {
		if err := tw.WriteHeader(&tar.Header{Name: "data/" + path, Size: size, Mode: 0o644}); err != nil {
			return err
		}
		_, err := tw.Write(body)
		return err
	})
	if err != nil {
		return err
	}

	if err := writeManifestEntry(manifestLines, opts, func(name string, body []byte) error {
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(body)), Mode: 0o644}); err != nil {
			return err
		}
		_, err := tw.Write(body)
		return err
	}); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if gz != nil {
		return gz.Close()
	}
	return nil
}

func writeZip(ctx context.Context, sub *deposit.Submission, w io.Writer, opts Options) error {
	zw := zip.NewWriter(w)

	manifestLines, err := copyPayloadFiles(ctx, sub, opts, func(path string, _ int64, body []byte) error {
		entry, err := zw.Create("data/" + path)
		if err != nil {
			return err
		}
		_, err = entry.Write(body)
		return err
	})
	if err != nil {
		return err
	}

	if err := writeManifestEntry(manifestLines, opts, func(name string, body []byte) error {
		entry, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = entry.Write(body)
		return err
	}); err != nil {
		return err
	}

	return zw.Close()
}

// copyPayloadFiles reads every file in sub's manifest, invoking emit with
// its archived path, size, and full body, and returns one manifest line per
// file in "<digest>  data/<path>" BagIt form.
func copyPayloadFiles(ctx context.Context, sub *deposit.Submission, opts Options, emit func(path string, size int64, body []byte) error) ([]string, error) {
	algorithm, err := normalizeChecksum(opts.Checksum)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(sub.Files))
	for _, f := range sub.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("assembler: open %s: %w", f.Path, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("assembler: read %s: %w", f.Path, err)
		}

		digest := newHash(algorithm)
		digest.Write(body)
		sum := hex.EncodeToString(digest.Sum(nil))

		if err := emit(f.Path, int64(len(body)), body); err != nil {
			return nil, fmt.Errorf("assembler: write %s: %w", f.Path, err)
		}

		lines = append(lines, fmt.Sprintf("%s  data/%s", sum, f.Path))
	}

	return lines, nil
}

func writeManifestEntry(lines []string, opts Options, emit func(name string, body []byte) error) error {
	algorithm, err := normalizeChecksum(opts.Checksum)
	if err != nil {
		return err
	}

	manifestName := fmt.Sprintf("manifest-%s.txt", algorithm)
	body := []byte(strings.Join(lines, "\n") + "\n")
	if err := emit(manifestName, body); err != nil {
		return err
	}

	bagitBody := []byte("BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n")
	if opts.SpecID != "" {
		bagitBody = append(bagitBody, []byte(fmt.Sprintf("Bagging-Spec-Id: %s\n", opts.SpecID))...)
	}
	return emit("bagit.txt", bagitBody)
}
