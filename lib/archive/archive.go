// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive builds the compressed payload uploaded to the
// registry: a gzip-compressed tar stream containing exactly the
// selected package files, rooted at the package directory.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"
)

// UploadFilename is the filename under which the archive is attached
// to the registry's multipart upload form. The registry stores the
// blob under its own name; this value only has to be stable.
const UploadFilename = "package.tar.gz"

// Digest is the 32-byte BLAKE3 digest of a built archive. It is not
// part of the upload protocol; parcel logs it so that users can
// correlate a publish with registry-side storage records.
type Digest [32]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Sum computes the BLAKE3 digest of the given archive bytes.
func Sum(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// Build produces a tar.gz archive of the given files, which must be
// slash-separated paths relative to root. Entries are written in the
// order given; tar names keep the relative slash form so the archive
// unpacks to the same layout on every platform.
func Build(ctx context.Context, root string, files []string) ([]byte, error) {
	var buffer bytes.Buffer
	compressor := gzip.NewWriter(&buffer)
	writer := tar.NewWriter(compressor)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := addFile(writer, root, file); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalizing tar stream: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("archive: finalizing gzip stream: %w", err)
	}
	return buffer.Bytes(), nil
}

func addFile(writer *tar.Writer, root, file string) error {
	path := filepath.Join(root, filepath.FromSlash(file))
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("archive: %s is not a regular file", file)
	}

	header := &tar.Header{
		Name:    file,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := writer.WriteHeader(header); err != nil {
		return fmt.Errorf("archive: writing header for %s: %w", file, err)
	}

	source, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer source.Close()

	if _, err := io.Copy(writer, source); err != nil {
		return fmt.Errorf("archive: writing %s: %w", file, err)
	}
	return nil
}
