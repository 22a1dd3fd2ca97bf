// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload decides which files on disk constitute the package
// payload for a publish. When the package root is a git repository and
// the git binary is available, git is the authority (tracked plus
// untracked-but-not-ignored files). Otherwise the selection falls back
// to a recursive walk that skips hidden entries.
package payload

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/parcel-pm/parcel/lib/git"
)

// reservedName is excluded from every payload: "packages" directories
// are registry-managed install artifacts from older toolchains and must
// never be republished as package content.
const reservedName = "packages"

// FileSystemError reports a failure to enumerate the package payload:
// an unreadable directory, or a git invocation that failed.
type FileSystemError struct {
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("payload: listing package files in %s: %v", e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// Select returns the files that make up the package payload rooted at
// root. Paths are relative to root, slash-separated, unique, and never
// name a directory. Entries with a path segment equal to the reserved
// name "packages" are excluded in both selection branches.
func Select(ctx context.Context, root string) ([]string, error) {
	if git.IsRepository(root) && git.Available() {
		files, err := git.NewRepository(root).ListFiles(ctx)
		if err != nil {
			return nil, &FileSystemError{Path: root, Err: err}
		}
		return filterReserved(files), nil
	}
	files, err := walkFiles(root)
	if err != nil {
		return nil, &FileSystemError{Path: root, Err: err}
	}
	return filterReserved(files), nil
}

// walkFiles collects every regular file under root, relative and
// slash-separated. Hidden entries (dot-prefixed files and directories)
// are skipped: without git to consult, the walk has no ignore rules,
// and hidden files are editor state, VCS internals, and tool caches
// rather than package content.
func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if name == reservedName {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// filterReserved drops entries containing a reserved path segment and
// deduplicates while preserving order.
func filterReserved(files []string) []string {
	seen := make(map[string]bool, len(files))
	kept := files[:0]
	for _, file := range files {
		if seen[file] || hasReservedSegment(file) {
			continue
		}
		seen[file] = true
		kept = append(kept, file)
	}
	return kept
}

func hasReservedSegment(file string) bool {
	for _, segment := range strings.Split(file, "/") {
		if segment == reservedName {
			return true
		}
	}
	return false
}
