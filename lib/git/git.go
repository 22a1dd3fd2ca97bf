// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for the package
// directory being published. Parcel uses git as the authority on which
// files belong to a package: when the package root is a git repository,
// the tracked and untracked-but-not-ignored file set respects the
// user's ignore rules without parcel re-implementing them. All commands
// target a specific directory via the -C flag, which is automatically
// injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Available reports whether the git binary can be found on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsRepository reports whether dir is the root of a git working tree,
// i.e. whether a .git entry (directory, or file for worktrees and
// submodules) exists directly under it.
func IsRepository(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Repository represents a git working tree at a specific directory.
// All operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ListFiles returns the paths of all files git considers part of the
// working tree: tracked files plus untracked files that are not
// ignored. Paths are relative to the repository root and use forward
// slashes regardless of platform (git's own output convention).
//
// The listing uses NUL-terminated output (-z) so that file names
// containing newlines or other unusual characters round-trip exactly.
func (r *Repository) ListFiles(ctx context.Context) ([]string, error) {
	output, err := r.Run(ctx, "ls-files", "-z", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range strings.Split(output, "\x00") {
		if entry == "" {
			continue
		}
		files = append(files, entry)
	}
	return files, nil
}
