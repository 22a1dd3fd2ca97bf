// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest reads and validates the package manifest
// (parcel.yaml) at the root of a package directory. Publishing refuses
// to run without a valid manifest: the registry rejects unnamed or
// unversioned uploads anyway, and failing locally is faster and gives
// a better message.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Filename is the manifest file name at the package root.
const Filename = "parcel.yaml"

var (
	// namePattern matches registry package names: lowercase
	// identifiers with underscores, starting with a letter.
	namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	// versionPattern matches semver-shaped versions with optional
	// prerelease and build suffixes. Full semver ordering is the
	// registry's concern; the client only checks shape.
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

// Manifest is the decoded parcel.yaml.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Homepage    string `yaml:"homepage,omitempty"`
}

// Load reads and validates the manifest at the root of the given
// package directory.
func Load(root string) (*Manifest, error) {
	path := filepath.Join(root, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the fields the registry requires for a publish.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: missing package name")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("manifest: invalid package name %q (lowercase letters, digits, and underscores only)", m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest: missing package version")
	}
	if !versionPattern.MatchString(m.Version) {
		return fmt.Errorf("manifest: invalid version %q (expected MAJOR.MINOR.PATCH)", m.Version)
	}
	return nil
}
