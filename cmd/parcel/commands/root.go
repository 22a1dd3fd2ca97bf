// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the parcel command tree.
package commands

import (
	"github.com/parcel-pm/parcel/cmd/parcel/cli"
	"github.com/parcel-pm/parcel/cmd/parcel/publish"
)

// Root returns the top-level parcel command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "parcel",
		Summary: "Package manager client for the parcel registry",
		Description: `parcel manages packages against a parcel registry.

The publish command packages the current directory and uploads it
through the registry's ticketed-upload protocol.`,
		Subcommands: []*cli.Command{
			publish.Command(),
		},
	}
}
