// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish implements the "parcel publish" CLI command: it
// validates the package manifest, shows what will be uploaded, asks
// for confirmation, and runs the publish pipeline against the
// configured registry.
package publish

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/parcel-pm/parcel/cmd/parcel/cli"
	"github.com/parcel-pm/parcel/lib/archive"
	"github.com/parcel-pm/parcel/lib/auth"
	"github.com/parcel-pm/parcel/lib/manifest"
	"github.com/parcel-pm/parcel/lib/payload"
	"github.com/parcel-pm/parcel/lib/publish"
)

// defaultServerURL is the public registry. Overridden by --server or
// the PARCEL_REGISTRY_URL environment variable.
const defaultServerURL = "https://registry.parcel-pm.org"

type options struct {
	directory string
	server    string
	dryRun    bool
	yes       bool
}

// Command returns the "publish" command.
func Command() *cli.Command {
	opts := &options{}
	return &cli.Command{
		Name:    "publish",
		Summary: "Upload the package in the current directory to the registry",
		Description: `Package the current directory and upload it to the registry.

The payload is the set of files git tracks (plus untracked files that
are not ignored) when the package is a git repository; otherwise every
non-hidden file is included. The reserved name "packages" is always
excluded.

Publishing requires a manifest (parcel.yaml) with a valid name and
version, and registry credentials (see the credentials file under the
parcel config directory).`,
		Usage: "parcel publish [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("publish", pflag.ContinueOnError)
			flagSet.StringVarP(&opts.directory, "directory", "C", ".", "package directory to publish")
			flagSet.StringVar(&opts.server, "server", serverFromEnvironment(), "registry base URL")
			flagSet.BoolVar(&opts.dryRun, "dry-run", false, "show what would be uploaded without contacting the registry")
			flagSet.BoolVarP(&opts.yes, "yes", "y", false, "skip the confirmation prompt")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Publish the package in the current directory", Command: "parcel publish"},
			{Description: "Inspect the payload without uploading", Command: "parcel publish --dry-run"},
			{Description: "Publish to a self-hosted registry", Command: "parcel publish --server https://registry.corp.example"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("publish takes no positional arguments (got %q)", args[0])
			}
			return run(opts)
		},
	}
}

func serverFromEnvironment() string {
	if url := os.Getenv("PARCEL_REGISTRY_URL"); url != "" {
		return url
	}
	return defaultServerURL
}

func run(opts *options) error {
	ctx := context.Background()
	logger := cli.NewCommandLogger().With("command", "publish")

	root, err := filepath.Abs(opts.directory)
	if err != nil {
		return fmt.Errorf("resolving package directory: %w", err)
	}

	m, err := manifest.Load(root)
	if err != nil {
		return err
	}

	files, err := payload.Select(ctx, root)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("package directory %s contains no publishable files", root)
	}

	if opts.dryRun {
		return dryRun(ctx, root, m, files, opts.server)
	}

	if !opts.yes && term.IsTerminal(int(os.Stdin.Fd())) {
		confirmed, err := confirm(m, files, opts.server)
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(os.Stderr, "Publish aborted.")
			return &cli.ExitError{Code: 1}
		}
	}

	credentialsPath, err := auth.DefaultPath()
	if err != nil {
		return err
	}

	message, err := publish.Publish(ctx, publish.Options{
		Root:      root,
		ServerURL: opts.server,
		Cache:     auth.NewCache(credentialsPath),
		Logger:    logger,
		Notice:    os.Stderr,
	})
	if err != nil {
		return err
	}

	fmt.Println(message)
	return nil
}

// dryRun builds the archive locally and reports what a real publish
// would upload.
func dryRun(ctx context.Context, root string, m *manifest.Manifest, files []string, server string) error {
	data, err := archive.Build(ctx, root, files)
	if err != nil {
		return err
	}

	fmt.Printf("Would publish %s %s to %s:\n", m.Name, m.Version, server)
	for _, file := range files {
		fmt.Printf("  %s\n", file)
	}
	fmt.Printf("\n%d files, %d bytes compressed, blake3 %s\n", len(files), len(data), archive.Sum(data))
	return nil
}

// confirm shows the payload summary and asks for a y/N answer on
// stdin.
func confirm(m *manifest.Manifest, files []string, server string) (bool, error) {
	fmt.Printf("Publishing %s %s to %s:\n", m.Name, m.Version, server)
	for _, file := range files {
		fmt.Printf("  %s\n", file)
	}
	fmt.Printf("\nPublish %s %s to %s? (y/N): ", m.Name, m.Version, server)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
