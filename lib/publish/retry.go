// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/parcel-pm/parcel/lib/auth"
	"github.com/parcel-pm/parcel/lib/registry"
)

// renewalNotice is printed when an attempt fails on token expiry
// before the single retry. The token cannot be renewed from inside the
// pipeline; the retry re-reads the credentials cache and succeeds only
// if something (the user, a login helper) has refreshed it.
const renewalNotice = "parcel's authorization to the registry has expired and can't be renewed automatically; retrying once with freshly loaded credentials."

// Options configures a publish.
type Options struct {
	// Root is the package directory.
	Root string

	// ServerURL is the registry base URL.
	ServerURL string

	// Cache supplies credentials for each attempt.
	Cache *auth.Cache

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Notice is where the user-visible renewal notice is written.
	// Defaults to os.Stderr.
	Notice io.Writer
}

// Publish runs the pipeline with a freshly authorized client, retrying
// exactly once when the attempt fails on auth.ErrTokenExpired. A
// second expiry, and every other error kind, propagates unmodified —
// there is no unbounded retry loop. Returns the registry's success
// message.
func Publish(ctx context.Context, options Options) (string, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notice := options.Notice
	if notice == nil {
		notice = os.Stderr
	}

	message, err := attempt(ctx, options, logger)
	if errors.Is(err, auth.ErrTokenExpired) {
		fmt.Fprintln(notice, renewalNotice)
		logger.Warn("authorization expired mid-publish, retrying once")
		message, err = attempt(ctx, options, logger)
	}
	return message, err
}

// attempt acquires an authorized client and runs one orchestration.
func attempt(ctx context.Context, options Options, logger *slog.Logger) (string, error) {
	var message string
	err := auth.WithClient(ctx, options.Cache, func(ctx context.Context, httpClient *http.Client) error {
		client, err := registry.NewClient(registry.Config{
			ServerURL:  options.ServerURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		run := &Attempt{Root: options.Root, Registry: client, Logger: logger}
		message, err = run.Run(ctx)
		return err
	})
	return message, err
}
