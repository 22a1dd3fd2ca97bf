// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish drives the publish pipeline: select the package
// files, build the archive, and run the registry's ticketed-upload
// protocol. The ticket request and the archive build run concurrently
// — network latency overlaps local compression — and everything after
// is strictly sequential, each step consuming the validated output of
// the previous one.
package publish

import (
	"context"
	"errors"
	"log/slog"

	"github.com/parcel-pm/parcel/lib/archive"
	"github.com/parcel-pm/parcel/lib/payload"
	"github.com/parcel-pm/parcel/lib/registry"
)

// Attempt is one full orchestration run. Every attempt owns its own
// ticket and archive buffer; nothing is shared across attempts, so a
// retried attempt restarts from scratch safely.
type Attempt struct {
	// Root is the package directory being published.
	Root string

	// Registry is the protocol client, already carrying authorization.
	Registry *registry.Client

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

type ticketResult struct {
	ticket *registry.UploadTicket
	err    error
}

type archiveResult struct {
	data  []byte
	files int
	err   error
}

// Run executes the pipeline and returns the registry's success
// message. Errors carry their protocol-step context and are never
// retried here; the one retriable condition (auth.ErrTokenExpired)
// is handled a level up by Publish.
func (a *Attempt) Run(ctx context.Context) (string, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Ticket request and archive build in parallel, fail-fast: the
	// first failure cancels the other side. Both channels are always
	// drained so neither goroutine leaks.
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tickets := make(chan ticketResult, 1)
	archives := make(chan archiveResult, 1)

	go func() {
		ticket, err := a.Registry.RequestTicket(joinCtx)
		tickets <- ticketResult{ticket: ticket, err: err}
	}()
	go func() {
		files, err := payload.Select(joinCtx, a.Root)
		if err != nil {
			archives <- archiveResult{err: err}
			return
		}
		data, err := archive.Build(joinCtx, a.Root, files)
		archives <- archiveResult{data: data, files: len(files), err: err}
	}()

	var ticket ticketResult
	var built archiveResult
	for received := 0; received < 2; received++ {
		select {
		case ticket = <-tickets:
			if ticket.err != nil {
				cancel()
			}
		case built = <-archives:
			if built.err != nil {
				cancel()
			}
		}
	}
	if err := joinError(ticket.err, built.err); err != nil {
		return "", err
	}

	logger.Info("package archive built",
		"files", built.files,
		"bytes", len(built.data),
		"blake3", archive.Sum(built.data).String(),
	)

	location, err := a.Registry.Upload(ctx, ticket.ticket, built.data)
	if err != nil {
		return "", err
	}

	return a.Registry.Confirm(ctx, location)
}

// joinError picks the error to surface from the ticket/archive join.
// When both sides failed, the side that failed first caused the
// other's cancellation, so a bare cancellation loses to a real error.
func joinError(ticketErr, archiveErr error) error {
	if ticketErr != nil && errors.Is(ticketErr, context.Canceled) && archiveErr != nil {
		return archiveErr
	}
	if archiveErr != nil && errors.Is(archiveErr, context.Canceled) && ticketErr != nil {
		return ticketErr
	}
	if ticketErr != nil {
		return ticketErr
	}
	return archiveErr
}
