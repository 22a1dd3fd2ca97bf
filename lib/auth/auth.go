// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth supplies authorized HTTP clients for registry
// operations. Tokens come from a user-owned credentials file; this
// package does not acquire or refresh them — when the cached token has
// lapsed it signals ErrTokenExpired and the caller decides whether to
// retry with renewed credentials.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// ErrTokenExpired signals that the authorization token is no longer
// valid and cannot be silently refreshed. It is the only error kind
// the publish pipeline retries, and it is distinguishable from every
// network and protocol error via errors.Is.
var ErrTokenExpired = errors.New("authorization token expired")

// ErrNotLoggedIn signals that no credentials file exists (or it holds
// no token). Unlike ErrTokenExpired this is never retried: there is
// nothing to renew.
var ErrNotLoggedIn = errors.New("not logged in to the registry")

// CredentialsFilename is the credentials file name under the parcel
// config directory.
const CredentialsFilename = "credentials.json"

// Credentials is the decoded credentials file. The file is JSON,
// with JSONC comments tolerated since users edit it by hand.
type Credentials struct {
	// Token is the bearer token sent on every registry request.
	Token string `json:"token"`

	// Expiry is when the token lapses. Zero means the token does not
	// carry a client-visible expiry and only the server can reject it.
	Expiry time.Time `json:"expiry,omitzero"`
}

// Expired reports whether the token has lapsed as of now.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// Cache loads credentials from a file path.
type Cache struct {
	path string
}

// NewCache returns a Cache reading from the given file path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// DefaultPath resolves the credentials file location: the
// PARCEL_CONFIG_DIR environment variable when set, otherwise the
// platform user config directory.
func DefaultPath() (string, error) {
	if dir := os.Getenv("PARCEL_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, CredentialsFilename), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("auth: resolving config directory: %w", err)
	}
	return filepath.Join(dir, "parcel", CredentialsFilename), nil
}

// Load reads and decodes the credentials file.
func (c *Cache) Load() (*Credentials, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("auth: %s: %w", c.path, ErrNotLoggedIn)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: reading %s: %w", c.path, err)
	}

	var credentials Credentials
	if err := json.Unmarshal(jsonc.ToJSON(data), &credentials); err != nil {
		return nil, fmt.Errorf("auth: parsing %s: %w", c.path, err)
	}
	if credentials.Token == "" {
		return nil, fmt.Errorf("auth: %s has no token: %w", c.path, ErrNotLoggedIn)
	}
	return &credentials, nil
}

// WithClient loads credentials from cache and runs operation with an
// HTTP client that attaches them to every request. A token that has
// already lapsed fails with ErrTokenExpired before any request is
// made. Each call re-reads the cache, so a retry after renewal picks
// up fresh credentials.
func WithClient(ctx context.Context, cache *Cache, operation func(context.Context, *http.Client) error) error {
	credentials, err := cache.Load()
	if err != nil {
		return err
	}
	if credentials.Expired(time.Now()) {
		return fmt.Errorf("auth: cached token lapsed at %s: %w",
			credentials.Expiry.Format(time.RFC3339), ErrTokenExpired)
	}

	client := &http.Client{
		Transport: &tokenTransport{
			token: credentials.Token,
			base:  http.DefaultTransport,
		},
	}
	return operation(ctx, client)
}

// tokenTransport injects the bearer token into every outgoing request.
// The request is cloned first: RoundTrippers must not mutate the
// caller's request.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	authorized := request.Clone(request.Context())
	authorized.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(authorized)
}
