// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the client side of the registry's
// three-step ticketed-upload protocol: request an upload ticket from
// the registry, POST the archive to the blob store named by the
// ticket, then confirm the upload at the URL the blob store redirects
// to. Responses are untrusted at every step — see response.go.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/parcel-pm/parcel/lib/archive"
	"github.com/parcel-pm/parcel/lib/auth"
)

// newUploadPath is the well-known registry endpoint that issues
// upload tickets.
const newUploadPath = "/packages/versions/new.json"

// Config holds configuration for creating a registry Client.
type Config struct {
	// ServerURL is the registry base URL. Must use HTTPS except for
	// localhost, which local registries and tests use.
	ServerURL string

	// HTTPClient is used for all requests. It is expected to carry
	// authorization (see lib/auth). Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client talks the ticketed-upload protocol to one registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a registry client from the given configuration.
func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.ServerURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("registry: no server URL configured")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid server URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "https" && !isLoopbackHost(parsed.Hostname()) {
		return nil, fmt.Errorf("registry: server URL must use HTTPS (got %q)", baseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// isLoopbackHost reports whether host is a loopback name the HTTPS
// requirement does not apply to.
func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// RequestTicket asks the registry for a new upload ticket. A non-200
// response is expected to carry the registry's error shape and
// resolves to *ServerError; malformed responses of any kind resolve
// to *InvalidResponseError.
func (c *Client) RequestTicket(ctx context.Context) (*UploadTicket, error) {
	ticketURL := c.baseURL + newUploadPath
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, ticketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: creating ticket request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("registry: GET %s: %w", ticketURL, err)
	}
	defer response.Body.Close()

	if err := expiredTokenError(response); err != nil {
		return nil, err
	}

	body, err := readBody(response.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: reading ticket response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		object, err := parseBody(body)
		if err != nil {
			return nil, err
		}
		return nil, extractError(object, body)
	}

	ticket, err := decodeTicket(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("upload ticket received", "url", ticket.URL, "fields", len(ticket.Fields))
	return ticket, nil
}

// Upload POSTs the archive to the blob store as a multipart form: all
// ticket fields, plus the archive bytes as the "file" field. The blob
// store answers success with a redirect; redirects are not followed —
// the Location header is returned for the confirmation step. A
// response without a Location header is an *UploadFailedError.
func (c *Client) Upload(ctx context.Context, ticket *UploadTicket, archiveBytes []byte) (string, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)

	// Deterministic field order for reproducible requests.
	keys := make([]string, 0, len(ticket.Fields))
	for key := range ticket.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writer.WriteField(key, ticket.Fields[key]); err != nil {
			return "", fmt.Errorf("registry: encoding upload form: %w", err)
		}
	}

	part, err := writer.CreateFormFile("file", archive.UploadFilename)
	if err != nil {
		return "", fmt.Errorf("registry: encoding upload form: %w", err)
	}
	if _, err := part.Write(archiveBytes); err != nil {
		return "", fmt.Errorf("registry: encoding upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("registry: encoding upload form: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, ticket.URL, &form)
	if err != nil {
		return "", fmt.Errorf("registry: creating upload request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug("uploading package archive", "url", ticket.URL, "bytes", len(archiveBytes))

	// The blob store reports its outcome via redirect. Follow nothing:
	// the Location header is protocol payload, not navigation.
	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	response, err := noRedirect.Do(request)
	if err != nil {
		return "", fmt.Errorf("registry: POST %s: %w", ticket.URL, err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseSize))

	location := response.Header.Get("Location")
	if location == "" {
		return "", &UploadFailedError{StatusCode: response.StatusCode}
	}
	return location, nil
}

// Confirm fetches the confirmation URL the blob store redirected to
// and returns the registry's success message. A body with an "error"
// key resolves via the error shape; otherwise the body must carry
// {"success": {"message": string}}.
func (c *Client) Confirm(ctx context.Context, location string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("registry: creating confirmation request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("registry: GET %s: %w", location, err)
	}
	defer response.Body.Close()

	if err := expiredTokenError(response); err != nil {
		return "", err
	}

	body, err := readBody(response.Body)
	if err != nil {
		return "", fmt.Errorf("registry: reading confirmation response: %w", err)
	}

	object, err := parseBody(body)
	if err != nil {
		return "", err
	}
	if _, failed := object["error"]; failed {
		return "", extractError(object, body)
	}

	success, err := mapField(object, "success", body)
	if err != nil {
		return "", err
	}
	return stringField(success, "message", body)
}

// expiredTokenError maps a 401 response whose challenge names an
// expired token to auth.ErrTokenExpired, the one signal the publish
// pipeline retries. Other 401s fall through to normal response
// handling so the registry's own error message reaches the user.
func expiredTokenError(response *http.Response) error {
	if response.StatusCode != http.StatusUnauthorized {
		return nil
	}
	challenge := strings.ToLower(response.Header.Get("WWW-Authenticate"))
	if !strings.Contains(challenge, "expired") {
		return nil
	}
	return fmt.Errorf("registry: %s %s: %w",
		response.Request.Method, response.Request.URL, auth.ErrTokenExpired)
}
