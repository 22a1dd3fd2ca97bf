// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// bodyPreviewLimit bounds how much of a malformed response body is
// reproduced in error messages. The full body is retained on the
// error value for callers that want it.
const bodyPreviewLimit = 512

// ServerError is a well-formed, application-level error reported by
// the registry ({"error": {"message": ...}}). The message is shown to
// the user verbatim.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// InvalidResponseError reports a server payload that is structurally
// or type-wise invalid at any protocol step: not JSON, not an object,
// or missing/mistyped fields. The raw body is retained for
// diagnostics. The server is assumed non-transiently broken, so this
// is never retried.
type InvalidResponseError struct {
	Reason string
	Body   []byte
}

func (e *InvalidResponseError) Error() string {
	preview := e.Body
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit]
	}
	return fmt.Sprintf("registry: invalid server response (%s): %s", e.Reason, preview)
}

// UploadFailedError reports a blob-store upload response that carried
// no Location header. The response body may hold diagnostic detail,
// but its format is the blob store's own and no structured parser for
// it exists, so the body is discarded.
type UploadFailedError struct {
	StatusCode int
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("registry: package upload failed (HTTP %d): response carried no Location header", e.StatusCode)
}
