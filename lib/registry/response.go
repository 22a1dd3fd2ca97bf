// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxResponseSize bounds response body reads: 16 MB. Registry API
// responses are small JSON documents; the bound only exists so that a
// misbehaving server cannot exhaust memory.
const maxResponseSize int64 = 16 << 20

// readBody reads a response body up to maxResponseSize bytes.
func readBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, maxResponseSize))
}

// Every field access on server-controlled JSON goes through the
// helpers below. A malformed response of any shape resolves to
// *InvalidResponseError carrying the raw body; nothing here panics on
// unexpected input.

// parseBody decodes body as a JSON object. Non-JSON input and JSON
// whose top level is not an object both fail with
// *InvalidResponseError.
func parseBody(body []byte) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &InvalidResponseError{Reason: "body is not valid JSON", Body: body}
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return nil, &InvalidResponseError{Reason: "body is not a JSON object", Body: body}
	}
	return object, nil
}

// field returns object[key], failing when the key is absent.
func field(object map[string]any, key string, body []byte) (any, error) {
	value, ok := object[key]
	if !ok {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("missing %q field", key), Body: body}
	}
	return value, nil
}

// stringField returns object[key] as a string, failing on absence or
// any other type.
func stringField(object map[string]any, key string, body []byte) (string, error) {
	value, err := field(object, key, body)
	if err != nil {
		return "", err
	}
	text, ok := value.(string)
	if !ok {
		return "", &InvalidResponseError{Reason: fmt.Sprintf("%q field is not a string", key), Body: body}
	}
	return text, nil
}

// mapField returns object[key] as a JSON object, failing on absence or
// any other type.
func mapField(object map[string]any, key string, body []byte) (map[string]any, error) {
	value, err := field(object, key, body)
	if err != nil {
		return nil, err
	}
	nested, ok := value.(map[string]any)
	if !ok {
		return nil, &InvalidResponseError{Reason: fmt.Sprintf("%q field is not an object", key), Body: body}
	}
	return nested, nil
}

// extractError reads the registry's error shape
// {"error": {"message": string}} out of object and returns it as a
// *ServerError. Any deviation from that shape is an
// *InvalidResponseError. This never returns nil: it is the terminal
// handler for responses already known to be failures.
func extractError(object map[string]any, body []byte) error {
	errorObject, err := mapField(object, "error", body)
	if err != nil {
		return err
	}
	message, err := stringField(errorObject, "message", body)
	if err != nil {
		return err
	}
	return &ServerError{Message: message}
}
