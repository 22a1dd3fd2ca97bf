// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// UploadTicket is the registry's authorization for a single blob
// upload: the blob-store URL to POST to and the form fields the blob
// store requires alongside the archive. Tickets are short-lived and
// used at most once.
type UploadTicket struct {
	URL    string
	Fields map[string]string
}

// decodeTicket validates a 200 ticket response body: a string "url"
// and an object "fields" whose values are all strings. Any deviation
// is an *InvalidResponseError.
func decodeTicket(body []byte) (*UploadTicket, error) {
	object, err := parseBody(body)
	if err != nil {
		return nil, err
	}

	url, err := stringField(object, "url", body)
	if err != nil {
		return nil, err
	}

	rawFields, err := mapField(object, "fields", body)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(rawFields))
	for key, value := range rawFields {
		text, ok := value.(string)
		if !ok {
			return nil, &InvalidResponseError{
				Reason: fmt.Sprintf("ticket field %q is not a string", key),
				Body:   body,
			}
		}
		fields[key] = text
	}

	return &UploadTicket{URL: url, Fields: fields}, nil
}
