// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/parcel-pm/parcel/lib/auth"
	"github.com/parcel-pm/parcel/lib/payload"
	"github.com/parcel-pm/parcel/lib/registry"
)

// fakeRegistry is an httptest server speaking the ticketed-upload
// protocol. Handlers can be overridden per scenario; hit counters
// track how often each step was reached.
type fakeRegistry struct {
	server *httptest.Server

	ticketHits  atomic.Int32
	uploadHits  atomic.Int32
	confirmHits atomic.Int32

	// ticket, upload, and confirm replace the default success
	// handlers when non-nil.
	ticket  func(http.ResponseWriter, *http.Request)
	upload  func(http.ResponseWriter, *http.Request)
	confirm func(http.ResponseWriter, *http.Request)
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()

	fake := &fakeRegistry{}
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/versions/new.json", func(writer http.ResponseWriter, request *http.Request) {
		fake.ticketHits.Add(1)
		if fake.ticket != nil {
			fake.ticket(writer, request)
			return
		}
		writer.Write([]byte(`{"url": "` + fake.server.URL + `/blob", "fields": {"key": "v"}}`))
	})
	mux.HandleFunc("/blob", func(writer http.ResponseWriter, request *http.Request) {
		fake.uploadHits.Add(1)
		if fake.upload != nil {
			fake.upload(writer, request)
			return
		}
		writer.Header().Set("Location", fake.server.URL+"/confirm")
		writer.WriteHeader(http.StatusSeeOther)
	})
	mux.HandleFunc("/confirm", func(writer http.ResponseWriter, request *http.Request) {
		fake.confirmHits.Add(1)
		if fake.confirm != nil {
			fake.confirm(writer, request)
			return
		}
		writer.Write([]byte(`{"success": {"message": "Published foo 1.0.0"}}`))
	})

	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)
	return fake
}

// newPackageDir creates a minimal publishable package directory.
func newPackageDir(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"parcel.yaml": "name: foo\nversion: 1.0.0\n",
		"lib/foo.go":  "package foo\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

// newCache writes a credentials file with a non-expiring token.
func newCache(t *testing.T) *auth.Cache {
	t.Helper()

	path := filepath.Join(t.TempDir(), auth.CredentialsFilename)
	if err := os.WriteFile(path, []byte(`{"token": "tok-test"}`), 0600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	return auth.NewCache(path)
}

func newAttempt(t *testing.T, fake *fakeRegistry, root string) *Attempt {
	t.Helper()

	client, err := registry.NewClient(registry.Config{ServerURL: fake.server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &Attempt{Root: root, Registry: client}
}

func TestAttempt_Success(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	message, err := newAttempt(t, fake, newPackageDir(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if message != "Published foo 1.0.0" {
		t.Errorf("message = %q, want %q", message, "Published foo 1.0.0")
	}
	if fake.ticketHits.Load() != 1 || fake.uploadHits.Load() != 1 || fake.confirmHits.Load() != 1 {
		t.Errorf("hits = %d/%d/%d, want 1/1/1",
			fake.ticketHits.Load(), fake.uploadHits.Load(), fake.confirmHits.Load())
	}
}

func TestAttempt_UploadsNonEmptyArchive(t *testing.T) {
	t.Parallel()

	var uploadedSize int64
	fake := newFakeRegistry(t)
	fake.upload = func(writer http.ResponseWriter, request *http.Request) {
		if err := request.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		} else if file, header, err := request.FormFile("file"); err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			uploadedSize = header.Size
			file.Close()
		}
		writer.Header().Set("Location", fake.server.URL+"/confirm")
		writer.WriteHeader(http.StatusSeeOther)
	}

	if _, err := newAttempt(t, fake, newPackageDir(t)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if uploadedSize == 0 {
		t.Error("uploaded archive was empty")
	}
}

func TestAttempt_TicketRejected(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	fake.ticket = func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
		writer.Write([]byte(`{"error": {"message": "bad credentials"}}`))
	}

	_, err := newAttempt(t, fake, newPackageDir(t)).Run(context.Background())
	var serverErr *registry.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Run error = %v, want *registry.ServerError", err)
	}
	if serverErr.Message != "bad credentials" {
		t.Errorf("Message = %q", serverErr.Message)
	}
	if fake.uploadHits.Load() != 0 {
		t.Error("upload ran after ticket rejection")
	}
}

func TestAttempt_MissingRootFailsFast(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	root := filepath.Join(t.TempDir(), "does-not-exist")

	_, err := newAttempt(t, fake, root).Run(context.Background())
	var fsErr *payload.FileSystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("Run error = %v, want *payload.FileSystemError", err)
	}
	if fake.uploadHits.Load() != 0 {
		t.Error("upload ran after file selection failure")
	}
}

func TestAttempt_UploadWithoutLocation(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	fake.upload = func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadRequest)
		writer.Write([]byte("unstructured diagnostics"))
	}

	_, err := newAttempt(t, fake, newPackageDir(t)).Run(context.Background())
	var uploadErr *registry.UploadFailedError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("Run error = %v, want *registry.UploadFailedError", err)
	}
	if fake.confirmHits.Load() != 0 {
		t.Error("confirmation ran after failed upload")
	}
}

func TestPublish_DoesNotRetryServerErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	fake.ticket = func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
		writer.Write([]byte(`{"error": {"message": "bad credentials"}}`))
	}

	var notice bytes.Buffer
	_, err := Publish(context.Background(), Options{
		Root:      newPackageDir(t),
		ServerURL: fake.server.URL,
		Cache:     newCache(t),
		Notice:    &notice,
	})

	var serverErr *registry.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("Publish error = %v, want *registry.ServerError", err)
	}
	if fake.ticketHits.Load() != 1 {
		t.Errorf("ticket endpoint hit %d times, want 1 (no retry)", fake.ticketHits.Load())
	}
	if notice.Len() != 0 {
		t.Errorf("renewal notice printed for a non-expiry error: %q", notice.String())
	}
}

func TestPublish_RetriesOnceOnExpiry(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	fake.ticket = func(writer http.ResponseWriter, request *http.Request) {
		if fake.ticketHits.Load() == 1 {
			writer.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		writer.Write([]byte(`{"url": "` + fake.server.URL + `/blob", "fields": {"key": "v"}}`))
	}

	var notice bytes.Buffer
	message, err := Publish(context.Background(), Options{
		Root:      newPackageDir(t),
		ServerURL: fake.server.URL,
		Cache:     newCache(t),
		Notice:    &notice,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if message != "Published foo 1.0.0" {
		t.Errorf("message = %q", message)
	}
	if fake.ticketHits.Load() != 2 {
		t.Errorf("ticket endpoint hit %d times, want 2", fake.ticketHits.Load())
	}
	if !strings.Contains(notice.String(), "expired") {
		t.Errorf("renewal notice = %q, want mention of expiry", notice.String())
	}
}

func TestPublish_SecondExpiryPropagates(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	fake.ticket = func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
		writer.WriteHeader(http.StatusUnauthorized)
	}

	var notice bytes.Buffer
	_, err := Publish(context.Background(), Options{
		Root:      newPackageDir(t),
		ServerURL: fake.server.URL,
		Cache:     newCache(t),
		Notice:    &notice,
	})
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("Publish error = %v, want ErrTokenExpired", err)
	}
	if fake.ticketHits.Load() != 2 {
		t.Errorf("ticket endpoint hit %d times, want exactly 2 (one retry, no loop)", fake.ticketHits.Load())
	}
}

func TestPublish_ExpiredCacheBeforeAnyRequest(t *testing.T) {
	t.Parallel()

	fake := newFakeRegistry(t)
	path := filepath.Join(t.TempDir(), auth.CredentialsFilename)
	expired := `{"token": "tok-old", "expiry": "2020-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(expired), 0600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	var notice bytes.Buffer
	_, err := Publish(context.Background(), Options{
		Root:      newPackageDir(t),
		ServerURL: fake.server.URL,
		Cache:     auth.NewCache(path),
		Notice:    &notice,
	})
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("Publish error = %v, want ErrTokenExpired", err)
	}
	// The retry reloads the same lapsed cache, so no request is ever
	// made — but the notice must still have been printed once.
	if fake.ticketHits.Load() != 0 {
		t.Errorf("ticket endpoint hit %d times, want 0", fake.ticketHits.Load())
	}
	if !strings.Contains(notice.String(), "expired") {
		t.Errorf("renewal notice = %q, want mention of expiry", notice.String())
	}
}
