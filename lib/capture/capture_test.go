// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bureau-foundation/erasure/lib/codec"
	"github.com/bureau-foundation/erasure/lib/testutil"
)

func TestFetchOnlyCapturesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusGone)
		io.WriteString(w, "<html><body>This profile has been removed.</body></html>")
	}))
	defer server.Close()

	artifact, err := NewFetchOnly(nil, time.Second).Capture(context.Background(), server.URL+"/profile/1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if artifact.StatusCode != http.StatusGone || artifact.ContentType != "text/html" {
		t.Errorf("artifact status=%d type=%q", artifact.StatusCode, artifact.ContentType)
	}
	if !bytes.Contains(artifact.HTML, []byte("has been removed")) || artifact.Screenshot != nil {
		t.Errorf("artifact body=%q screenshot=%v", artifact.HTML, artifact.Screenshot)
	}
}

func TestFetchOnlyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	_, err := NewFetchOnly(nil, 50*time.Millisecond).Capture(context.Background(), server.URL)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Capture = %v, want ErrFetch", err)
	}
}

func TestHTTPCapturer(t *testing.T) {
	screenshot := []byte("\x89PNG\r\n\x1a\nfake")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/cbor" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		var request captureRequest
		if err := codec.Unmarshal(body, &request); err != nil {
			t.Errorf("decoding capture request: %v", err)
		}
		if request.URL == "https://broken.example/" {
			data, _ := codec.Marshal(captureResponse{Error: "navigation timeout"})
			w.Write(data)
			return
		}
		data, _ := codec.Marshal(captureResponse{
			Status:      http.StatusOK,
			ContentType: "text/html",
			HTML:        []byte("<p>" + request.URL + "</p>"),
			Screenshot:  screenshot,
		})
		w.Header().Set("Content-Type", "application/cbor")
		w.Write(data)
	}))
	defer server.Close()

	capturer, err := NewHTTPCapturer(HTTPCapturerConfig{ServiceURL: server.URL, Timeout: time.Second, Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("NewHTTPCapturer: %v", err)
	}
	artifact, err := capturer.Capture(context.Background(), "https://olx.example/item/9")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(artifact.HTML) != "<p>https://olx.example/item/9</p>" || !bytes.Equal(artifact.Screenshot, screenshot) {
		t.Errorf("artifact = %+v", artifact)
	}

	if _, err := capturer.Capture(context.Background(), "https://broken.example/"); !errors.Is(err, ErrFetch) {
		t.Errorf("service error = %v, want ErrFetch", err)
	}
}

func TestHTTPCapturerServiceDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	capturer, err := NewHTTPCapturer(HTTPCapturerConfig{ServiceURL: server.URL, Logger: testutil.Logger()})
	if err != nil {
		t.Fatalf("NewHTTPCapturer: %v", err)
	}
	if _, err := capturer.Capture(context.Background(), "https://olx.example/"); !errors.Is(err, ErrFetch) {
		t.Errorf("Capture = %v, want ErrFetch", err)
	}
}
