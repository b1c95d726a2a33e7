package creative

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// 1x1 transparent PNG.
var pngBytes, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

func TestFetchRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c, err := NewFetcher(5*time.Second, "test-agent").Fetch(context.Background(), srv.URL+"/ad.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if c.ContentType != "image/png" {
		t.Fatalf("ContentType = %s; want image/png", c.ContentType)
	}
	back, err := ParseDataURL(c.DataURL())
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if !bytes.Equal(back.Data, pngBytes) {
		t.Fatal("decoded data URL differs from fetched bytes")
	}
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	c, err := NewFetcher(0, "").Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if c.ContentType != "image/png" {
		t.Fatalf("ContentType = %s; want image/png", c.ContentType)
	}
}

func TestFetchRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		case "/big":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(bytes.Repeat([]byte{0}, 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(0, "")
	if _, err := f.Fetch(context.Background(), srv.URL+"/html"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("Fetch(html) error = %v; want ErrNotImage", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("Fetch(missing) error = %v; want HTTP 404", err)
	}
	f.maxBytes = 32
	if _, err := f.Fetch(context.Background(), srv.URL+"/big"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Fetch(big) error = %v; want ErrTooLarge", err)
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/x.png"); err == nil {
		t.Fatal("Fetch(ftp) error = nil")
	}
}

func TestSourceDegradesToRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewFetcher(0, "").Source(context.Background(), srv.URL+"/ad.png")
	if src.Embedded || src.Value != srv.URL+"/ad.png" || src.Err == nil {
		t.Fatalf("Source() = %+v; want remote url fallback", src)
	}
}

func TestSourceEmbedsDataURL(t *testing.T) {
	in := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	src := NewFetcher(0, "").Source(context.Background(), in)
	if !src.Embedded || src.Value != in {
		t.Fatalf("Source() = %+v; want embedded passthrough", src)
	}
}

func TestParseDataURLPercentEncoded(t *testing.T) {
	c, err := ParseDataURL("data:image/svg+xml,%3Csvg%3E%3C/svg%3E")
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if c.ContentType != "image/svg+xml" || string(c.Data) != "<svg></svg>" {
		t.Fatalf("ParseDataURL() = %s %q", c.ContentType, c.Data)
	}
}
