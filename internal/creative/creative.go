// Package creative downloads creative images and embeds them as data URLs so
// injected images load regardless of the page's content security policy.
package creative

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxBytes caps a creative download.
const MaxBytes = 10 << 20

var (
	ErrTooLarge = errors.New("creative exceeds size limit")
	ErrNotImage = errors.New("creative is not an image")
)

// AllowedTypes are the creative formats accepted for upload.
var AllowedTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

type Creative struct {
	URL         string
	ContentType string
	Data        []byte
}

// DataURL returns the creative as a base64 data URL.
func (c Creative) DataURL() string {
	return "data:" + c.ContentType + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// Source is what gets injected: an embedded data URL, or the original
// remote URL when the download failed.
type Source struct {
	Value    string
	Embedded bool
	Creative *Creative
	Err      error
}

type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  MaxBytes,
		userAgent: userAgent,
	}
}

// Fetch downloads rawURL. data: URLs are decoded in place.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Creative, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return ParseDataURL(rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Creative{}, fmt.Errorf("creative: unsupported url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Creative{}, fmt.Errorf("creative: build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Creative{}, fmt.Errorf("creative: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Creative{}, fmt.Errorf("creative: fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Creative{}, fmt.Errorf("creative: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return Creative{}, ErrTooLarge
	}

	ct := ContentType(resp.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(ct, "image/") {
		return Creative{}, fmt.Errorf("%w: %s", ErrNotImage, ct)
	}
	return Creative{URL: rawURL, ContentType: ct, Data: data}, nil
}

// Source fetches rawURL for injection and degrades to the remote URL on
// any failure.
func (f *Fetcher) Source(ctx context.Context, rawURL string) Source {
	c, err := f.Fetch(ctx, rawURL)
	if err != nil {
		slog.Warn("creative download failed, injecting remote url", "url", rawURL, "error", err)
		return Source{Value: rawURL, Err: err}
	}
	return Source{Value: c.DataURL(), Embedded: true, Creative: &c}
}

// ContentType returns the media type from header, sniffing data when the
// header is missing or generic.
func ContentType(header string, data []byte) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// ParseDataURL decodes a base64 or percent-encoded data URL.
func ParseDataURL(raw string) (Creative, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return Creative{}, fmt.Errorf("creative: not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Creative{}, fmt.Errorf("creative: malformed data url")
	}
	isBase64 := strings.HasSuffix(meta, ";base64")
	meta = strings.TrimSuffix(meta, ";base64")

	var data []byte
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Creative{}, fmt.Errorf("creative: decode data url: %w", err)
		}
		data = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return Creative{}, fmt.Errorf("creative: decode data url: %w", err)
		}
		data = []byte(s)
	}
	if len(data) > MaxBytes {
		return Creative{}, ErrTooLarge
	}
	return Creative{URL: raw, ContentType: ContentType(meta, data), Data: data}, nil
}
