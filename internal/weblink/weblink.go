// Package weblink fetches a web page and reduces it to readable text lines.
package weblink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const (
	// DefaultMaxLines caps the relayed page text.
	DefaultMaxLines = 100
	maxBodyBytes    = 4 << 20
	userAgent       = "relay"
)

// ErrUnsupportedURL reports a link that is not an absolute http(s) URL.
var ErrUnsupportedURL = errors.New("link must be an http:// or https:// URL")

// Page is the text extracted from one link.
type Page struct {
	URL       string
	Text      string
	Lines     int
	Truncated bool
}

// Fetcher downloads pages and extracts their text.
type Fetcher struct {
	client   *http.Client
	maxLines int
}

// NewFetcher builds a fetcher. A nil client uses a client with a 30s timeout;
// callers bound individual fetches with their context.
func NewFetcher(client *http.Client, maxLines int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Fetcher{client: client, maxLines: maxLines}
}

// ParseLink trims raw and accepts only absolute http and https URLs.
func ParseLink(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrUnsupportedURL
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrUnsupportedURL
	}
	return u, nil
}

// Fetch downloads raw and returns at most maxLines lines of its text.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (Page, error) {
	link, err := ParseLink(raw)
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request for %s: %w", link, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", link, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: content type %q: %w", link, contentType, err)
	}

	decoded, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return Page{}, fmt.Errorf("decode %s: %w", link, err)
	}

	var lines []string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		lines, err = htmlLines(decoded)
		if err != nil {
			return Page{}, fmt.Errorf("parse %s: %w", link, err)
		}
	case strings.HasPrefix(mediaType, "text/"):
		text, err := io.ReadAll(decoded)
		if err != nil {
			return Page{}, fmt.Errorf("read %s: %w", link, err)
		}
		lines = textLines(string(text))
	default:
		return Page{}, fmt.Errorf("fetch %s: unsupported content type %s", link, mediaType)
	}

	page := Page{URL: link.String()}
	if len(lines) > f.maxLines {
		lines = lines[:f.maxLines]
		page.Truncated = true
	}
	page.Lines = len(lines)
	page.Text = strings.Join(lines, "\n")
	return page, nil
}

// textLines collapses inner whitespace and drops blank lines.
func textLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			lines = append(lines, collapsed)
		}
	}
	return lines
}
