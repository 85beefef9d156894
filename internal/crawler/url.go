package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errOutOfScope = errors.New("link out of scope")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u).String(), nil
}

func normalize(u *url.URL) *url.URL {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if n.Scheme == "http" && strings.HasSuffix(n.Host, ":80") {
		n.Host = strings.TrimSuffix(n.Host, ":80")
	}
	if n.Scheme == "https" && strings.HasSuffix(n.Host, ":443") {
		n.Host = strings.TrimSuffix(n.Host, ":443")
	}

	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
	}
	if n.RawQuery != "" {
		n.RawQuery = n.Query().Encode()
	}
	n.ForceQuery = false
	return &n
}

// NormalizeSubmittedURL defaults the scheme to https and normalizes the result.
// The URL must carry a host.
func NormalizeSubmittedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}
	return normalize(u).String(), nil
}

// ScopeDomain returns the lowercased host of rawURL without its port.
func ScopeDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// ResolveLink resolves href against the page it was found on and normalizes it.
// Only http(s) links whose host equals scope are returned.
func ResolveLink(base *url.URL, href, scope string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", errOutOfScope
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme == "" {
		abs.Scheme = "https"
	}
	abs.Scheme = strings.ToLower(abs.Scheme)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", errOutOfScope
	}
	if !strings.EqualFold(abs.Hostname(), scope) {
		return "", errOutOfScope
	}
	return normalize(abs).String(), nil
}

// IsOutOfScope reports whether err came from ResolveLink dropping a link.
func IsOutOfScope(err error) bool {
	return errors.Is(err, errOutOfScope)
}
