// Package urlutil provides URL helpers that preserve the original encoding of
// URLs scraped from HTML and scripts.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL.
// Uses string manipulation so signed query strings are passed through untouched;
// url.ResolveReference would re-encode them.
func ResolveURL(urlStr string, baseURL string) string {
	urlStr = strings.TrimSpace(urlStr)

	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}

	// Protocol-relative, common in embed iframes
	if strings.HasPrefix(urlStr, "//") {
		scheme := "https"
		if parsed, err := url.Parse(baseURL); err == nil && parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		return scheme + ":" + urlStr
	}

	base := baseURL
	if idx := strings.Index(base, "?"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > 0 {
		base = base[:lastSlash+1]
	}

	if strings.HasPrefix(urlStr, "/") {
		return GetSchemeHost(baseURL) + urlStr
	}

	if strings.HasPrefix(urlStr, "../") {
		result := base
		remaining := urlStr
		for strings.HasPrefix(remaining, "../") {
			remaining = remaining[3:]
			result = strings.TrimSuffix(result, "/")
			if lastSlash := strings.LastIndex(result, "/"); lastSlash > 0 {
				result = result[:lastSlash+1]
			}
		}
		return result + remaining
	}

	return base + urlStr
}

// GetSchemeHost extracts scheme://host from a URL.
func GetSchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// IsAbsoluteHTTP reports whether s parses as an absolute http(s) URL with a host.
func IsAbsoluteHTTP(s string) bool {
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
