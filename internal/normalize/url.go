// Package normalize implements the URL Normalizer: parsing, scheme gating,
// fragment stripping, and domain extraction with the file:// special case.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
)

// allowedSchemes are the only schemes this core accepts (spec §6).
var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"file":  {},
	"api":   {},
}

// LocalhostDomain is the literal domain stamped on every file:// task,
// regardless of URL authority (spec invariant I6).
const LocalhostDomain = "localhost"

// Normalize parses rawURL, rejects it if the parse fails or the scheme is
// not in allowedSchemes, strips any fragment, and returns the canonical
// string form along with the task's domain. For file:// URLs the domain is
// always "localhost"; for every other scheme the parsed host must be
// present or the URL is rejected.
func Normalize(rawURL string) (canonical string, domain string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", fmt.Errorf("normalize: parse %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := allowedSchemes[scheme]; !ok {
		return "", "", fmt.Errorf("normalize: scheme %q not in {http,https,file,api}", u.Scheme)
	}
	u.Scheme = scheme

	// Fragment is stripped before storage and comparison (spec §6).
	u.Fragment = ""
	u.RawFragment = ""

	if scheme == "file" {
		return u.String(), LocalhostDomain, nil
	}

	if u.Host == "" {
		return "", "", fmt.Errorf("normalize: %q has no host", rawURL)
	}

	return u.String(), u.Hostname(), nil
}

// IsNormalized reports whether rawURL is already in canonical form: it
// parses, has an allowed scheme, and carries no fragment.
func IsNormalized(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if _, ok := allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return false
	}
	return u.Fragment == ""
}
