// Package lens compiles lens configuration into regex rule sets and applies
// them, together with user settings, as the admission filter that decides
// which URLs are allowed onto the crawl queue.
package lens

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a single lens rule: either a glob pattern to reject (SkipURL) or a
// URL-prefix path-depth bound (LimitURLDepth).
type Rule struct {
	SkipURL        string // glob pattern, e.g. "https://example.com/*?action=*"
	LimitURLPrefix string // prefix this depth bound applies to
	LimitURLDepth  int    // 0 means LimitURLPrefix/LimitURLDepth is unset
}

// Config is the subset of a lens's configuration the Rule Compiler consumes:
// domains and URL prefixes to allow, plus skip/depth-limit rules.
type Config struct {
	Name    string
	Domains []string
	URLs    []string
	Rules   []Rule
}

// RuleSet is the compiled output of CompileLens: three ordered regex lists
// ready to be merged into an admission filter's composite allow/skip/restrict
// sets.
type RuleSet struct {
	Allow    []*regexp.Regexp
	Skip     []*regexp.Regexp
	Restrict []*regexp.Regexp
}

// regexForDomain builds a pattern that matches the scheme-qualified host
// boundary for domain, so "foo.com" matches "https://foo.com/x" and
// "https://sub.foo.com/x" but never "https://foo.com.evil/x".
func regexForDomain(domain string) string {
	escaped := regexp.QuoteMeta(domain)
	return fmt.Sprintf(`^[a-zA-Z][a-zA-Z0-9+.-]*://(?:[^/]+\.)?%s(?:[:/]|$)`, escaped)
}

// regexForPrefix anchors at the URL start, so the prefix must match the
// beginning of the normalized URL exactly.
func regexForPrefix(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix)
}

// globToRegex translates a shell-style glob (only "*" is special) into an
// anchored regex, mirroring the original lens rule format's SkipURL pattern.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, part := range strings.Split(glob, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	pattern := strings.TrimSuffix(b.String(), ".*")
	return pattern + "$"
}

// limitDepthRegex bounds how many path segments beyond prefix a URL may have.
// depth 0 means only prefix itself (and its trailing slash) is allowed;
// depth n allows up to n additional path segments.
func limitDepthRegex(prefix string, depth int) string {
	escaped := regexp.QuoteMeta(strings.TrimSuffix(prefix, "/"))
	if depth <= 0 {
		return fmt.Sprintf(`^%s/?$`, escaped)
	}
	return fmt.Sprintf(`^%s(/[^/]+){0,%d}/?$`, escaped, depth)
}

// CompileLens turns a lens Config into a RuleSet: domains and URL prefixes
// become allow-list patterns, SkipURL rules become skip-list patterns, and
// LimitURLDepth rules become restrict-list patterns (spec §4.2).
func CompileLens(cfg Config) (*RuleSet, error) {
	rs := &RuleSet{}

	for _, domain := range cfg.Domains {
		re, err := regexp.Compile(regexForDomain(domain))
		if err != nil {
			return nil, fmt.Errorf("lens %q: compile domain rule %q: %w", cfg.Name, domain, err)
		}
		rs.Allow = append(rs.Allow, re)
	}

	for _, prefix := range cfg.URLs {
		re, err := regexp.Compile(regexForPrefix(prefix))
		if err != nil {
			return nil, fmt.Errorf("lens %q: compile prefix rule %q: %w", cfg.Name, prefix, err)
		}
		rs.Allow = append(rs.Allow, re)
	}

	for _, rule := range cfg.Rules {
		switch {
		case rule.SkipURL != "":
			re, err := regexp.Compile(globToRegex(rule.SkipURL))
			if err != nil {
				return nil, fmt.Errorf("lens %q: compile skip rule %q: %w", cfg.Name, rule.SkipURL, err)
			}
			rs.Skip = append(rs.Skip, re)
		case rule.LimitURLPrefix != "":
			re, err := regexp.Compile(limitDepthRegex(rule.LimitURLPrefix, rule.LimitURLDepth))
			if err != nil {
				return nil, fmt.Errorf("lens %q: compile depth rule %q: %w", cfg.Name, rule.LimitURLPrefix, err)
			}
			rs.Restrict = append(rs.Restrict, re)
		}
	}

	return rs, nil
}

// compileDomainSkipList compiles the user's block_list domains into skip
// patterns using the same host-boundary rule as lens-level allow domains.
func compileDomainSkipList(domains []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(domains))
	for _, d := range domains {
		re, err := regexp.Compile(regexForDomain(d))
		if err != nil {
			return nil, fmt.Errorf("compile block_list domain %q: %w", d, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
