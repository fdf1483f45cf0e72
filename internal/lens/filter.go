package lens

import (
	"regexp"

	"github.com/arclamp/ingestd/internal/normalize"
	"github.com/arclamp/ingestd/internal/task"
)

// FilterURLs applies the admission filter (spec §4.3) to urls: it builds
// composite skip/allow/restrict sets from blockList and every ruleset in
// lenses, normalizes each URL, and keeps only those that survive in order:
//
//  1. normalize (drop on failure)
//  2. drop if skip matches
//  3. drop if restrict is non-empty and does not match
//  4. accept if settings.CrawlExternalLinks
//  5. else accept iff overrides.ForceAllow or (allow non-empty and matches)
//
// Ordering matters: skip beats allow, and restrict intersects allow rather
// than substituting for it.
func FilterURLs(lenses []*RuleSet, blockList []string, settings task.UserSettings, overrides task.Overrides, urls []string) ([]string, error) {
	skipDomains, err := compileDomainSkipList(blockList)
	if err != nil {
		return nil, err
	}

	var allow, skip, restrict []*regexp.Regexp
	skip = append(skip, skipDomains...)
	for _, rs := range lenses {
		allow = append(allow, rs.Allow...)
		skip = append(skip, rs.Skip...)
		restrict = append(restrict, rs.Restrict...)
	}

	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		normalized, _, err := normalize.Normalize(raw)
		if err != nil {
			continue
		}

		if anyMatch(skip, normalized) {
			continue
		}
		if len(restrict) > 0 && !anyMatch(restrict, normalized) {
			continue
		}

		if settings.CrawlExternalLinks {
			out = append(out, normalized)
			continue
		}

		if overrides.ForceAllow || (len(allow) > 0 && anyMatch(allow, normalized)) {
			out = append(out, normalized)
		}
	}

	return out, nil
}
