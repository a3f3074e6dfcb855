package extract

import (
	"strings"
	"unicode"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
)

// Hosts extracts hostnames from free text. All host patterns are applied and
// their matches unioned, then false positives are filtered out. The result is
// canonical (lower-cased, deduplicated, sorted).
func (r *Rules) Hosts(text string) []string {
	if text == "" {
		return []string{}
	}

	lower := strings.ToLower(text)
	candidates := make(map[string]struct{})
	for _, pattern := range r.HostPatterns {
		for _, m := range pattern.FindAllString(lower, -1) {
			candidates[m] = struct{}{}
		}
	}

	hosts := make([]string, 0, len(candidates))
	for h := range candidates {
		if r.validHost(h) {
			hosts = append(hosts, h)
		}
	}
	return ticket.NormalizeSet(hosts)
}

// validHost filters host candidates that are UUID fragments, hashes,
// versions, ticket keys and other pattern collisions.
func (r *Rules) validHost(hostname string) bool {
	hostname = strings.TrimSpace(strings.ToLower(hostname))

	if _, blacklisted := r.HostBlacklist[hostname]; blacklisted {
		return false
	}
	if uuidFragmentPattern.MatchString(hostname) {
		return false
	}
	if hexHashPattern.MatchString(hostname) {
		return false
	}
	if isDigits(strings.ReplaceAll(hostname, "-", "")) {
		return false
	}
	if versionPattern.MatchString(hostname) {
		return false
	}
	if !hasLetter(hostname) {
		return false
	}
	// "node-33" is a fragment of "s3-node-33".
	if bareNodePattern.MatchString(hostname) {
		return false
	}
	if cloudRegionPattern.MatchString(hostname) {
		return false
	}
	// Ticket keys like icrd-141 or ngcs-456, but never s3-node-123.
	if ticketKeyPattern.MatchString(hostname) && !strings.HasPrefix(hostname, "s3-node") {
		return false
	}
	// Attachment names like image-2025-11-18 or screenshot-1.
	if imageAttachPattern.MatchString(hostname) {
		return false
	}
	return true
}

// Technologies extracts known technology terms from free text by whole-word
// match against the vocabulary.
func (r *Rules) Technologies(text string) []string {
	if text == "" {
		return []string{}
	}

	lower := strings.ToLower(text)
	found := make([]string, 0, 4)
	for i, pattern := range r.TechnologyPatterns {
		if pattern.MatchString(lower) {
			found = append(found, r.TechnologyTags[i])
		}
	}
	return ticket.NormalizeSet(found)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, c := range s {
		if unicode.IsLetter(c) {
			return true
		}
	}
	return false
}
