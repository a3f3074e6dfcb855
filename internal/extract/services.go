package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tareqmamari/inc-correlator/internal/ticket"
)

var trailingParens = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// Services extracts canonical service names from free text plus the ticket's
// business-unit labels. Synonyms maps canonical service names to their
// aliases; any canonical name or alias found as a substring maps to the
// canonical name. Bracket tags only count when they resolve through the
// synonym table, unknown tags are dropped.
func (r *Rules) Services(text string, businessUnits []string, synonyms map[string][]string) []string {
	services := make(map[string]struct{})

	canonicals := make([]string, 0, len(synonyms))
	for canonical := range synonyms {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	if text != "" {
		lower := strings.ToLower(text)

		for _, canonical := range canonicals {
			aliases := synonyms[canonical]
			if strings.Contains(lower, canonical) {
				services[canonical] = struct{}{}
				continue
			}
			for _, alias := range aliases {
				if strings.Contains(lower, alias) {
					services[canonical] = struct{}{}
					break
				}
			}
		}

		for _, group := range bracketTag.FindAllStringSubmatch(text, -1) {
			tag := group[1]
			if !r.validServiceTag(tag) {
				continue
			}
			tagLower := strings.ToLower(strings.TrimSpace(tag))
			if _, ignored := r.IgnoreTags[tagLower]; ignored {
				continue
			}
			for _, canonical := range canonicals {
				if strings.Contains(tagLower, canonical) || containsAny(tagLower, synonyms[canonical]) {
					services[canonical] = struct{}{}
					break
				}
			}
		}
	}

	for _, bu := range businessUnits {
		if service := r.ParseBusinessUnit(bu); service != "" {
			services[service] = struct{}{}
		}
	}

	out := make([]string, 0, len(services))
	for s := range services {
		out = append(out, s)
	}
	return ticket.NormalizeSet(out)
}

// validServiceTag filters bracket tags that are mentions, dates, URLs,
// attachments or bare numbers.
func (r *Rules) validServiceTag(tag string) bool {
	tag = strings.TrimSpace(tag)

	// Tracker mentions: [~username]
	if strings.HasPrefix(tag, "~") {
		return false
	}
	// Date intervals: [22/07/2025 07:03, 22/07/2025 13:18]
	if dateTagPattern.MatchString(tag) {
		return false
	}
	if strings.HasPrefix(tag, "http") || strings.Contains(tag, ".com") || strings.Contains(tag, ".org") {
		return false
	}
	// Inline attachments: !image.png!
	if strings.HasPrefix(tag, "!") || strings.HasSuffix(tag, "!") {
		return false
	}
	if len(tag) < 2 {
		return false
	}
	stripped := strings.NewReplacer(" ", "", ":", "", ",", "").Replace(tag)
	if isDigits(stripped) {
		return false
	}
	return true
}

// ParseBusinessUnit reduces a business-unit label to a service name.
//
// Supported shapes:
//
//	AR_Cloud Builder                          -> cloud builder
//	IC-S3 Object Storage                      -> s3 object storage
//	Next Generation Cloud Server (NGCS)       -> ngcs
//	IONOS Cloud/IC PSS/IC-S3 Object Storage   -> s3 object storage
//	Customer Interaction Systems (IC-CIS)     -> ic-cis
//	ACS, Dave, Sedo                           -> acs, dave, sedo
//
// Returns "" when no service name can be derived.
func (r *Rules) ParseBusinessUnit(bu string) string {
	bu = strings.TrimSpace(bu)
	if bu == "" {
		return ""
	}
	lower := strings.ToLower(bu)

	for _, prefix := range r.BrandPrefixes {
		match := prefix.pattern.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		service := match[1]
		if prefix.acronym {
			service = match[2]
		}
		return strings.TrimSpace(strings.ReplaceAll(service, "_", " "))
	}

	// Hierarchical labels keep the most specific (last) segment.
	if strings.Contains(bu, "/") {
		parts := strings.Split(bu, "/")
		last := strings.TrimSpace(parts[len(parts)-1])
		if parsed := r.ParseBusinessUnit(last); parsed != "" {
			return parsed
		}
		return strings.ToLower(last)
	}

	result := lower
	for _, suffix := range r.GenericSuffix {
		if strings.HasSuffix(result, suffix) {
			result = strings.TrimSpace(result[:len(result)-len(suffix)])
			result = strings.TrimSpace(trailingParens.ReplaceAllString(result, ""))
			break
		}
	}
	if len(result) >= 2 {
		return result
	}

	// Direct labels like ACS or Sedo pass through as-is.
	if len(bu) >= 2 && len(bu) <= 50 {
		return lower
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
