package report

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	parentheticalRE = regexp.MustCompile(`\([^)]*\)`)
	agentOrdinalRE  = regexp.MustCompile(`(?i)^(?:agent\s*)?#\s*\d+\s*[:.\-–—]?\s*`)
	leadingOrdinal  = regexp.MustCompile(`^\d+[-_.]`)
	nonSlugRunRE    = regexp.MustCompile(`[^a-z0-9]+`)
	refSeparatorRE  = regexp.MustCompile(`\s*(?:,|;|\||&|→|->|⇒|\band\b)\s*`)
)

var emptyRefValues = map[string]struct{}{
	"":     {},
	"none": {},
	"n/a":  {},
	"na":   {},
	"tbd":  {},
	"-":    {},
	"—":    {},
	"–":    {},
	"null": {},
}

// NormalizeRef turns a human-written agent reference into its slug form:
// `05-Dissertation Architect` and "**05-dissertation-architect**" both become
// 05-dissertation-architect.
func NormalizeRef(raw string) string {
	value := stripMarkup(raw)
	value = parentheticalRE.ReplaceAllString(value, " ")
	value = strings.TrimSpace(value)
	value = agentOrdinalRE.ReplaceAllString(value, "")
	value = strings.ToLower(value)
	value = nonSlugRunRE.ReplaceAllString(value, "-")
	return strings.Trim(value, "-")
}

// StripOrdinal removes a leading pipeline ordinal ("04-") from a slug.
func StripOrdinal(slug string) string {
	trimmed := leadingOrdinal.ReplaceAllString(slug, "")
	if trimmed == "" {
		return slug
	}
	return trimmed
}

// SplitRefs splits an inline reference list and normalizes every entry.
// Placeholder values such as "None" or "N/A" produce an empty list.
func SplitRefs(raw string) []string {
	cleaned := strings.TrimSpace(parentheticalRE.ReplaceAllString(stripMarkup(raw), " "))
	if isEmptyRefValue(cleaned) {
		return []string{}
	}
	parts := refSeparatorRE.Split(cleaned, -1)
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		if isEmptyRefValue(part) {
			continue
		}
		ref := NormalizeRef(part)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func isEmptyRefValue(value string) bool {
	_, ok := emptyRefValues[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func stripMarkup(value string) string {
	replacer := strings.NewReplacer("**", "", "__", "", "`", "", "\"", "", "'", "", "[", "", "]", "")
	return replacer.Replace(value)
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
