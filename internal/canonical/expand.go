package canonical

import (
	"regexp"
	"sort"
	"strings"
)

var (
	formSuffix     = regexp.MustCompile(`(?i)\s+(sodium|tablet|capsule|injection|oral|iv|im)\s*$`)
	trailingDigits = regexp.MustCompile(`^(.+?)\d+$`)
)

// Expand returns the surface forms worth sending to a source for one drug:
// the trimmed original first, then synonyms and spelling variants sorted.
func Expand(name string, synonyms []string) []string {
	original := strings.TrimSpace(name)
	if original == "" {
		return []string{}
	}

	set := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && s != original {
			set[s] = true
		}
	}

	for _, s := range synonyms {
		add(s)
	}
	add(strings.ToLower(original))
	for _, v := range variations(original) {
		add(v)
	}

	rest := make([]string, 0, len(set))
	for s := range set {
		rest = append(rest, s)
	}
	sort.Slice(rest, func(i, j int) bool {
		li, lj := strings.ToLower(rest[i]), strings.ToLower(rest[j])
		if li != lj {
			return li < lj
		}
		return rest[i] < rest[j]
	})

	return append([]string{original}, rest...)
}

func variations(name string) []string {
	var out []string

	base := name
	for {
		stripped := formSuffix.ReplaceAllString(base, "")
		if stripped == base {
			break
		}
		base = stripped
	}
	if base != name {
		out = append(out, base)
	}

	if strings.Contains(name, "-") {
		out = append(out, strings.ReplaceAll(name, "-", " "), strings.ReplaceAll(name, "-", ""))
	}
	if strings.Contains(name, " ") {
		out = append(out, strings.ReplaceAll(name, " ", "-"), strings.ReplaceAll(name, " ", ""))
	}
	if m := trailingDigits.FindStringSubmatch(name); m != nil {
		out = append(out, m[1])
	}

	return out
}

// ExpandDrug expands a drug name with its synonym table entries.
func (c *Canonicalizer) ExpandDrug(name string) []string {
	key := c.Canonicalize(name, Drug)
	syn := c.Synonyms(key, Drug)
	if key != Normalize(name) {
		syn = append(syn, key)
	}
	return Expand(name, syn)
}
