// Package canonical maps free-text entity names onto stable keys and
// compares the attribute lists of two drugs.
package canonical

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

type EntityKind string

const (
	Drug       EntityKind = "drug"
	Enzyme     EntityKind = "enzyme"
	Target     EntityKind = "target"
	Pathway    EntityKind = "pathway"
	SideEffect EntityKind = "side_effect"
)

// Tables maps, per entity kind, a canonical key to its aliases.
type Tables map[EntityKind]map[string][]string

func DefaultTables() Tables {
	return Tables{
		Enzyme: {
			"cyp3a4":  {"cytochrome p450 3a4", "cyp 3a4", "p450 3a4"},
			"cyp2c9":  {"cytochrome p450 2c9", "cyp 2c9", "p450 2c9"},
			"cyp2d6":  {"cytochrome p450 2d6", "cyp 2d6", "p450 2d6"},
			"cyp1a2":  {"cytochrome p450 1a2", "cyp 1a2", "p450 1a2"},
			"cyp2c19": {"cytochrome p450 2c19", "cyp 2c19", "p450 2c19"},
		},
		Drug: {
			"warfarin":       {"coumadin", "jantoven", "warfarin sodium"},
			"fluconazole":    {"diflucan"},
			"acetaminophen":  {"paracetamol", "tylenol", "apap"},
			"aspirin":        {"acetylsalicylic acid", "asa"},
			"ibuprofen":      {"advil", "motrin"},
			"simvastatin":    {"zocor"},
			"clarithromycin": {"biaxin"},
			"rifampin":       {"rifampicin", "rifadin"},
			"omeprazole":     {"prilosec"},
			"clopidogrel":    {"plavix"},
			"amiodarone":     {"cordarone"},
		},
	}
}

// LoadTables reads a YAML synonym file shaped like Tables.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonym file: %w", err)
	}
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse synonym file: %w", err)
	}
	return t, nil
}

// Merge returns a new table with other's aliases added to t's.
func (t Tables) Merge(other Tables) Tables {
	out := make(Tables, len(t))
	for _, src := range []Tables{t, other} {
		for kind, entries := range src {
			if out[kind] == nil {
				out[kind] = make(map[string][]string)
			}
			for key, aliases := range entries {
				out[kind][key] = append(out[kind][key], aliases...)
			}
		}
	}
	return out
}

// Conflicts lists aliases that more than one canonical key claims, one line
// per alias, sorted. A canonical key listed as another key's alias is not a
// conflict: it resolves to itself.
func (t Tables) Conflicts() []string {
	var out []string
	for kind, entries := range t {
		keys := make(map[string]bool, len(entries))
		for key := range entries {
			keys[Normalize(key)] = true
		}

		owners := make(map[string]map[string]bool)
		for key, aliases := range entries {
			canon := Normalize(key)
			for _, a := range aliases {
				n := Normalize(a)
				if n == "" || n == canon || keys[n] {
					continue
				}
				if owners[n] == nil {
					owners[n] = make(map[string]bool)
				}
				owners[n][canon] = true
			}
		}

		for alias, set := range owners {
			if len(set) < 2 {
				continue
			}
			out = append(out, fmt.Sprintf("%s %q claimed by %s", kind, alias, strings.Join(sortedKeys(set), ", ")))
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Normalize applies NFKC, lower-casing and whitespace collapsing.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Canonicalizer is immutable after New and safe for concurrent use.
type Canonicalizer struct {
	index    map[EntityKind]map[string]string
	synonyms map[EntityKind]map[string][]string
}

func New(t Tables) *Canonicalizer {
	c := &Canonicalizer{
		index:    make(map[EntityKind]map[string]string),
		synonyms: make(map[EntityKind]map[string][]string),
	}

	for kind, entries := range t {
		// An alias claimed by two keys goes to the first key in sorted order.
		idx := make(map[string]string)
		for _, key := range sortedKeys(entries) {
			canon := Normalize(key)
			for _, a := range entries[key] {
				n := Normalize(a)
				if _, taken := idx[n]; n == "" || taken {
					continue
				}
				idx[n] = canon
			}
		}
		// Canonical keys resolve to themselves even when listed as another
		// key's alias.
		for key := range entries {
			canon := Normalize(key)
			idx[canon] = canon
		}
		c.index[kind] = idx

		syn := make(map[string][]string)
		for alias, canon := range idx {
			if alias != canon {
				syn[canon] = append(syn[canon], alias)
			}
		}
		for canon := range syn {
			sort.Strings(syn[canon])
		}
		c.synonyms[kind] = syn
	}

	return c
}

// Canonicalize never fails: unknown names come back normalized.
func (c *Canonicalizer) Canonicalize(raw string, kind EntityKind) string {
	n := Normalize(raw)
	if canon, ok := c.index[kind][n]; ok {
		return canon
	}
	return n
}

// Synonyms lists the known aliases of a canonical key.
func (c *Canonicalizer) Synonyms(key string, kind EntityKind) []string {
	return append([]string(nil), c.synonyms[kind][c.Canonicalize(key, kind)]...)
}

// List canonicalizes values, dropping blanks and duplicates while keeping
// first-seen order.
func (c *Canonicalizer) List(values []string, kind EntityKind) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		k := c.Canonicalize(v, kind)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
