package evidence

// Section names, in prompt order.
const (
	SectionCanonical   = "canonical"
	SectionRisk        = "risk"
	SectionSideEffects = "side_effects"
	SectionFAERS       = "faers"
	SectionTargets     = "targets"
	SectionPathways    = "pathways"
	SectionEnzymes     = "enzymes"
)

var Sections = []string{
	SectionCanonical,
	SectionRisk,
	SectionSideEffects,
	SectionFAERS,
	SectionTargets,
	SectionPathways,
	SectionEnzymes,
}

var sectionByKind = map[Kind]string{
	KindCanonicalInteraction: SectionCanonical,
	KindRiskFlag:             SectionRisk,
	KindSideEffect:           SectionSideEffects,
	KindFAERS:                SectionFAERS,
	KindTarget:               SectionTargets,
	KindPathway:              SectionPathways,
	KindEnzyme:               SectionEnzymes,
}

// SectionFor routes an item kind to its bundle section.
func SectionFor(k Kind) (string, bool) {
	s, ok := sectionByKind[k]
	return s, ok
}

// QueryContext is the canonicalized request. DrugA and DrugB are canonical
// keys; the expanded lists hold the surface forms sent to sources.
type QueryContext struct {
	DrugA     string   `json:"drug_a"`
	DrugB     string   `json:"drug_b"`
	Mode      string   `json:"mode"`
	ExpandedA []string `json:"expanded_a"`
	ExpandedB []string `json:"expanded_b"`
}

type ScoredItem struct {
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}

// Summary is the PK/PD digest derived from overlap detection.
type Summary struct {
	PK              string   `json:"pk"`
	PD              string   `json:"pd"`
	PDScore         float64  `json:"pd_score"`
	Inhibition      []string `json:"inhibition"`
	Induction       []string `json:"induction"`
	SharedSubstrate []string `json:"shared_substrate"`
	CommonTargets   []string `json:"common_targets"`
	CommonPathways  []string `json:"common_pathways"`
}

type RetrievalTrace struct {
	Expanded      bool    `json:"expanded"`
	Multiplier    int     `json:"multiplier"`
	QualityBefore float64 `json:"quality_before"`
	QualityAfter  float64 `json:"quality_after"`
}

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeDisabled Outcome = "disabled"
)

// SourceStatus records how one source call ended.
type SourceStatus struct {
	Source   string  `json:"source"`
	Outcome  Outcome `json:"outcome"`
	Items    int     `json:"items"`
	Degraded bool    `json:"degraded,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Bundle is the ranked evidence handed to generation. Every section name is
// present, possibly with an empty list.
type Bundle struct {
	Query     QueryContext            `json:"query"`
	Sections  map[string][]ScoredItem `json:"sections"`
	Sources   []string                `json:"sources"`
	Caveats   []string                `json:"caveats"`
	Summary   Summary                 `json:"summary"`
	Retrieval RetrievalTrace          `json:"retrieval"`
	Statuses  []SourceStatus          `json:"statuses"`
	Partial   bool                    `json:"partial"`
}

// Empty reports whether no section holds any item.
func (b Bundle) Empty() bool {
	for _, items := range b.Sections {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// Keys lists the reliability keys of every item in the bundle, in section
// order.
func (b Bundle) Keys() []string {
	var keys []string
	seen := make(map[string]bool)
	for _, name := range Sections {
		for _, si := range b.Sections[name] {
			k := si.Item.Key()
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
