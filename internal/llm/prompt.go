package llm

import (
	"fmt"
	"strings"

	"github.com/infermed/backend/internal/evidence"
)

const (
	ModePatient = "patient"
	ModeDoctor  = "doctor"
	ModePharma  = "pharma"
)

const noFAERS = "No evidence from FAERS."

// NormalizeMode maps aliases onto the three audiences. Unknown modes get the
// patient tone.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "doc", "doctor", "physician", "clinician":
		return ModeDoctor
	case "pharma", "pv", "safety":
		return ModePharma
	default:
		return ModePatient
	}
}

// KnownMode reports whether mode is empty or a recognized audience alias.
func KnownMode(mode string) bool {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch m {
	case "", "patient", "pt":
		return true
	}
	return NormalizeMode(m) != ModePatient
}

var systemPrompts = map[string]string{
	ModePatient: `You explain drug interactions to patients in plain language.
Keep sentences short, avoid jargon, and say clearly when something should be discussed with a doctor or pharmacist.`,
	ModeDoctor: `You are a clinical pharmacology assistant writing for physicians.
Lead with the mechanism (PK then PD), then the clinical consequence, then monitoring points supported by the evidence.`,
	ModePharma: `You write pharmacovigilance summaries for drug safety teams.
Report signal strength, data sources and gaps in a neutral, non-regulatory tone.`,
}

var disclaimers = map[string]string{
	ModePatient: "Note: This is informational and not medical advice. Always consult your doctor or pharmacist.",
	ModeDoctor:  "Disclaimer: Research prototype. Use alongside clinical judgment and approved labeling.",
	ModePharma:  "Disclaimer: Informational, non-regulatory summary; defer to internal PV/labeling.",
}

const policy = `[POLICY]
- Use ONLY the evidence listed under CONTEXT and Sources.
- If FAERS has no items, write exactly: 'No evidence from FAERS.'
- Do NOT mention external databases/guidelines unless present in Sources.
- Do NOT invent mechanisms, doses, or monitoring steps not supported by CONTEXT.`

// Disclaimer returns the closing line for a mode.
func Disclaimer(mode string) string {
	return disclaimers[NormalizeMode(mode)]
}

// AppendDisclaimer adds the mode disclaimer after text.
func AppendDisclaimer(text, mode string) string {
	return strings.TrimRight(text, "\n ") + "\n\n" + Disclaimer(mode)
}

// BuildPrompt renders a bundle into system and user messages.
func BuildPrompt(b evidence.Bundle, question string) (system, user string) {
	mode := NormalizeMode(b.Query.Mode)

	var sb strings.Builder
	if q := strings.TrimSpace(question); q != "" {
		fmt.Fprintf(&sb, "QUESTION: %s\n\n", q)
	} else {
		fmt.Fprintf(&sb, "QUESTION: How do %s and %s interact?\n\n", b.Query.DrugA, b.Query.DrugB)
	}

	sb.WriteString("CONTEXT\n")
	fmt.Fprintf(&sb, "Drug A: %s | Drug B: %s\n", b.Query.DrugA, b.Query.DrugB)
	fmt.Fprintf(&sb, "PK: %s\n", orNone(b.Summary.PK))
	fmt.Fprintf(&sb, "PD: %s (overlap score %.3f)\n", orNone(b.Summary.PD), b.Summary.PDScore)

	sb.WriteString("Curated interactions: ")
	sb.WriteString(joinOr(itemLines(b.Sections[evidence.SectionCanonical], canonicalLine), "(none)"))
	sb.WriteString("\n")

	sb.WriteString("Risk flags: ")
	sb.WriteString(joinOr(itemLines(b.Sections[evidence.SectionRisk], riskLine), "(none)"))
	sb.WriteString("\n")

	sb.WriteString("FAERS: ")
	sb.WriteString(faersLine(b.Sections[evidence.SectionFAERS]))
	sb.WriteString("\n")

	limit := 5
	if mode != ModePatient {
		limit = 10
	}
	sb.WriteString("Side effects: ")
	sb.WriteString(joinOr(head(itemLines(b.Sections[evidence.SectionSideEffects], nameLine), limit), "(none)"))
	sb.WriteString("\n")

	if mode != ModePatient {
		sb.WriteString("Targets: ")
		sb.WriteString(joinOr(head(itemLines(b.Sections[evidence.SectionTargets], nameLine), 8), "(none)"))
		sb.WriteString("\n")
		sb.WriteString("Pathways: ")
		sb.WriteString(joinOr(head(itemLines(b.Sections[evidence.SectionPathways], nameLine), 6), "(none)"))
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Sources: %s\n", joinOr(b.Sources, "(none)"))
	fmt.Fprintf(&sb, "Caveats: %s\n\n", joinOr(b.Caveats, "(none)"))
	sb.WriteString(policy)

	return systemPrompts[mode], sb.String()
}

func itemLines(items []evidence.ScoredItem, format func(evidence.Item) string) []string {
	out := make([]string, 0, len(items))
	for _, si := range items {
		if line := format(si.Item); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func canonicalLine(it evidence.Item) string {
	ci, ok := it.Payload.(evidence.CanonicalInteraction)
	if !ok {
		return ""
	}
	return fmt.Sprintf("[%s] %s", ci.Severity, ci.Description)
}

func riskLine(it evidence.Item) string {
	rf, ok := it.Payload.(evidence.RiskFlag)
	if !ok {
		return ""
	}
	label := fmt.Sprintf("%s(%s)", strings.ToUpper(rf.Flag), sideLabel(it.Side))
	if rf.Level != "" {
		return label + "=" + rf.Level
	}
	return fmt.Sprintf("%s=%.2f", label, rf.Value)
}

func nameLine(it evidence.Item) string {
	switch p := it.Payload.(type) {
	case evidence.Target:
		if p.Label != "" && p.Label != p.ID {
			return fmt.Sprintf("%s (%s, %s)", p.Label, p.ID, sideLabel(it.Side))
		}
	case evidence.Pathway:
		if p.Label != "" && p.Label != p.ID {
			return fmt.Sprintf("%s (%s, %s)", p.Label, p.ID, sideLabel(it.Side))
		}
	}
	return fmt.Sprintf("%s (%s)", it.Name, sideLabel(it.Side))
}

func faersLine(items []evidence.ScoredItem) string {
	parts := make([]string, 0, 3)
	for _, side := range []evidence.Side{evidence.SideA, evidence.SideB, evidence.SidePair} {
		var terms []string
		for _, si := range items {
			r, ok := si.Item.Payload.(evidence.FAERSReport)
			if !ok || si.Item.Side != side {
				continue
			}
			terms = append(terms, fmt.Sprintf("%s (n=%d)", r.Term, r.Count))
		}
		parts = append(parts, sideLabel(side)+": "+joinOr(head(terms, 5), noFAERS))
	}
	return strings.Join(parts, " | ")
}

func sideLabel(s evidence.Side) string {
	switch s {
	case evidence.SideA:
		return "A"
	case evidence.SideB:
		return "B"
	}
	return "A+B"
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func joinOr(s []string, empty string) string {
	if len(s) == 0 {
		return empty
	}
	return strings.Join(s, "; ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
