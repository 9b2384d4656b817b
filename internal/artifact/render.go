package artifact

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brenner/internal/citation"
)

// RenderOptions controls markdown rendering
type RenderOptions struct {
	// AnchorBase is the transcript location anchors link into
	AnchorBase string
}

// RenderMarkdown returns the artifact as a markdown document, one heading per section.
func RenderMarkdown(a *Artifact, opts RenderOptions) string {
	if a == nil {
		return ""
	}
	base := opts.AnchorBase
	if base == "" {
		base = citation.DefaultBase
	}

	meta := a.Metadata
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Artifact: %s\n\n", meta.SessionID)
	fmt.Fprintf(&b, "- Version: %d\n", meta.Version)
	fmt.Fprintf(&b, "- Status: %s\n", meta.Status)
	fmt.Fprintf(&b, "- Updated: %s\n", meta.UpdatedAt.UTC().Format("2006-01-02 15:04:05Z"))
	if len(meta.Contributors) > 0 {
		fmt.Fprintf(&b, "- Contributors: %s\n", strings.Join(meta.Contributors, ", "))
	}

	s := a.Sections

	b.WriteString("\n## Research Thread\n\n")
	if rt := s.ResearchThread; rt != nil {
		b.WriteString(rt.Statement)
		b.WriteString("\n")
		if rt.Context != "" {
			fmt.Fprintf(&b, "\n**Context:** %s\n", rt.Context)
		}
		if rt.WhyItMatters != "" {
			fmt.Fprintf(&b, "\n**Why it matters:** %s\n", rt.WhyItMatters)
		}
		writeAnchors(&b, rt.Anchors, base)
	} else {
		b.WriteString("_Not set._\n")
	}

	b.WriteString("\n## Hypothesis Slate\n\n")
	if len(s.HypothesisSlate) == 0 {
		b.WriteString("_None._\n")
	}
	for _, h := range s.HypothesisSlate {
		label := h.Name
		if h.ThirdAlternative {
			label += " (third alternative)"
		}
		fmt.Fprintf(&b, "### %s: %s\n\n", h.ID, label)
		fmt.Fprintf(&b, "**Claim:** %s\n", h.Claim)
		if h.Mechanism != "" {
			fmt.Fprintf(&b, "\n**Mechanism:** %s\n", h.Mechanism)
		}
		writeAnchors(&b, h.Anchors, base)
		b.WriteString("\n")
	}

	b.WriteString("\n## Predictions Table\n\n")
	writePredictions(&b, s.PredictionsTable, s.HypothesisSlate)

	b.WriteString("\n## Discriminative Tests\n\n")
	if len(s.DiscriminativeTests) == 0 {
		b.WriteString("_None._\n")
	}
	for _, t := range s.DiscriminativeTests {
		fmt.Fprintf(&b, "### %s: %s\n\n", t.ID, t.Name)
		fmt.Fprintf(&b, "**Procedure:** %s\n", t.Procedure)
		if len(t.Discriminates) > 0 {
			fmt.Fprintf(&b, "\n**Discriminates:** %s\n", strings.Join(t.Discriminates, " vs "))
		}
		for _, key := range sortedKeys(t.ExpectedOutcomes) {
			fmt.Fprintf(&b, "- If %s: %s\n", key, t.ExpectedOutcomes[key])
		}
		if t.PotencyCheck != "" {
			fmt.Fprintf(&b, "\n**Potency check:** %s\n", t.PotencyCheck)
		}
		if t.Feasibility != "" {
			fmt.Fprintf(&b, "\n**Feasibility:** %s\n", t.Feasibility)
		}
		if t.Score != nil {
			fmt.Fprintf(&b, "\n**Score:** LR %.2g, cost %.2g, speed %.2g, ambiguity %.2g\n",
				t.Score.LikelihoodRatio, t.Score.Cost, t.Score.Speed, t.Score.Ambiguity)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Assumption Ledger\n\n")
	if len(s.AssumptionLedger) == 0 {
		b.WriteString("_None._\n")
	}
	for _, asm := range s.AssumptionLedger {
		name := asm.Name
		if asm.ScaleCheck {
			name += " (scale check)"
		}
		fmt.Fprintf(&b, "### %s: %s\n\n", asm.ID, name)
		fmt.Fprintf(&b, "%s\n", asm.Statement)
		writeField(&b, "Load", asm.Load)
		writeField(&b, "Test", asm.Test)
		writeField(&b, "Status", asm.Status)
		writeField(&b, "Calculation", asm.Calculation)
		b.WriteString("\n")
	}

	b.WriteString("\n## Anomaly Register\n\n")
	if len(s.AnomalyRegister) == 0 {
		b.WriteString("_None._\n")
	}
	for _, x := range s.AnomalyRegister {
		fmt.Fprintf(&b, "### %s: %s\n\n", x.ID, x.Name)
		fmt.Fprintf(&b, "**Observation:** %s\n", x.Observation)
		if len(x.ConflictsWith) > 0 {
			fmt.Fprintf(&b, "\n**Conflicts with:** %s\n", strings.Join(x.ConflictsWith, ", "))
		}
		writeField(&b, "Quarantine", x.QuarantineStatus)
		writeField(&b, "Resolution plan", x.ResolutionPlan)
		b.WriteString("\n")
	}

	b.WriteString("\n## Adversarial Critique\n\n")
	if len(s.AdversarialCritique) == 0 {
		b.WriteString("_None._\n")
	}
	for _, c := range s.AdversarialCritique {
		name := c.Name
		if c.RealThirdAlternative {
			name += " (real third alternative)"
		}
		fmt.Fprintf(&b, "### %s: %s\n\n", c.ID, name)
		fmt.Fprintf(&b, "**Attack:** %s\n", c.Attack)
		writeField(&b, "Evidence", c.Evidence)
		writeField(&b, "Current status", c.CurrentStatus)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String()) + "\n"
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "\n**%s:** %s\n", label, value)
}

func writeAnchors(b *strings.Builder, anchors []string, base string) {
	links := citation.BuildLinks(anchors, base)
	if len(links) == 0 {
		return
	}
	parts := make([]string, 0, len(links))
	for _, l := range links {
		parts = append(parts, fmt.Sprintf("[%s](%s)", l.Label, l.Target))
	}
	fmt.Fprintf(b, "\n**Anchors:** %s\n", strings.Join(parts, ", "))
}

// writePredictions renders predictions as a table with one column per hypothesis
func writePredictions(b *strings.Builder, rows []Prediction, hypotheses []Hypothesis) {
	if len(rows) == 0 {
		b.WriteString("_None._\n")
		return
	}

	var columns []string
	seen := map[string]bool{}
	for _, h := range hypotheses {
		columns = append(columns, h.ID)
		seen[h.ID] = true
	}
	var extra []string
	for _, row := range rows {
		for key := range row.Predictions {
			if !seen[key] {
				seen[key] = true
				extra = append(extra, key)
			}
		}
	}
	sort.Strings(extra)
	columns = append(columns, extra...)

	b.WriteString("| ID | Condition |")
	for _, col := range columns {
		fmt.Fprintf(b, " %s |", col)
	}
	b.WriteString("\n|---|---|")
	for range columns {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	for _, row := range rows {
		fmt.Fprintf(b, "| %s | %s |", row.ID, tableCell(row.Condition))
		for _, col := range columns {
			fmt.Fprintf(b, " %s |", tableCell(row.Predictions[col]))
		}
		b.WriteString("\n")
	}
}

func tableCell(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), "\n", " ")
	return strings.ReplaceAll(value, "|", `\|`)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToYAML exports the artifact with the same field names as its JSON shape
func ToYAML(a *Artifact) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out, nil
}
