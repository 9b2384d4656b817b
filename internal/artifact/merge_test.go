package artifact

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brenner/internal/delta"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func add(section delta.Section, msgID int64, ts time.Time, author string, payload map[string]any) delta.DeltaOperation {
	return delta.DeltaOperation{
		Operation:       delta.OpAdd,
		Section:         section,
		Payload:         payload,
		Rationale:       "r",
		SourceMessageID: msgID,
		SourceTimestamp: ts,
		Author:          author,
	}
}

func update(section delta.Section, target string, msgID int64, ts time.Time, payload map[string]any) delta.DeltaOperation {
	return delta.DeltaOperation{
		Operation:       delta.OpUpdate,
		Section:         section,
		TargetID:        target,
		Payload:         payload,
		Rationale:       "r",
		SourceMessageID: msgID,
		SourceTimestamp: ts,
		Author:          "Opus",
	}
}

func del(section delta.Section, target string, msgID int64, ts time.Time) delta.DeltaOperation {
	return delta.DeltaOperation{
		Operation:       delta.OpDelete,
		Section:         section,
		TargetID:        target,
		Rationale:       "r",
		SourceMessageID: msgID,
		SourceTimestamp: ts,
		Author:          "Gemini",
	}
}

func sampleOps() []delta.DeltaOperation {
	return []delta.DeltaOperation{
		add(delta.SectionResearchThread, 1, at(1), "Operator", map[string]any{"statement": "How do cells know where they are?"}),
		add(delta.SectionHypothesisSlate, 2, at(2), "Codex", map[string]any{"name": "Gradient", "claim": "Morphogen gradient"}),
		add(delta.SectionHypothesisSlate, 3, at(3), "Codex", map[string]any{"name": "Clock", "claim": "Segmentation clock"}),
		update(delta.SectionHypothesisSlate, "H1", 4, at(4), map[string]any{"mechanism": "Diffusion with decay"}),
		add(delta.SectionAssumptionLedger, 5, at(5), "Opus", map[string]any{"name": "Scale", "statement": "Tissue under 1mm"}),
	}
}

func TestMergeAppliesOperationsInOrder(t *testing.T) {
	start := New("S1", base)
	res := Merge(start, sampleOps())

	require.Empty(t, res.Rejected)
	require.True(t, res.Changed)
	art := res.Artifact

	assert.Equal(t, 1, art.Metadata.Version)
	assert.Equal(t, at(5), art.Metadata.UpdatedAt)
	assert.Equal(t, []string{"Operator", "Codex", "Opus"}, art.Metadata.Contributors)

	require.NotNil(t, art.Sections.ResearchThread)
	assert.Equal(t, ResearchThreadID, art.Sections.ResearchThread.ID)
	require.Len(t, art.Sections.HypothesisSlate, 2)
	assert.Equal(t, "H1", art.Sections.HypothesisSlate[0].ID)
	assert.Equal(t, "Diffusion with decay", art.Sections.HypothesisSlate[0].Mechanism)
	assert.Equal(t, "Morphogen gradient", art.Sections.HypothesisSlate[0].Claim, "update is a shallow merge")
	assert.Equal(t, "H2", art.Sections.HypothesisSlate[1].ID)
	assert.Equal(t, []string{"A1"}, art.RecordIDs(delta.SectionAssumptionLedger))

	assert.Equal(t, 0, start.Metadata.Version, "input artifact is not mutated")
	assert.Empty(t, start.Sections.HypothesisSlate)
}

func TestMergeEmptyOperationsIsIdempotent(t *testing.T) {
	first := Merge(New("S1", base), sampleOps()).Artifact
	again := Merge(first, nil)

	assert.Same(t, first, again.Artifact)
	assert.False(t, again.Changed)
	assert.Equal(t, first.Metadata.Version, again.Artifact.Metadata.Version)
	assert.Equal(t, first.Metadata.UpdatedAt, again.Artifact.Metadata.UpdatedAt)
}

func TestMergeIsIndependentOfInputOrder(t *testing.T) {
	ops := sampleOps()
	reversed := make([]delta.DeltaOperation, len(ops))
	for i, op := range ops {
		reversed[len(ops)-1-i] = op
	}
	shuffled := []delta.DeltaOperation{ops[3], ops[0], ops[4], ops[2], ops[1]}

	want := Merge(New("S1", base), ops).Artifact
	for _, variant := range [][]delta.DeltaOperation{reversed, shuffled} {
		got := Merge(New("S1", base), variant).Artifact
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("artifact depends on input order (-want +got):\n%s", diff)
		}
	}
}

func TestMergeOrdersBlocksWithinOneMessage(t *testing.T) {
	block := func(i int, name string) delta.DeltaOperation {
		op := add(delta.SectionHypothesisSlate, 7, at(3), "Codex", map[string]any{"name": name})
		op.BlockIndex = i
		return op
	}
	ops := []delta.DeltaOperation{block(0, "Gradient"), block(1, "Clock"), block(2, "Relay")}

	want := Merge(New("S1", base), ops).Artifact
	for _, variant := range [][]delta.DeltaOperation{
		{ops[1], ops[0], ops[2]},
		{ops[2], ops[1], ops[0]},
	} {
		got := Merge(New("S1", base), variant).Artifact
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("blocks of one message fold in input order (-want +got):\n%s", diff)
		}
	}
	require.Len(t, want.Sections.HypothesisSlate, 3)
	assert.Equal(t, "H1", want.Sections.HypothesisSlate[0].ID)
	assert.Equal(t, "Gradient", want.Sections.HypothesisSlate[0].Name)
	assert.Equal(t, "Relay", want.Sections.HypothesisSlate[2].Name)
}

func TestMergeTieBreaksOnMessageID(t *testing.T) {
	ops := []delta.DeltaOperation{
		add(delta.SectionHypothesisSlate, 9, at(1), "Codex", map[string]any{"name": "second"}),
		add(delta.SectionHypothesisSlate, 8, at(1), "Codex", map[string]any{"name": "first"}),
	}
	art := Merge(New("S1", base), ops).Artifact
	require.Len(t, art.Sections.HypothesisSlate, 2)
	assert.Equal(t, "first", art.Sections.HypothesisSlate[0].Name)
	assert.Equal(t, "H1", art.Sections.HypothesisSlate[0].ID)
}

func TestMergeRejectsMissingTargets(t *testing.T) {
	start := Merge(New("S1", base), sampleOps()).Artifact
	res := Merge(start, []delta.DeltaOperation{
		update(delta.SectionHypothesisSlate, "H9", 10, at(10), map[string]any{"claim": "x"}),
		del(delta.SectionPredictionsTable, "P1", 11, at(11)),
		update(delta.SectionResearchThread, "RT2", 12, at(12), map[string]any{"statement": "x"}),
	})

	require.Len(t, res.Rejected, 3)
	for _, rej := range res.Rejected {
		assert.Equal(t, ReasonTargetNotFound, rej.Reason)
	}
	assert.False(t, res.Changed)
	assert.Same(t, start, res.Artifact)
	assert.Equal(t, 1, res.Artifact.Metadata.Version)
}

func TestMergeContinuesPastRejections(t *testing.T) {
	start := New("S1", base)
	res := Merge(start, []delta.DeltaOperation{
		del(delta.SectionHypothesisSlate, "H1", 1, at(1)),
		add(delta.SectionHypothesisSlate, 2, at(2), "Codex", map[string]any{"name": "n", "claim": "c"}),
	})
	require.Len(t, res.Rejected, 1)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "H1", res.Applied[0].RecordID)
	assert.Equal(t, 1, res.Artifact.Metadata.Version)
	assert.Equal(t, at(2), res.Artifact.Metadata.UpdatedAt, "rejected operations do not move updated_at")
}

func TestMergeCallerSuppliedIDs(t *testing.T) {
	res := Merge(New("S1", base), []delta.DeltaOperation{
		add(delta.SectionHypothesisSlate, 1, at(1), "Codex", map[string]any{"id": "H7", "name": "seven"}),
		add(delta.SectionHypothesisSlate, 2, at(2), "Codex", map[string]any{"id": "H7", "name": "dup"}),
		add(delta.SectionHypothesisSlate, 3, at(3), "Codex", map[string]any{"name": "next"}),
		add(delta.SectionHypothesisSlate, 4, at(4), "Codex", map[string]any{"id": 42, "name": "bad"}),
	})

	require.Len(t, res.Rejected, 2)
	assert.Equal(t, ReasonDuplicateID, res.Rejected[0].Reason)
	assert.Equal(t, ReasonInvalidPayload, res.Rejected[1].Reason)
	assert.Equal(t, []string{"H7", "H8"}, res.Artifact.RecordIDs(delta.SectionHypothesisSlate))
}

func TestMergeResearchThreadIsSingleton(t *testing.T) {
	res := Merge(New("S1", base), []delta.DeltaOperation{
		add(delta.SectionResearchThread, 1, at(1), "Operator", map[string]any{"statement": "one"}),
		add(delta.SectionResearchThread, 2, at(2), "Operator", map[string]any{"statement": "two"}),
	})
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonDuplicateID, res.Rejected[0].Reason)
	assert.Equal(t, "one", res.Artifact.Sections.ResearchThread.Statement)
}

func TestMergeNeverReusesDeletedIDs(t *testing.T) {
	first := Merge(New("S1", base), []delta.DeltaOperation{
		add(delta.SectionPredictionsTable, 1, at(1), "Opus", map[string]any{"condition": "a"}),
		add(delta.SectionPredictionsTable, 2, at(2), "Opus", map[string]any{"condition": "b"}),
	}).Artifact
	second := Merge(first, []delta.DeltaOperation{del(delta.SectionPredictionsTable, "P2", 3, at(3))}).Artifact
	third := Merge(second, []delta.DeltaOperation{
		add(delta.SectionPredictionsTable, 4, at(4), "Opus", map[string]any{"condition": "c"}),
	}).Artifact

	assert.Equal(t, []string{"P1", "P3"}, third.RecordIDs(delta.SectionPredictionsTable))
	assert.Equal(t, 3, third.Metadata.Version)
}

func TestMergeNoOpUpdateKeepsVersion(t *testing.T) {
	start := Merge(New("S1", base), sampleOps()).Artifact
	res := Merge(start, []delta.DeltaOperation{
		update(delta.SectionHypothesisSlate, "H2", 20, at(20), map[string]any{"claim": "Segmentation clock"}),
	})
	require.Empty(t, res.Rejected)
	require.Len(t, res.Applied, 1)
	assert.False(t, res.Applied[0].Changed)
	assert.False(t, res.Changed)
	assert.Equal(t, start.Metadata.Version, res.Artifact.Metadata.Version)
	assert.Equal(t, start.Metadata.UpdatedAt, res.Artifact.Metadata.UpdatedAt)
}

func TestMergeUpdatePreservesIDAndPosition(t *testing.T) {
	start := Merge(New("S1", base), sampleOps()).Artifact
	res := Merge(start, []delta.DeltaOperation{
		update(delta.SectionHypothesisSlate, "H1", 30, at(30), map[string]any{"id": "H99", "name": "Renamed"}),
	})
	require.Empty(t, res.Rejected)
	slate := res.Artifact.Sections.HypothesisSlate
	assert.Equal(t, "H1", slate[0].ID)
	assert.Equal(t, "Renamed", slate[0].Name)
	assert.Equal(t, "H2", slate[1].ID)
}

func TestMergeRejectsPayloadOfWrongShape(t *testing.T) {
	res := Merge(New("S1", base), []delta.DeltaOperation{
		add(delta.SectionHypothesisSlate, 1, at(1), "Codex", map[string]any{"name": []any{"not", "a", "string"}}),
	})
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonInvalidPayload, res.Rejected[0].Reason)
	assert.Empty(t, res.Artifact.Metadata.NextIDs)
}

func TestMergeRejectsUnknownPayloadKeys(t *testing.T) {
	start := Merge(New("S1", base), sampleOps()).Artifact
	res := Merge(start, []delta.DeltaOperation{
		update(delta.SectionHypothesisSlate, "H1", 10, at(10), map[string]any{"mechansim": "typo"}),
		add(delta.SectionAssumptionLedger, 11, at(11), "Opus", map[string]any{"name": "n", "statment": "typo"}),
	})
	require.Len(t, res.Rejected, 2)
	for _, rej := range res.Rejected {
		assert.Equal(t, ReasonInvalidPayload, rej.Reason)
	}
	assert.Contains(t, res.Rejected[0].Detail, "mechansim")
	assert.Contains(t, res.Rejected[1].Detail, "statment")
	assert.False(t, res.Changed)
	assert.Same(t, start, res.Artifact)
}

func TestMergeWarnsOnDanglingConflicts(t *testing.T) {
	start := Merge(New("S1", base), append(sampleOps(),
		add(delta.SectionAnomalyRegister, 6, at(6), "Gemini", map[string]any{
			"name":           "Flip",
			"observation":    "Left-right inversion",
			"conflicts_with": []any{"H1", "A1"},
		}),
	)).Artifact

	res := Merge(start, []delta.DeltaOperation{del(delta.SectionHypothesisSlate, "H1", 7, at(7))})
	require.Empty(t, res.Rejected)
	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, WarningDanglingConflict, w.Code)
	assert.Equal(t, "H1", w.RecordID)
	assert.Equal(t, []string{"X1"}, w.ReferencedBy)

	register := res.Artifact.Sections.AnomalyRegister
	require.Len(t, register, 1)
	assert.Equal(t, []string{"H1", "A1"}, register[0].ConflictsWith, "references are not cascaded")
}

func TestMergeUpdatedAtNeverBeforeCreatedAt(t *testing.T) {
	res := Merge(New("S1", at(60)), []delta.DeltaOperation{
		add(delta.SectionAdversarialCritique, 1, at(1), "Gemini", map[string]any{"name": "n", "attack": "a"}),
	})
	assert.Equal(t, at(60), res.Artifact.Metadata.UpdatedAt)
}

func TestMergeUpdatedAtNeverMovesBackwards(t *testing.T) {
	start := Merge(New("S1", base), []delta.DeltaOperation{
		add(delta.SectionHypothesisSlate, 2, at(10), "Codex", map[string]any{"name": "late"}),
	}).Artifact
	require.Equal(t, at(10), start.Metadata.UpdatedAt)

	res := Merge(start, []delta.DeltaOperation{
		add(delta.SectionHypothesisSlate, 3, at(4), "Opus", map[string]any{"name": "stamped early"}),
	})
	require.True(t, res.Changed)
	assert.Equal(t, 2, res.Artifact.Metadata.Version)
	assert.Equal(t, at(10), res.Artifact.Metadata.UpdatedAt)
}

func TestRenderMarkdown(t *testing.T) {
	art := Merge(New("S1", base), append(sampleOps(),
		add(delta.SectionPredictionsTable, 7, at(7), "Opus", map[string]any{
			"condition":   "Bead implant",
			"predictions": map[string]any{"H1": "shift", "H2": "no change"},
		}),
		update(delta.SectionHypothesisSlate, "H2", 8, at(8), map[string]any{"anchors": []any{"§12-14"}}),
	)).Artifact

	md := RenderMarkdown(art, RenderOptions{AnchorBase: "/t"})
	assert.True(t, strings.HasPrefix(md, "# Research Artifact: S1\n"))
	assert.Contains(t, md, "### H1: Gradient")
	assert.Contains(t, md, "**Mechanism:** Diffusion with decay")
	assert.Contains(t, md, "| P1 | Bead implant | shift | no change |")
	assert.Contains(t, md, "[§12-14](/t#section-12)")
	assert.Contains(t, md, "## Adversarial Critique\n\n_None._")
}

func TestToYAMLUsesJSONFieldNames(t *testing.T) {
	art := Merge(New("S1", base), sampleOps()).Artifact
	out, err := ToYAML(art)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "session_id: S1")
	assert.Contains(t, text, "hypothesis_slate:")
	assert.Contains(t, text, "claim: Morphogen gradient")
}
