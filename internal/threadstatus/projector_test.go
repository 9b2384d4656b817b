package threadstatus

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brenner/pkg/models"
)

var t0 = time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

func msg(id int64, from, subject string, minutes int, to ...string) models.Message {
	return models.Message{
		ID:        id,
		From:      from,
		To:        to,
		Subject:   subject,
		CreatedAt: t0.Add(time.Duration(minutes) * time.Minute),
	}
}

func kickoffThread() models.Thread {
	k := msg(1, "Operator", "KICKOFF: Positional information", 0, "Codex", "Opus", "Gemini")
	k.AckRequired = true
	return models.Thread{ThreadID: "T-1", Messages: []models.Message{k}}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"KICKOFF: session":          KindKickoff,
		"[Kickoff] session":         KindKickoff,
		"DELTA: hypotheses":         KindDelta,
		"Re: delta update":          KindDelta,
		"COMPILED: S1 v3":           KindArtifact,
		"Artifact v2":               KindArtifact,
		"ACK":                       KindAck,
		"Re: Acknowledged kickoff":  KindAck,
		"Re: KICKOFF: session":      KindOther,
		"Question about assumption": KindOther,
		"":                          KindOther,
	}
	for subject, want := range cases {
		assert.Equal(t, want, Classify(subject), subject)
	}
}

func TestPhaseTransitions(t *testing.T) {
	thread := models.Thread{ThreadID: "T-1"}
	assert.Equal(t, PhaseKickoff, Compute(thread).Phase, "empty thread")

	thread = kickoffThread()
	status := Compute(thread)
	assert.Equal(t, PhaseKickoff, status.Phase, "kickoff alone")
	assert.Equal(t, int64(1), status.KickoffMessageID)

	thread.Messages = append(thread.Messages,
		msg(2, "Codex", "ACK", 1),
		msg(3, "Operator", "Reminder: read the transcript", 2),
	)
	assert.Equal(t, PhaseKickoff, Compute(thread).Phase, "acks and the kickoff sender's follow-ups are not responses to it")

	thread.Messages = append(thread.Messages, msg(4, "Codex", "DELTA: hypotheses", 5))
	assert.Equal(t, PhaseGathering, Compute(thread).Phase, "first response after the kickoff")

	thread.Messages = append(thread.Messages, msg(5, "Opus", "DELTA: tests", 6))
	assert.Equal(t, PhaseGathering, Compute(thread).Phase, "one role still silent")
	assert.True(t, IsWaitingForRole(thread, "adversarial_critic"))
	assert.False(t, IsWaitingForRole(thread, "test_designer"))
	assert.Equal(t, []string{"Gemini"}, PendingAgents(thread))

	thread.Messages = append(thread.Messages, msg(6, "Gemini", "DELTA: critique", 7))
	status = Compute(thread)
	assert.Equal(t, PhaseCompiling, status.Phase)
	assert.False(t, status.IsComplete)
	assert.Empty(t, PendingAgents(thread))

	thread.Messages = append(thread.Messages, msg(7, "Operator", "COMPILED: T-1 v1", 9))
	status = Compute(thread)
	assert.Equal(t, PhaseComplete, status.Phase)
	assert.True(t, status.IsComplete)
	assert.False(t, IsWaitingForRole(thread, "adversarial_critic"))
}

func TestWithoutKickoffPhaseIsKickoff(t *testing.T) {
	thread := models.Thread{Messages: []models.Message{
		msg(1, "Codex", "DELTA: early", 0),
		msg(2, "Operator", "COMPILED: v1", 1),
	}}
	assert.Equal(t, PhaseKickoff, Compute(thread).Phase)
}

func TestResponseBeforeKickoffDoesNotStartGathering(t *testing.T) {
	thread := kickoffThread()
	thread.Messages[0].CreatedAt = t0.Add(10 * time.Minute)
	thread.Messages = append(thread.Messages, msg(2, "Codex", "DELTA: early", 5))
	assert.Equal(t, PhaseKickoff, Compute(thread).Phase)
}

func TestCompilingRequiresADelta(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages,
		msg(2, "Codex", "Thoughts on framing", 1),
		msg(3, "Claude", "Question", 2),
		msg(4, "Gemini", "Objection", 3),
	)
	assert.Equal(t, PhaseGathering, Compute(thread).Phase)
}

func TestParticipantAccounting(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages,
		msg(2, "codex", "ACK", 1),
		msg(3, "Codex", "DELTA: hypotheses", 4),
		msg(4, "Opus", "ACK", 2),
	)
	status := Compute(thread)

	byName := map[string]ParticipantStatus{}
	for _, ps := range status.Participants {
		byName[ps.Name] = ps
	}

	codex := byName["Codex"]
	assert.Equal(t, "hypothesis_generator", codex.Role)
	assert.Equal(t, 2, codex.MessageCount, "names match case-insensitively")
	assert.True(t, codex.Responded)
	assert.True(t, codex.KickoffAcknowledged)
	require.NotNil(t, codex.LastResponseAt)
	assert.Equal(t, t0.Add(4*time.Minute), *codex.LastResponseAt)

	opus := byName["Opus"]
	assert.False(t, opus.Responded, "an ack is not a response")
	assert.True(t, opus.KickoffAddressed)
	assert.False(t, opus.KickoffAcknowledged)

	claude := byName["Claude"]
	assert.Equal(t, 0, claude.MessageCount)
	assert.False(t, claude.KickoffAddressed)

	var designer RoleStatus
	for _, rs := range status.Roles {
		if rs.Role == "test_designer" {
			designer = rs
		}
	}
	assert.False(t, designer.Responded)
	assert.False(t, designer.AllAcknowledged)
	assert.Equal(t, 1, designer.MessageCount)
}

func TestPendingAcknowledgements(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages,
		msg(2, "Codex", "ACK", 1),
		msg(3, "Opus", "DELTA: tests", 2),
	)
	status := Compute(thread)
	require.Len(t, status.PendingAcks, 1)
	assert.Equal(t, []string{"Gemini"}, status.PendingAcks[0].Waiting)
	assert.Equal(t, []string{"Gemini"}, AgentsWithPendingAcks(thread))

	var operator ParticipantStatus
	for _, ps := range status.Participants {
		if ps.Name == "Operator" {
			operator = ps
		}
	}
	assert.Equal(t, 1, operator.PendingAcks)

	thread.Messages = append(thread.Messages,
		msg(4, "Gemini", "DELTA: critique", 3),
		msg(5, "Operator", "COMPILED: v1", 4),
	)
	status = Compute(thread)
	assert.Empty(t, status.PendingAcks)
	assert.True(t, status.IsComplete)
}

func TestCompleteWithOutstandingAcksIsNotComplete(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages, msg(2, "Operator", "COMPILED: v1", 1))
	status := Compute(thread)
	assert.Equal(t, PhaseComplete, status.Phase)
	assert.False(t, status.IsComplete)
	assert.ElementsMatch(t, []string{"Codex", "Gemini", "Opus"}, AgentsWithPendingAcks(thread))
}

func TestAckBeforeMessageDoesNotCount(t *testing.T) {
	req := msg(2, "Operator", "Please review", 10, "Codex")
	req.AckRequired = true
	thread := models.Thread{Messages: []models.Message{
		msg(1, "Codex", "ACK", 5),
		req,
	}}
	assert.Equal(t, []string{"Codex"}, AgentsWithPendingAcks(thread))
}

func TestLatestArtifactUsesTimestamp(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages,
		msg(9, "Operator", "COMPILED: v1", 1),
		msg(5, "Operator", "COMPILED: v2", 30),
	)
	status := Compute(thread)
	require.NotNil(t, status.LatestArtifact)
	assert.Equal(t, int64(5), status.LatestArtifact.MessageID)
}

func TestComputeIsPure(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages,
		msg(3, "Opus", "DELTA: tests", 6),
		msg(2, "Codex", "DELTA: hypotheses", 5),
	)
	first := Compute(thread)
	second := Compute(thread)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated projection differs:\n%s", diff)
	}

	reordered := models.Thread{ThreadID: thread.ThreadID, Messages: []models.Message{
		thread.Messages[2], thread.Messages[0], thread.Messages[1],
	}}
	if diff := cmp.Diff(first, Compute(reordered)); diff != "" {
		t.Fatalf("projection depends on slice order:\n%s", diff)
	}
}

func TestCustomRegistry(t *testing.T) {
	p := NewProjector(NewRegistry([]Role{
		{Name: "solo", Agents: []string{"Ada", " "}},
		{Name: "", Agents: []string{"ignored"}},
	}))
	roles := p.Registry().Roles()
	require.Len(t, roles, 1)
	assert.Equal(t, "solo", roles[0].DisplayName)
	assert.Equal(t, []string{"Ada"}, roles[0].Agents)

	thread := models.Thread{Messages: []models.Message{
		msg(1, "Operator", "KICKOFF", 0, "Ada"),
		msg(2, "Ada", "DELTA: all of it", 1),
	}}
	assert.Equal(t, PhaseCompiling, p.Compute(thread).Phase)
	assert.Empty(t, p.PendingAgents(thread))
}

func TestSummary(t *testing.T) {
	thread := kickoffThread()
	thread.Messages = append(thread.Messages, msg(2, "Codex", "DELTA: hypotheses", 5))
	out := Summary(thread)
	assert.Contains(t, out, "Thread T-1: Gathering responses (gathering)")
	assert.Contains(t, out, "roles responded: 1/3")
	assert.Contains(t, out, "[x] Hypothesis Generator (Codex)")
	assert.Contains(t, out, "[ ] Adversarial Critic (Gemini)")
	assert.Contains(t, out, "waiting on Opus, Gemini")
}
