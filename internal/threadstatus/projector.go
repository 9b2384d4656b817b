package threadstatus

import (
	"sort"
	"time"

	"github.com/brenner/pkg/models"
)

// Phase is the derived lifecycle stage of a session. A thread stays in
// PhaseKickoff until someone other than the kickoff's sender responds after it.
type Phase string

const (
	PhaseKickoff   Phase = "kickoff"
	PhaseGathering Phase = "gathering"
	PhaseCompiling Phase = "compiling"
	PhaseComplete  Phase = "complete"
)

// ParticipantStatus is the per-sender view of a thread
type ParticipantStatus struct {
	Name                string     `json:"name"`
	Role                string     `json:"role,omitempty"`
	Responded           bool       `json:"responded"`
	MessageCount        int        `json:"message_count"`
	PendingAcks         int        `json:"pending_acks"`
	OwedAcks            int        `json:"owed_acks"`
	LastResponseAt      *time.Time `json:"last_response_at,omitempty"`
	KickoffAddressed    bool       `json:"kickoff_addressed"`
	KickoffAcknowledged bool       `json:"kickoff_acknowledged"`
}

// RoleStatus aggregates the participants assigned to one role
type RoleStatus struct {
	Role            string     `json:"role"`
	DisplayName     string     `json:"display_name"`
	Agents          []string   `json:"agents"`
	Responded       bool       `json:"responded"`
	AllAcknowledged bool       `json:"all_acknowledged"`
	MessageCount    int        `json:"message_count"`
	PendingAcks     int        `json:"pending_acks"`
	LastResponseAt  *time.Time `json:"last_response_at,omitempty"`
}

// ArtifactRef points at the most recent artifact-classified message
type ArtifactRef struct {
	MessageID int64     `json:"message_id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingAck is an ack-required message still missing replies
type PendingAck struct {
	MessageID int64     `json:"message_id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
	Waiting   []string  `json:"waiting_on"`
}

// ThreadStatus is the full projection of one thread
type ThreadStatus struct {
	ThreadID         string              `json:"thread_id"`
	Phase            Phase               `json:"phase"`
	MessageCount     int                 `json:"message_count"`
	DeltaCount       int                 `json:"delta_count"`
	KickoffMessageID int64               `json:"kickoff_message_id,omitempty"`
	Participants     []ParticipantStatus `json:"participants"`
	Roles            []RoleStatus        `json:"roles"`
	LatestArtifact   *ArtifactRef        `json:"latest_artifact,omitempty"`
	PendingAcks      []PendingAck        `json:"pending_acks"`
	IsComplete       bool                `json:"is_complete"`
}

// Projector computes thread status against a role registry
type Projector struct {
	registry *Registry
}

// NewProjector returns a projector for reg; a nil registry means DefaultRegistry
func NewProjector(reg *Registry) *Projector {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Projector{registry: reg}
}

// Registry returns the projector's role registry
func (p *Projector) Registry() *Registry {
	return p.registry
}

type classified struct {
	msg  models.Message
	kind Kind
}

// Compute folds the thread into its status. Messages are ordered by
// (created_ts, id) first so the result does not depend on slice order.
func (p *Projector) Compute(thread models.Thread) ThreadStatus {
	msgs := make([]classified, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		msgs = append(msgs, classified{msg: m, kind: Classify(m.Subject)})
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i].msg, msgs[j].msg
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	status := ThreadStatus{
		ThreadID:     thread.ThreadID,
		MessageCount: len(msgs),
		Participants: []ParticipantStatus{},
		Roles:        []RoleStatus{},
		PendingAcks:  []PendingAck{},
	}

	people := newRoster(p.registry)
	var kickoff *models.Message
	kickoffPos := -1
	for i := range msgs {
		m, kind := msgs[i].msg, msgs[i].kind
		sender := people.get(m.From)
		sender.MessageCount++
		for _, to := range m.To {
			people.get(to)
		}

		switch kind {
		case KindKickoff:
			if kickoff == nil {
				kickoff = &msgs[i].msg
				kickoffPos = i
			}
		case KindDelta:
			status.DeltaCount++
		case KindArtifact:
			if status.LatestArtifact == nil || !m.CreatedAt.Before(status.LatestArtifact.CreatedAt) {
				status.LatestArtifact = &ArtifactRef{MessageID: m.ID, From: m.From, Subject: m.Subject, CreatedAt: m.CreatedAt}
			}
		}

		if kind.IsResponse() {
			sender.Responded = true
			ts := m.CreatedAt
			sender.LastResponseAt = &ts
		}
	}

	if kickoff != nil {
		status.KickoffMessageID = kickoff.ID
		for _, to := range kickoff.To {
			people.get(to).KickoffAddressed = true
		}
	}
	for _, ps := range people.byKey {
		ps.KickoffAcknowledged = ps.KickoffAddressed && ps.Responded
	}

	for _, pending := range pendingAcks(msgs) {
		status.PendingAcks = append(status.PendingAcks, pending)
		people.get(pending.From).PendingAcks++
		for _, name := range pending.Waiting {
			people.get(name).OwedAcks++
		}
	}

	for _, key := range people.order {
		status.Participants = append(status.Participants, *people.byKey[key])
	}
	sort.SliceStable(status.Participants, func(i, j int) bool {
		return nameKey(status.Participants[i].Name) < nameKey(status.Participants[j].Name)
	})

	allResponded := true
	for _, role := range p.registry.Roles() {
		rs := RoleStatus{Role: role.Name, DisplayName: role.DisplayName, Agents: role.Agents, AllAcknowledged: len(role.Agents) > 0}
		for _, agent := range role.Agents {
			ps := people.get(agent)
			rs.MessageCount += ps.MessageCount
			rs.PendingAcks += ps.PendingAcks
			if ps.Responded {
				rs.Responded = true
			}
			if !ps.KickoffAcknowledged {
				rs.AllAcknowledged = false
			}
			if ps.LastResponseAt != nil && (rs.LastResponseAt == nil || ps.LastResponseAt.After(*rs.LastResponseAt)) {
				ts := *ps.LastResponseAt
				rs.LastResponseAt = &ts
			}
		}
		if !rs.Responded {
			allResponded = false
		}
		status.Roles = append(status.Roles, rs)
	}

	switch {
	case kickoff == nil:
		status.Phase = PhaseKickoff
	case status.LatestArtifact != nil:
		status.Phase = PhaseComplete
	case !answeredKickoff(msgs[kickoffPos+1:], kickoff.From):
		status.Phase = PhaseKickoff
	case allResponded && status.DeltaCount > 0:
		status.Phase = PhaseCompiling
	default:
		status.Phase = PhaseGathering
	}
	status.IsComplete = status.Phase == PhaseComplete && len(status.PendingAcks) == 0
	return status
}

// answeredKickoff reports whether anyone but the kickoff's sender posted a
// response-class message after it
func answeredKickoff(later []classified, sender string) bool {
	for _, c := range later {
		if c.kind.IsResponse() && !sameName(c.msg.From, sender) {
			return true
		}
	}
	return false
}

// pendingAcks lists ack-required messages with at least one recipient that has
// not posted an ack or a response at or after the message
func pendingAcks(msgs []classified) []PendingAck {
	var out []PendingAck
	for i, c := range msgs {
		if !c.msg.AckRequired {
			continue
		}
		var waiting []string
		seen := map[string]bool{}
		for _, to := range c.msg.To {
			key := nameKey(to)
			if key == "" || seen[key] || sameName(to, c.msg.From) {
				continue
			}
			seen[key] = true
			if !answeredAfter(msgs[i+1:], to) {
				waiting = append(waiting, to)
			}
		}
		if len(waiting) == 0 {
			continue
		}
		out = append(out, PendingAck{
			MessageID: c.msg.ID,
			From:      c.msg.From,
			Subject:   c.msg.Subject,
			CreatedAt: c.msg.CreatedAt,
			Waiting:   waiting,
		})
	}
	return out
}

// answeredAfter reports whether name authored an ack or response among later messages
func answeredAfter(later []classified, name string) bool {
	for _, c := range later {
		if sameName(c.msg.From, name) && (c.kind == KindAck || c.kind.IsResponse()) {
			return true
		}
	}
	return false
}

// roster tracks participants keyed case-insensitively, preferring registry spellings
type roster struct {
	registry *Registry
	byKey    map[string]*ParticipantStatus
	order    []string
}

func newRoster(reg *Registry) *roster {
	r := &roster{registry: reg, byKey: map[string]*ParticipantStatus{}}
	for _, agent := range reg.Agents() {
		r.get(agent)
	}
	return r
}

func (r *roster) get(name string) *ParticipantStatus {
	key := nameKey(name)
	if ps, ok := r.byKey[key]; ok {
		return ps
	}
	ps := &ParticipantStatus{Name: name}
	if role, ok := r.registry.RoleOf(name); ok {
		ps.Role = role
	}
	r.byKey[key] = ps
	r.order = append(r.order, key)
	return ps
}

// IsWaitingForRole reports whether a registered role has yet to respond in an
// unfinished thread
func (p *Projector) IsWaitingForRole(thread models.Thread, role string) bool {
	status := p.Compute(thread)
	if status.Phase == PhaseComplete {
		return false
	}
	for _, rs := range status.Roles {
		if rs.Role == role {
			return !rs.Responded
		}
	}
	return false
}

// PendingAgents lists registered agents that have not responded, in role order.
// A complete thread has no pending agents.
func (p *Projector) PendingAgents(thread models.Thread) []string {
	status := p.Compute(thread)
	out := []string{}
	if status.Phase == PhaseComplete {
		return out
	}
	responded := map[string]bool{}
	for _, ps := range status.Participants {
		if ps.Responded {
			responded[nameKey(ps.Name)] = true
		}
	}
	for _, agent := range p.registry.Agents() {
		if !responded[nameKey(agent)] {
			out = append(out, agent)
		}
	}
	return out
}

// AgentsWithPendingAcks lists participants that still owe an acknowledgement, sorted by name
func (p *Projector) AgentsWithPendingAcks(thread models.Thread) []string {
	status := p.Compute(thread)
	out := []string{}
	for _, ps := range status.Participants {
		if ps.OwedAcks > 0 {
			out = append(out, ps.Name)
		}
	}
	return out
}

var defaultProjector = NewProjector(nil)

// Compute projects thread with the default role registry
func Compute(thread models.Thread) ThreadStatus { return defaultProjector.Compute(thread) }

// IsWaitingForRole uses the default role registry
func IsWaitingForRole(thread models.Thread, role string) bool {
	return defaultProjector.IsWaitingForRole(thread, role)
}

// PendingAgents uses the default role registry
func PendingAgents(thread models.Thread) []string { return defaultProjector.PendingAgents(thread) }

// AgentsWithPendingAcks uses the default role registry
func AgentsWithPendingAcks(thread models.Thread) []string {
	return defaultProjector.AgentsWithPendingAcks(thread)
}
