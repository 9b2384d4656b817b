package threadstatus

import (
	"fmt"
	"strings"

	"github.com/brenner/pkg/models"
)

var phaseLabels = map[Phase]string{
	PhaseKickoff:   "Waiting for kickoff or first response",
	PhaseGathering: "Gathering responses",
	PhaseCompiling: "Ready to compile",
	PhaseComplete:  "Complete",
}

// Summary returns a human-readable status block for thread
func (p *Projector) Summary(thread models.Thread) string {
	return Summarize(p.Compute(thread))
}

// Summary uses the default role registry
func Summary(thread models.Thread) string { return defaultProjector.Summary(thread) }

// Summarize renders an already computed status
func Summarize(status ThreadStatus) string {
	var b strings.Builder

	responded := 0
	for _, rs := range status.Roles {
		if rs.Responded {
			responded++
		}
	}

	fmt.Fprintf(&b, "Thread %s: %s (%s)\n", status.ThreadID, phaseLabels[status.Phase], status.Phase)
	fmt.Fprintf(&b, "Messages: %d, deltas: %d, roles responded: %d/%d\n",
		status.MessageCount, status.DeltaCount, responded, len(status.Roles))

	for _, rs := range status.Roles {
		mark := "[ ]"
		if rs.Responded {
			mark = "[x]"
		}
		line := fmt.Sprintf("%s %s (%s)", mark, rs.DisplayName, strings.Join(rs.Agents, ", "))
		if rs.LastResponseAt != nil {
			line += fmt.Sprintf(" last response %s", rs.LastResponseAt.UTC().Format("2006-01-02 15:04Z"))
		}
		if status.KickoffMessageID != 0 && !rs.AllAcknowledged {
			line += ", kickoff not acknowledged by all"
		}
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if a := status.LatestArtifact; a != nil {
		fmt.Fprintf(&b, "Latest artifact: #%d from %s (%s)\n", a.MessageID, a.From, a.Subject)
	}

	if len(status.PendingAcks) == 0 {
		b.WriteString("Pending acknowledgements: none\n")
	} else {
		fmt.Fprintf(&b, "Pending acknowledgements: %d\n", len(status.PendingAcks))
		for _, pa := range status.PendingAcks {
			fmt.Fprintf(&b, "  #%d %q from %s, waiting on %s\n", pa.MessageID, pa.Subject, pa.From, strings.Join(pa.Waiting, ", "))
		}
	}

	return strings.TrimSpace(b.String())
}
