// Package threadstatus derives the live status of a research session from its
// message log. Every query is a pure fold over the messages.
package threadstatus

import (
	"regexp"
	"strings"
)

// Kind is the class of a message, decided by its subject line
type Kind string

const (
	KindKickoff  Kind = "kickoff"
	KindDelta    Kind = "delta"
	KindArtifact Kind = "artifact"
	KindAck      Kind = "ack"
	KindOther    Kind = "other"
)

var (
	kickoffSubject  = regexp.MustCompile(`(?i)^\s*\[?\s*kick-?off\b`)
	deltaSubject    = regexp.MustCompile(`(?i)^\s*(?:re:\s*)*\[?\s*delta\b`)
	artifactSubject = regexp.MustCompile(`(?i)^\s*(?:re:\s*)*\[?\s*(?:compiled|artifact)\b`)
	ackSubject      = regexp.MustCompile(`(?i)^\s*(?:re:\s*)*\[?\s*(?:ack|acknowledged?)\b`)
)

// Classify maps a subject line to its message kind
func Classify(subject string) Kind {
	switch {
	case kickoffSubject.MatchString(subject):
		return KindKickoff
	case artifactSubject.MatchString(subject):
		return KindArtifact
	case deltaSubject.MatchString(subject):
		return KindDelta
	case ackSubject.MatchString(subject):
		return KindAck
	}
	return KindOther
}

// IsResponse reports whether a message of this kind counts as a participant response
func (k Kind) IsResponse() bool {
	return k == KindDelta || k == KindArtifact || k == KindOther
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
