package models

import (
	"sort"
	"time"
)

// Importance levels used by the messaging collaborator
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
	ImportanceUrgent Importance = "urgent"
)

// Message is one immutable entry of a thread log
type Message struct {
	ID          int64      `json:"id"`
	From        string     `json:"from"`
	To          []string   `json:"to"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_ts"`
	Importance  Importance `json:"importance,omitempty"`
	AckRequired bool       `json:"ack_required"`
}

// Thread is the ordered message log of one collaborative session
type Thread struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
}

// SortedByID returns a copy of the messages ordered by id ascending
func (t Thread) SortedByID() []Message {
	out := make([]Message, len(t.Messages))
	copy(out, t.Messages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxID returns the highest message id in the thread, or 0 for an empty thread
func (t Thread) MaxID() int64 {
	var max int64
	for _, m := range t.Messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}
