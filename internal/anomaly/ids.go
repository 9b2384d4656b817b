package anomaly

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const idPrefix = "X-"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidSessionID reports whether id is usable as a session id and file name
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && !strings.Contains(id, "..")
}

// FormatID builds the anomaly id X-<session>-<seq>
func FormatID(sessionID string, seq int) string {
	return fmt.Sprintf("%s%s-%d", idPrefix, sessionID, seq)
}

// ParseID splits an anomaly id into its session and sequence number
func ParseID(id string) (sessionID string, seq int, ok bool) {
	if !strings.HasPrefix(id, idPrefix) {
		return "", 0, false
	}
	rest := id[len(idPrefix):]
	cut := strings.LastIndex(rest, "-")
	if cut <= 0 || cut == len(rest)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[cut+1:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	sessionID = rest[:cut]
	if !ValidSessionID(sessionID) {
		return "", 0, false
	}
	return sessionID, n, true
}

// NextSeq returns one past the highest sequence among records
func NextSeq(records []*Anomaly) int {
	max := 0
	for _, r := range records {
		if _, n, ok := ParseID(r.ID); ok && n > max {
			max = n
		}
	}
	return max + 1
}

// CheckRecord verifies a record's id is well formed and matches its session
func CheckRecord(a *Anomaly) error {
	if a == nil {
		return ErrInvalidID
	}
	if !ValidSessionID(a.SessionID) {
		return ErrInvalidSession
	}
	sessionID, _, ok := ParseID(a.ID)
	if !ok || sessionID != a.SessionID {
		return fmt.Errorf("%w: %q does not belong to session %q", ErrInvalidID, a.ID, a.SessionID)
	}
	return nil
}
