package delta

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/jsonc"
)

// RepairStats tracks what had to be done to turn a block into valid JSON
type RepairStats struct {
	OriginalBytes    int      `json:"original_bytes"`
	RepairedBytes    int      `json:"repaired_bytes"`
	ErrorsFixed      int      `json:"errors_fixed"`
	RepairStrategies []string `json:"repair_strategies"`
	WasRepaired      bool     `json:"was_repaired"`
}

var unquotedKeyPattern = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)(\s*:)`)

// RepairJSON attempts to turn an agent-written payload into valid JSON using, in order:
// 1. jsonc normalization (comments, trailing commas)
// 2. completion of unclosed objects/arrays
// 3. quoting of bare object keys
// 4. the jsonrepair library as the last resort
func RepairJSON(raw string) (string, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}

	if json.Valid([]byte(raw)) {
		stats.RepairedBytes = len(raw)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	// Strategy 1: comments and trailing commas
	if normalized := string(jsonc.ToJSON([]byte(repaired))); normalized != repaired {
		repaired = normalized
		stats.RepairStrategies = append(stats.RepairStrategies, "jsonc")
		stats.ErrorsFixed++
		if json.Valid([]byte(repaired)) {
			stats.RepairedBytes = len(repaired)
			return repaired, stats, nil
		}
	}

	// Strategy 2: unclosed structures
	if needsCompletion(repaired) {
		original := repaired
		repaired = completeJSON(repaired)
		if repaired != original {
			stats.RepairStrategies = append(stats.RepairStrategies, "completion")
			stats.ErrorsFixed++
		}
	}

	// Strategy 3: bare keys
	if !json.Valid([]byte(repaired)) && unquotedKeyPattern.MatchString(repaired) {
		original := repaired
		repaired = unquotedKeyPattern.ReplaceAllString(repaired, `$1"$2"$3`)
		if repaired != original {
			stats.RepairStrategies = append(stats.RepairStrategies, "key_quotes")
			stats.ErrorsFixed++
		}
	}

	// Strategy 4: library fallback, starting from the original text so earlier
	// heuristics cannot compound a bad guess
	if !json.Valid([]byte(repaired)) {
		libraryRepaired, err := jsonrepair.JSONRepair(raw)
		if err == nil && json.Valid([]byte(libraryRepaired)) {
			repaired = libraryRepaired
			stats.RepairStrategies = append(stats.RepairStrategies, "jsonrepair_library")
			stats.ErrorsFixed++
		}
	}

	stats.RepairedBytes = len(repaired)
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.RepairStrategies))
	}
	return repaired, stats, nil
}

// needsCompletion checks for unmatched opening braces or brackets outside strings
func needsCompletion(s string) bool {
	return len(openStack(s)) > 0
}

// completeJSON appends the missing closers in LIFO order
func completeJSON(s string) string {
	stack := openStack(s)
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s))
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteRune(stack[i])
	}
	return b.String()
}

func openStack(s string) []rune {
	var stack []rune
	inString, escaped := false, false
	for _, char := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case char == '\\':
				escaped = true
			case char == '"':
				inString = false
			}
			continue
		}
		switch char {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == char {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack
}
