// Package citation extracts and normalizes transcript section anchors (§n)
// from message text and delta payloads.
package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxRangeSpan bounds how many anchors a single range may expand to. Wider
// ranges are treated as malformed and ignored.
const MaxRangeSpan = 1000

// DefaultBase is the link target used when BuildLinks gets no base location
const DefaultBase = "/transcript"

var (
	// §127, §127-129, §127-§129, §127 – 129 (hyphen, en dash, em dash)
	anchorPattern = regexp.MustCompile(`§\s*(\d+)(?:\s*[-\x{2013}\x{2014}]\s*§?\s*(\d+))?`)
	// bare entries in structured citation lists: "127", "127-129"
	bareEntryPattern = regexp.MustCompile(`^\s*(\d+)(?:\s*[-\x{2013}\x{2014}]\s*(\d+))?\s*$`)
)

// Link is a resolvable descriptor for one anchor reference
type Link struct {
	Label   string `json:"label"`
	Target  string `json:"target"`
	Section int    `json:"section"`
}

// Extract returns the sorted, de-duplicated anchor numbers referenced in free text.
// Only §-prefixed references are recognized here; bare numbers in prose are ignored.
func Extract(text string) []int {
	set := map[int]struct{}{}
	collect(text, set)
	return sortedKeys(set)
}

// ParseAnchors resolves a structured citation list. Entries may be §-prefixed
// references, bare integers, or ranges in either order.
func ParseAnchors(entries []string) []int {
	set := map[int]struct{}{}
	for _, entry := range entries {
		if strings.Contains(entry, "§") {
			collect(entry, set)
			continue
		}
		m := bareEntryPattern.FindStringSubmatch(entry)
		if m == nil {
			continue
		}
		addRange(set, m[1], m[2])
	}
	return sortedKeys(set)
}

// Format renders anchors compactly, collapsing consecutive runs: §12, §14-16
func Format(anchors []int) string {
	if len(anchors) == 0 {
		return ""
	}
	nums := append([]int(nil), anchors...)
	sort.Ints(nums)

	var parts []string
	start, prev := nums[0], nums[0]
	flush := func() {
		if start == prev {
			parts = append(parts, fmt.Sprintf("§%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("§%d-%d", start, prev))
		}
	}
	for _, n := range nums[1:] {
		if n == prev {
			continue
		}
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()
	return strings.Join(parts, ", ")
}

// BuildLinks turns anchor strings into link descriptors pointing at base#section-N.
// Ranges link to their lowest section. Malformed entries are skipped.
func BuildLinks(anchors []string, base string) []Link {
	if base == "" {
		base = DefaultBase
	}
	base = strings.TrimRight(base, "#")

	links := make([]Link, 0, len(anchors))
	seen := map[string]bool{}
	for _, raw := range anchors {
		nums := ParseAnchors([]string{raw})
		if len(nums) == 0 {
			continue
		}
		label := normalizeLabel(nums)
		if seen[label] {
			continue
		}
		seen[label] = true
		links = append(links, Link{
			Label:   label,
			Target:  fmt.Sprintf("%s#section-%d", base, nums[0]),
			Section: nums[0],
		})
	}
	return links
}

func normalizeLabel(nums []int) string {
	if len(nums) == 1 {
		return fmt.Sprintf("§%d", nums[0])
	}
	return fmt.Sprintf("§%d-%d", nums[0], nums[len(nums)-1])
}

func collect(text string, set map[int]struct{}) {
	for _, m := range anchorPattern.FindAllStringSubmatch(text, -1) {
		addRange(set, m[1], m[2])
	}
}

func addRange(set map[int]struct{}, from, to string) {
	start, err := strconv.Atoi(from)
	if err != nil {
		return
	}
	if to == "" {
		set[start] = struct{}{}
		return
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return
	}
	if end < start {
		start, end = end, start
	}
	if end-start >= MaxRangeSpan {
		return
	}
	for n := start; n <= end; n++ {
		set[n] = struct{}{}
	}
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
