package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAnchorsExpandsRanges(t *testing.T) {
	assert.Equal(t, []int{127, 128, 129}, ParseAnchors([]string{"§127-§129"}))
	assert.Equal(t, []int{127, 128, 129}, ParseAnchors([]string{"§129-127"}))
	assert.Equal(t, []int{40, 41, 42}, ParseAnchors([]string{"§40–42"}))
	assert.Equal(t, []int{7, 8}, ParseAnchors([]string{"8-7"}))
}

func TestParseAnchorsBareAndMixed(t *testing.T) {
	got := ParseAnchors([]string{"12", "§14", " 12 ", "§13—§14"})
	assert.Equal(t, []int{12, 13, 14}, got)
}

func TestParseAnchorsMalformedYieldsEmpty(t *testing.T) {
	assert.Empty(t, ParseAnchors(nil))
	assert.Empty(t, ParseAnchors([]string{"", "abc", "12-", "section twelve"}))
	assert.Empty(t, ParseAnchors([]string{"§1-§5000"}), "oversized ranges are ignored")
}

func TestExtractFromProse(t *testing.T) {
	text := "Brenner argues this in §58 and again at §60-61; see also 1998 and §58."
	assert.Equal(t, []int{58, 60, 61}, Extract(text))
	assert.Empty(t, Extract("no anchors in 2024"))
}

func TestFormatCollapsesRuns(t *testing.T) {
	assert.Equal(t, "§12, §14-16", Format([]int{16, 12, 14, 15, 15}))
	assert.Equal(t, "", Format(nil))
}

func TestBuildLinks(t *testing.T) {
	links := BuildLinks([]string{"§42", "§50-48", "bogus", "42"}, "/corpus/transcript")
	assert.Equal(t, []Link{
		{Label: "§42", Target: "/corpus/transcript#section-42", Section: 42},
		{Label: "§48-50", Target: "/corpus/transcript#section-48", Section: 48},
	}, links)

	defaults := BuildLinks([]string{"§3"}, "")
	assert.Equal(t, DefaultBase+"#section-3", defaults[0].Target)
}
