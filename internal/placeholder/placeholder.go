// Package placeholder shields structured spans (formulas, code, HTML tags)
// from text transforms by swapping them for numbered markers, then puts
// them back once the transform has run.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
)

// Pattern names a kind of span to protect.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

var (
	// fenced code blocks: ```...``` (non-greedy, may span lines)
	FencedCode = Pattern{Name: "fenced", re: regexp.MustCompile("(?s)```.*?```")}

	// inline code spans: `...`
	InlineCode = Pattern{Name: "code", re: regexp.MustCompile("`[^`]+`")}

	// display $$...$$ first, then inline $...$; both may span lines
	Math = Pattern{Name: "math", re: regexp.MustCompile(`\$\$[^$]+\$\$|\$[^$]+\$`)}

	// HTML/XML tags: opening, closing, and self-closing
	HTMLTag = Pattern{Name: "tag", re: regexp.MustCompile(`<[^>]+>`)}

	// markers use private-use runes so they never collide with document text
	reMarker = regexp.MustCompile(`\x{E000}(\d+)\x{E001}`)
)

// Segment is one protected span.
type Segment struct {
	Kind string
	Text string
}

// Protected is text with its protected spans swapped out.
type Protected struct {
	Text     string
	Segments []Segment
}

// Marker returns the marker that stands in for segment i.
func Marker(i int) string {
	return fmt.Sprintf("\uE000%d\uE001", i)
}

// Protect replaces every match of patterns, applied in the given order,
// with a numbered marker.
func Protect(text string, patterns ...Pattern) Protected {
	p := Protected{}
	for _, pat := range patterns {
		text = pat.re.ReplaceAllStringFunc(text, func(match string) string {
			p.Segments = append(p.Segments, Segment{Kind: pat.Name, Text: match})
			return Marker(len(p.Segments) - 1)
		})
	}
	p.Text = text
	return p
}

// Restore substitutes markers in text back with their segments. When fn is
// non-nil each segment passes through it first. Unknown markers are left
// as-is.
func (p Protected) Restore(text string, fn func(Segment) string) string {
	return reMarker.ReplaceAllStringFunc(text, func(match string) string {
		sub := reMarker.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx < 0 || idx >= len(p.Segments) {
			return match
		}
		seg := p.Segments[idx]
		if fn != nil {
			return fn(seg)
		}
		return seg.Text
	})
}

// Missing returns the indices of segments whose markers are absent from text.
func (p Protected) Missing(text string) []int {
	seen := make(map[int]bool, len(p.Segments))
	for _, sub := range reMarker.FindAllStringSubmatch(text, -1) {
		if idx, err := strconv.Atoi(sub[1]); err == nil {
			seen[idx] = true
		}
	}
	var missing []int
	for i := range p.Segments {
		if !seen[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
