package placeholder_test

import (
	"strings"
	"testing"

	"github.com/valpere/mdtran/internal/placeholder"
)

func TestProtect_NoMarkup(t *testing.T) {
	text := "Hello, world!"
	p := placeholder.Protect(text, placeholder.FencedCode, placeholder.Math, placeholder.HTMLTag)
	if p.Text != text {
		t.Errorf("expected unchanged text, got %q", p.Text)
	}
	if len(p.Segments) != 0 {
		t.Errorf("expected 0 segments, got %d", len(p.Segments))
	}
}

func TestProtect_HTMLTags(t *testing.T) {
	p := placeholder.Protect("<p>Hello <b>world</b></p>", placeholder.HTMLTag)

	if len(p.Segments) != 4 {
		t.Fatalf("expected 4 segments (<p>, <b>, </b>, </p>), got %d: %v", len(p.Segments), p.Segments)
	}
	for _, tag := range []string{"<p>", "<b>", "</b>", "</p>"} {
		if strings.Contains(p.Text, tag) {
			t.Errorf("expected tag %q to be replaced, still present in %q", tag, p.Text)
		}
	}
}

func TestProtect_FencedCode(t *testing.T) {
	p := placeholder.Protect("Before\n```go\nfmt.Println(\"hi\")\n```\nAfter", placeholder.FencedCode, placeholder.InlineCode)

	if len(p.Segments) != 1 {
		t.Fatalf("expected 1 segment for fenced block, got %d", len(p.Segments))
	}
	if p.Segments[0].Kind != "fenced" {
		t.Errorf("expected fenced kind, got %q", p.Segments[0].Kind)
	}
	if p.Text != "Before\n"+placeholder.Marker(0)+"\nAfter" {
		t.Errorf("unexpected protected text %q", p.Text)
	}
}

func TestProtect_Math(t *testing.T) {
	p := placeholder.Protect("a $x^2$ and $$\n\\sum_i y_i\n$$ end", placeholder.Math)

	if len(p.Segments) != 2 {
		t.Fatalf("expected 2 math segments, got %d: %v", len(p.Segments), p.Segments)
	}
	if p.Segments[0].Text != "$x^2$" {
		t.Errorf("expected inline formula first, got %q", p.Segments[0].Text)
	}
	if p.Segments[1].Text != "$$\n\\sum_i y_i\n$$" {
		t.Errorf("expected display formula second, got %q", p.Segments[1].Text)
	}
	if strings.Contains(p.Text, "\n") {
		t.Errorf("display formula newlines leaked into %q", p.Text)
	}
}

func TestProtect_PatternOrder(t *testing.T) {
	// code protected first hides its dollar signs from the math pattern
	p := placeholder.Protect("`echo $HOME` costs $5", placeholder.InlineCode, placeholder.Math)
	if len(p.Segments) != 1 || p.Segments[0].Kind != "code" {
		t.Errorf("expected only the code span, got %v", p.Segments)
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	for _, original := range []string{
		"<p>Hello <b>world</b></p>",
		"Before\n```go\nfmt.Println(\"hi\")\n```\nAfter",
		"energy $E=mc^2$ and `code` <br/>",
	} {
		p := placeholder.Protect(original, placeholder.FencedCode, placeholder.InlineCode, placeholder.Math, placeholder.HTMLTag)
		if restored := p.Restore(p.Text, nil); restored != original {
			t.Errorf("round-trip failed:\n  original: %q\n  restored: %q", original, restored)
		}
	}
}

func TestRestore_WithTransform(t *testing.T) {
	p := placeholder.Protect("see $a$ and <i>b</i>", placeholder.Math, placeholder.HTMLTag)
	got := p.Restore(p.Text, func(s placeholder.Segment) string {
		if s.Kind == "math" {
			return strings.ToUpper(s.Text)
		}
		return s.Text
	})
	if got != "see $A$ and <i>b</i>" {
		t.Errorf("unexpected restore %q", got)
	}
}

func TestRestore_OutOfRangeIndexIgnored(t *testing.T) {
	p := placeholder.Protect("<p>", placeholder.HTMLTag)
	text := placeholder.Marker(99) + " some text"
	if restored := p.Restore(text, nil); restored != text {
		t.Errorf("expected unknown marker to remain, got %q", restored)
	}
}

func TestMissing(t *testing.T) {
	p := placeholder.Protect("<p>Hello</p> <b>world</b>", placeholder.HTMLTag)

	if missing := p.Missing(p.Text); len(missing) != 0 {
		t.Errorf("expected no missing, got %v", missing)
	}

	dropped := strings.Replace(p.Text, placeholder.Marker(1), "", 1)
	dropped = strings.Replace(dropped, placeholder.Marker(3), "", 1)
	missing := p.Missing(dropped)
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 3 {
		t.Errorf("expected missing [1 3], got %v", missing)
	}
}
