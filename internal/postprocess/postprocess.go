// Package postprocess repairs translated markdown after a batch run.
//
// Every transform is a pure function of its input and idempotent: running it
// twice gives the same text as running it once.
package postprocess

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/mdtran/internal/placeholder"
)

// ImageDir is where rewritten image references point.
const ImageDir = "./images/"

var reImage = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// RewriteImages turns markdown image links into scaled HTML img tags whose
// src is the file name under ImageDir.
func RewriteImages(text string) string {
	return reImage.ReplaceAllStringFunc(text, func(match string) string {
		sub := reImage.FindStringSubmatch(match)
		alt, src := sub[1], strings.TrimSpace(sub[2])
		// windows paths arrive with backslashes
		name := path.Base(strings.ReplaceAll(src, `\`, "/"))
		return fmt.Sprintf(`<img src="%s%s" alt="%s" style="zoom:50%%;" />`, ImageDir, name, alt)
	})
}

var reTable = regexp.MustCompile(`(?is)<table\b.*?</table>`)

// TablesToMarkdown converts HTML tables into pipe tables. The first row
// becomes the header. Tables that cannot be parsed are left untouched.
func TablesToMarkdown(text string) string {
	return reTable.ReplaceAllStringFunc(text, func(match string) string {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(match))
		if err != nil {
			return match
		}

		var rows [][]string
		width := 0
		doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				row = append(row, cellText(cell.Text()))
			})
			if len(row) > width {
				width = len(row)
			}
			rows = append(rows, row)
		})
		if len(rows) == 0 || width == 0 {
			return match
		}

		var b strings.Builder
		for i, row := range rows {
			writeRow(&b, row, width)
			if i == 0 {
				sep := make([]string, width)
				for j := range sep {
					sep[j] = "---"
				}
				writeRow(&b, sep, width)
			}
		}
		return strings.TrimSuffix(b.String(), "\n")
	})
}

func cellText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func writeRow(b *strings.Builder, row []string, width int) {
	b.WriteString("|")
	for i := 0; i < width; i++ {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(" " + cell + " |")
	}
	b.WriteString("\n")
}

// RepairFormulas fixes two artifacts of translated output. Outside formulas
// and code, a lone newline becomes a blank line so paragraphs survive
// rendering; newlines between table rows are kept. Inside formulas, \right,
// \rbrack and \nabla whose backslash escape was lost are restored.
func RepairFormulas(text string) string {
	p := placeholder.Protect(text, placeholder.FencedCode, placeholder.InlineCode, placeholder.Math)
	body := doubleNewlines(p.Text)
	return p.Restore(body, func(s placeholder.Segment) string {
		if s.Kind == placeholder.Math.Name {
			return repairEscapes(s.Text)
		}
		return s.Text
	})
}

func doubleNewlines(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\n' {
			b.WriteByte(c)
			continue
		}
		var prev, next byte
		if i > 0 {
			prev = text[i-1]
		}
		if i+1 < len(text) {
			next = text[i+1]
		}
		if prev == '\n' || next == '\n' || (prev == '|' && next == '|') {
			b.WriteByte(c)
			continue
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

var escapeRepairs = strings.NewReplacer(
	"\rbrack", `\rbrack`,
	"\right", `\right`,
	"\nabla", `\nabla`,
)

// repairEscapes restores commands whose leading \r or \n was read as a
// control character or dropped.
func repairEscapes(formula string) string {
	formula = escapeRepairs.Replace(formula)
	formula = restoreBare(formula, "ight", `\r`, false)
	formula = restoreBare(formula, "abla", `\n`, true)
	return formula
}

// restoreBare prefixes each occurrence of stem that does not follow a letter
// or backslash. With wordEnd set, stems followed by a letter are skipped.
func restoreBare(s, stem, prefix string, wordEnd bool) string {
	var b strings.Builder
	for {
		i := strings.Index(s, stem)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		bare := i == 0 || !(isLetter(s[i-1]) || s[i-1] == '\\')
		if wordEnd && i+len(stem) < len(s) && isLetter(s[i+len(stem)]) {
			bare = false
		}
		b.WriteString(s[:i])
		if bare {
			b.WriteString(prefix)
		}
		b.WriteString(stem)
		s = s[i+len(stem):]
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// DollarsBalanced reports whether text has an even number of $$ delimiters
// and an even number of remaining single $ signs.
func DollarsBalanced(text string) bool {
	double := strings.Count(text, "$$")
	single := strings.Count(text, "$") - 2*double
	return double%2 == 0 && single%2 == 0
}

// StripSentinel removes every occurrence of sentinel and trailing blank space.
func StripSentinel(text, sentinel string) string {
	if sentinel != "" {
		text = strings.ReplaceAll(text, sentinel, "")
	}
	text = strings.TrimRight(text, " \t\r\n")
	if text == "" {
		return ""
	}
	return text + "\n"
}
