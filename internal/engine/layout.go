package engine

import (
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// textRun is one positioned piece of text from a page content stream.
type textRun struct {
	X, Y, W float64
	Size    float64
	S       string
}

type textLine struct {
	y    float64
	size float64
	text string
}

const (
	headingOneRatio = 1.6
	headingTwoRatio = 1.25
	paragraphGap    = 1.8
)

func runsFromContent(texts []pdf.Text) []textRun {
	runs := make([]textRun, 0, len(texts))
	for _, t := range texts {
		runs = append(runs, textRun{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return runs
}

// layoutPage turns positioned runs into Markdown blocks: headings by relative font size, and
// paragraphs split on vertical gaps.
func layoutPage(runs []textRun) []string {
	lines := groupLines(runs)
	if len(lines) == 0 {
		return nil
	}
	body := bodySize(lines)

	var blocks []string
	var para []string
	flush := func() {
		if len(para) > 0 {
			blocks = append(blocks, strings.Join(para, "\n"))
			para = nil
		}
	}
	for i, ln := range lines {
		if prefix := headingPrefix(ln.size, body); prefix != "" {
			flush()
			blocks = append(blocks, prefix+ln.text)
			continue
		}
		if i > 0 && lines[i-1].y-ln.y > paragraphGap*math.Max(lines[i-1].size, 1) {
			flush()
		}
		para = append(para, escapeBlockStart(ln.text))
	}
	flush()
	return blocks
}

// groupLines clusters runs into baseline buckets. Runs are ordered top to bottom by exact position,
// and each bucket is anchored at its first run, so bucketing does not depend on input order.
func groupLines(runs []textRun) []textLine {
	sorted := make([]textRun, 0, len(runs))
	for _, r := range runs {
		if r.S != "" {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var lines []textLine
	var bucket []textRun
	emit := func() {
		if len(bucket) == 0 {
			return
		}
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].X < bucket[j].X })
		if ln, ok := buildLine(bucket); ok {
			lines = append(lines, ln)
		}
		bucket = nil
	}
	for _, r := range sorted {
		if len(bucket) > 0 && !sameBaseline(bucket[0], r) {
			emit()
		}
		bucket = append(bucket, r)
	}
	emit()
	return lines
}

func sameBaseline(anchor, r textRun) bool {
	tol := 0.5 * math.Max(math.Max(anchor.Size, r.Size), 1)
	return anchor.Y-r.Y <= tol
}

func buildLine(runs []textRun) (textLine, bool) {
	var sb strings.Builder
	size := 0.0
	for i, r := range runs {
		if i > 0 {
			prev := runs[i-1]
			gap := r.X - (prev.X + prev.W)
			if gap > 0.25*math.Max(r.Size, 1) && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(r.S, " ") {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(r.S)
		size = math.Max(size, r.Size)
	}
	text := strings.Join(strings.Fields(sb.String()), " ")
	if text == "" {
		return textLine{}, false
	}
	y := runs[0].Y
	for _, r := range runs[1:] {
		y = math.Max(y, r.Y)
	}
	return textLine{y: y, size: size, text: text}, true
}

// bodySize is the font size carrying the most characters on the page.
func bodySize(lines []textLine) float64 {
	weights := make(map[float64]int)
	for _, ln := range lines {
		weights[math.Round(ln.size*2)/2] += len(ln.text)
	}
	best, bestWeight := 0.0, -1
	for size, w := range weights {
		if w > bestWeight || (w == bestWeight && size < best) {
			best, bestWeight = size, w
		}
	}
	return best
}

func headingPrefix(size, body float64) string {
	if body <= 0 {
		return ""
	}
	switch ratio := size / body; {
	case ratio >= headingOneRatio:
		return "# "
	case ratio >= headingTwoRatio:
		return "## "
	default:
		return ""
	}
}

// escapeBlockStart backslash-escapes a leading character that Markdown would read as block syntax
// (heading, quote, list item, thematic break, setext underline, or code fence).
func escapeBlockStart(text string) string {
	if text == "" {
		return text
	}
	switch c := text[0]; c {
	case '#', '>', '`', '~', '=':
		return `\` + text
	case '-', '+', '*', '_':
		if len(text) == 1 || text[1] == ' ' || strings.Trim(text, string(c)+" ") == "" {
			return `\` + text
		}
	}
	digits := 0
	for digits < len(text) && digits < 9 && text[digits] >= '0' && text[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(text) && (text[digits] == '.' || text[digits] == ')') &&
		(digits+1 == len(text) || text[digits+1] == ' ') {
		return text[:digits] + `\` + text[digits:]
	}
	return text
}
