// Package testsupport builds small, valid PDF documents for tests.
package testsupport

import (
	"bytes"
	"fmt"
	"strings"
)

// Line is one line of text drawn at an absolute position.
type Line struct {
	Text string
	Size float64
	X, Y float64
}

// PDF returns a single-font document with one page per entry in pages. Object offsets and the
// cross-reference table are computed exactly so strict readers accept the output.
func PDF(pages ...[]Line) []byte {
	if len(pages) == 0 {
		pages = [][]Line{{}}
	}
	// 1 catalog, 2 page tree, 3 font, then a (page, contents) pair per page.
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // filled once page object numbers are known
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	kids := make([]string, 0, len(pages))
	for _, lines := range pages {
		pageNum := len(objects) + 1
		contentNum := pageNum + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentNum),
			stream(contentStream(lines)),
		)
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func contentStream(lines []Line) string {
	var sb strings.Builder
	for _, ln := range lines {
		fmt.Fprintf(&sb, "BT /F1 %g Tf %g %g Td (%s) Tj ET\n", ln.Size, ln.X, ln.Y, escape(ln.Text))
	}
	return sb.String()
}

func stream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content)
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}
