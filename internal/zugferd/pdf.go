package zugferd

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DocInfo fills the PDF document information dictionary
type DocInfo struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Created  time.Time
}

// pdfWriter serialises a Layout into a PDF 1.7 byte stream using the
// Helvetica core fonts. Objects are numbered in write order.
type pdfWriter struct {
	buf     bytes.Buffer
	offsets []int
	winAnsi *encoding.Encoder
}

const (
	objCatalog = 1
	objPages   = 2
	objFont    = 3
	objFontB   = 4
	objXMP     = 5
	objInfo    = 6
	objFirst   = 7 // first page object; each page uses two objects
)

// renderPDF fails when page text contains characters outside WinAnsi; the
// core fonts cannot show them.
func renderPDF(l *Layout, info DocInfo, xmp []byte) ([]byte, error) {
	w := &pdfWriter{winAnsi: charmap.Windows1252.NewEncoder()}

	w.buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	var kids []string
	for i := range l.Pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", objFirst+2*i))
	}

	w.object(objCatalog, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R /Metadata %d 0 R /Lang (de-DE) >>", objPages, objXMP))
	w.object(objPages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(l.Pages)))
	w.object(objFont, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	w.object(objFontB, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica-Bold /Encoding /WinAnsiEncoding >>")
	w.stream(objXMP, "/Type /Metadata /Subtype /XML", xmp)
	w.object(objInfo, w.infoDict(info))

	for i, p := range l.Pages {
		pageObj := objFirst + 2*i
		contentObj := pageObj + 1
		w.object(pageObj, fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %.2f %.2f] /Resources << /Font << /F1 %d 0 R /F2 %d 0 R >> >> /Contents %d 0 R >>",
			objPages, PageWidth, PageHeight, objFont, objFontB, contentObj))
		content, err := w.content(p)
		if err != nil {
			return nil, err
		}
		w.stream(contentObj, "", content)
	}

	w.trailer(objFirst+2*len(l.Pages), info)
	return w.buf.Bytes(), nil
}

func (w *pdfWriter) begin(num int) {
	for len(w.offsets) < num {
		w.offsets = append(w.offsets, 0)
	}
	w.offsets[num-1] = w.buf.Len()
	fmt.Fprintf(&w.buf, "%d 0 obj\n", num)
}

func (w *pdfWriter) object(num int, body string) {
	w.begin(num)
	w.buf.WriteString(body)
	w.buf.WriteString("\nendobj\n")
}

func (w *pdfWriter) stream(num int, dict string, data []byte) {
	w.begin(num)
	if dict != "" {
		dict += " "
	}
	fmt.Fprintf(&w.buf, "<< %s/Length %d >>\nstream\n", dict, len(data))
	w.buf.Write(data)
	w.buf.WriteString("\nendstream\nendobj\n")
}

func (w *pdfWriter) content(p *Page) ([]byte, error) {
	var c bytes.Buffer
	for _, ln := range p.Lines {
		fmt.Fprintf(&c, "%.2f w %.2f %.2f m %.2f %.2f l S\n", ln.Width, ln.X1, ln.Y1, ln.X2, ln.Y2)
	}
	for _, t := range p.Texts {
		res := "F1"
		if t.Font == fontBold {
			res = "F2"
		}
		lit, err := w.literal(t.Text)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&c, "BT /%s %d Tf %.2f %.2f Td %s Tj ET\n", res, t.Size, t.X, t.Y, lit)
	}
	return c.Bytes(), nil
}

// literal encodes s as a WinAnsi PDF string literal
func (w *pdfWriter) literal(s string) (string, error) {
	enc, err := w.winAnsi.String(s)
	if err != nil {
		return "", fmt.Errorf("text %q is not representable in WinAnsi: %w", s, err)
	}
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < len(enc); i++ {
		c := enc[i]
		switch {
		case c == '(' || c == ')' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.String(), nil
}

// textString encodes info dictionary values: ASCII as literal, anything else as UTF-16BE with BOM
func textString(s string) string {
	ascii := true
	for _, r := range s {
		if r >= 0x80 || r < 0x20 {
			ascii = false
			break
		}
	}
	if ascii {
		r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
		return "(" + r.Replace(s) + ")"
	}
	var b strings.Builder
	b.WriteString("<FEFF")
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, "%04X", u)
	}
	b.WriteString(">")
	return b.String()
}

func pdfDate(t time.Time) string {
	return "D:" + t.UTC().Format("20060102150405") + "Z"
}

func (w *pdfWriter) infoDict(info DocInfo) string {
	var b strings.Builder
	b.WriteString("<<")
	entries := [][2]string{
		{"Title", info.Title},
		{"Author", info.Author},
		{"Subject", info.Subject},
		{"Keywords", info.Keywords},
		{"Creator", info.Creator},
	}
	for _, e := range entries {
		if e[1] != "" {
			fmt.Fprintf(&b, " /%s %s", e[0], textString(e[1]))
		}
	}
	if !info.Created.IsZero() {
		fmt.Fprintf(&b, " /CreationDate (%s)", pdfDate(info.Created))
	}
	b.WriteString(" >>")
	return b.String()
}

func (w *pdfWriter) trailer(size int, info DocInfo) {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n", size)
	w.buf.WriteString("0000000000 65535 f \n")
	for _, off := range w.offsets {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}

	id := documentID(info)
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R /ID [<%s> <%s>] >>\n", size, objCatalog, objInfo, id, id)
	fmt.Fprintf(&w.buf, "startxref\n%d\n%%%%EOF\n", xref)
}

// documentID derives a stable file identifier from the document data
func documentID(info DocInfo) string {
	sum := md5.Sum([]byte(info.Title + "|" + info.Author + "|" + pdfDate(info.Created)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
