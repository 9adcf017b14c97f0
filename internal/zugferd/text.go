package zugferd

import (
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/shopspring/decimal"
)

// Core fonts used by the renderer
const (
	fontRegular = "Helvetica"
	fontBold    = "Helvetica-Bold"
)

func textWidth(s, fontName string, size int) float64 {
	return font.TextWidth(s, fontName, size)
}

// wrapText breaks s into lines no wider than width. Words that do not fit on a
// line of their own are split between characters.
func wrapText(s, fontName string, size int, width float64) []string {
	var lines []string
	for _, para := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		cur := ""
		for _, w := range words {
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if textWidth(candidate, fontName, size) <= width {
				cur = candidate
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
			}
			for textWidth(w, fontName, size) > width {
				head, tail := splitAtWidth(w, fontName, size, width)
				lines = append(lines, head)
				w = tail
			}
			cur = w
		}
		lines = append(lines, cur)
	}
	return lines
}

// splitAtWidth returns the longest prefix of w that fits width (at least one rune) and the rest
func splitAtWidth(w, fontName string, size int, width float64) (string, string) {
	runes := []rune(w)
	n := 1
	for n < len(runes) && textWidth(string(runes[:n+1]), fontName, size) <= width {
		n++
	}
	return string(runes[:n]), string(runes[n:])
}

// formatAmount renders 1234.5 as "1.234,50"
func formatAmount(d decimal.Decimal) string {
	return germanNumber(d.StringFixed(2))
}

// formatQuantity drops trailing zeros: 2 -> "2", 1.5 -> "1,5"
func formatQuantity(d decimal.Decimal) string {
	return germanNumber(d.String())
}

func formatRate(d decimal.Decimal) string {
	return germanNumber(d.String()) + " %"
}

func germanNumber(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02.01.2006")
}
