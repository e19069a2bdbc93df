package telegram

import (
	"strings"
	"unicode"
)

// Normalize приводит текст к каноническому виду: переводы строк \n, одиночные пробелы,
// не больше одной пустой строки между абзацами, обрезанные строки. Normalize идемпотентна.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// collapseSpaces сжимает пробельные последовательности строки и обрезает её края.
func collapseSpaces(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := false
	for _, r := range line {
		if isHorizontalSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func isHorizontalSpace(r rune) bool {
	return r != '\n' && unicode.IsSpace(r)
}
