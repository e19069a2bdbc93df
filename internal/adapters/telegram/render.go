package telegram

import (
	"regexp"
	"strings"

	"tg-reply-bot/internal/domain"
)

var (
	zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\u2060", "", "\ufeff", "")

	asteriskRun   = regexp.MustCompile(`\*{3,}`)
	underscoreRun = regexp.MustCompile(`_{3,}`)
	tildeRun      = regexp.MustCompile(`~{3,}`)
	backtickRun   = regexp.MustCompile("`{4,}")

	spacedLink    = regexp.MustCompile(`\[([^\]\n]*)\][ \t]+\(([^)\s]*)\)`)
	paddedLink    = regexp.MustCompile(`\[([^\]\n]*)\]\([ \t]+([^)\s]*)[ \t]*\)`)
	emptyTextLink = regexp.MustCompile(`\[[ \t]*\]\(([^)\s]+)\)`)
	emptyURLLink  = regexp.MustCompile(`\[([^\]\n]+)\]\([ \t]*\)`)
	link          = regexp.MustCompile(`\[([^\]\n]*)\]\(([^)\s]*)\)`)

	fenceLang = regexp.MustCompile(`^[A-Za-z0-9_+\-#.]*[ \t]*\n`)
	bullet    = regexp.MustCompile(`(?m)^([ \t]*)[*\-+][ \t]+`)
	residual  = regexp.MustCompile("[*`]+|~~+|__+")
)

// strictReserved перечисляет символы, которые MarkdownV2 требует экранировать.
const strictReserved = "_*[]()~`>#+-=|{}.!\\"

// Render готовит кусок к отправке в заданном режиме.
func Render(chunk string, mode domain.RenderMode) string {
	switch mode {
	case domain.RenderSanitized:
		return Sanitize(chunk)
	case domain.RenderStrictEscaped:
		return EscapeStrict(StripMarkup(chunk))
	case domain.RenderPlain:
		return StripPlain(chunk)
	default:
		return chunk
	}
}

// Sanitize выполняет строгую чистку разметки: убирает символы нулевой ширины, сжимает
// длинные последовательности маркеров, чинит ссылки и экранирует последний непарный
// '*' или '_'. Результат проходит Repair.
func Sanitize(text string) string {
	text = zeroWidth.Replace(text)
	text = asteriskRun.ReplaceAllString(text, "**")
	text = underscoreRun.ReplaceAllString(text, "__")
	text = tildeRun.ReplaceAllString(text, "~~")
	text = backtickRun.ReplaceAllString(text, codeFence)

	text = spacedLink.ReplaceAllString(text, "[$1]($2)")
	text = paddedLink.ReplaceAllString(text, "[$1]($2)")
	text = emptyTextLink.ReplaceAllString(text, "$1")
	text = emptyURLLink.ReplaceAllString(text, "$1")

	res := scan(text)
	if res.count(ClassItalic)%2 != 0 {
		tok, _ := res.last(ClassItalic)
		text = text[:tok.Pos] + `\` + text[tok.Pos:]
		res = scan(text)
	}
	if n := len(res.underscores); n%2 != 0 {
		pos := res.underscores[n-1]
		text = text[:pos] + `\` + text[pos:]
	}
	return Repair(text)
}

// StripMarkup превращает разметку в обычный текст: маркеры убираются,
// ссылки становятся «текст (url)».
func StripMarkup(text string) string {
	text = link.ReplaceAllStringFunc(text, func(m string) string {
		parts := link.FindStringSubmatch(m)
		label, url := strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		switch {
		case label == "":
			return url
		case url == "" || url == label:
			return label
		default:
			return label + " (" + url + ")"
		}
	})
	return stripTokens(text)
}

// StripPlain убирает разметку полностью: от ссылок остаётся только текст,
// маркеры списков заменяются на «•», остаточные символы разметки удаляются.
func StripPlain(text string) string {
	text = zeroWidth.Replace(text)
	text = link.ReplaceAllStringFunc(text, func(m string) string {
		parts := link.FindStringSubmatch(m)
		if label := strings.TrimSpace(parts[1]); label != "" {
			return label
		}
		return parts[2]
	})
	text = bullet.ReplaceAllString(text, "$1• ")
	text = stripTokens(text)
	return residual.ReplaceAllString(text, "")
}

// EscapeStrict экранирует все зарезервированные символы MarkdownV2.
func EscapeStrict(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, r := range text {
		if r < 0x80 && strings.IndexByte(strictReserved, byte(r)) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stripTokens удаляет найденные маркеры вместе с языком у открывающего блока кода
// и снимает экранирование вне кода.
func stripTokens(text string) string {
	res := scan(text)
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	inCode := false
	fences := 0
	for _, tok := range res.tokens {
		writeSegment(&b, text[pos:tok.Pos], inCode)
		pos = tok.End()
		switch tok.Class {
		case ClassFence:
			if fences%2 == 0 {
				pos += len(fenceLang.FindString(text[pos:]))
			}
			fences++
			inCode = !inCode
		case ClassCode:
			inCode = !inCode
		}
	}
	writeSegment(&b, text[pos:], inCode)
	return strings.TrimSpace(b.String())
}

func writeSegment(b *strings.Builder, seg string, code bool) {
	if code {
		b.WriteString(seg)
		return
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] == '\\' && i+1 < len(seg) && strings.IndexByte(strictReserved, seg[i+1]) >= 0 {
			i++
		}
		b.WriteByte(seg[i])
	}
}
