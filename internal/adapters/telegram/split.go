package telegram

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"

	"tg-reply-bot/internal/domain"
)

// DefaultMaxLength ограничивает длину куска с запасом до 4096 под маркеры продолжения и закрывающие токены.
const DefaultMaxLength = 4000

const (
	codeFence      = "```"
	forcedLookback = 100
)

// splitTier задаёт уровень структурной нарезки, от крупного к мелкому.
type splitTier int

const (
	tierParagraph splitTier = iota
	tierSentence
	tierLine
	tierForced
)

func (t splitTier) next() splitTier {
	if t >= tierForced {
		return tierForced
	}
	return t + 1
}

// span задаёт полуинтервал байтовых смещений в исходном тексте.
type span struct {
	start, end int
	// atomic отмечает блок кода, который нельзя резать.
	atomic bool
}

type splitter struct {
	text string
	max  int
}

// TextLength считает длину текста так же, как Bot API: в кодовых единицах UTF-16.
// Символы вне BMP, например эмодзи, занимают две единицы.
func TextLength(text string) int {
	n := 0
	for _, r := range text {
		n += runeWidth(r)
	}
	return n
}

func runeWidth(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}

// Split разбивает текст на куски не длиннее maxLength единиц UTF-16 (см. TextLength).
// Блоки кода не режутся: слишком длинный блок уходит отдельным куском сверх лимита.
// Куски являются подстроками исходного текста в исходном порядке, между ними остаются только пробельные символы.
// Резы проходят только по границам рун.
func Split(text string, maxLength int) ([]string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if TextLength(text) <= maxLength {
		return []string{text}, nil
	}
	s := splitter{text: text, max: maxLength}
	spans := s.pack(s.units())
	if err := s.verify(spans); err != nil {
		return nil, err
	}
	chunks := make([]string, 0, len(spans))
	for _, sp := range spans {
		chunks = append(chunks, s.text[sp.start:sp.end])
	}
	return chunks, nil
}

// units раскладывает текст на блоки кода и уже нарезанные куски обычного текста.
func (s splitter) units() []span {
	var units []span
	pos := 0
	for _, block := range s.codeBlocks() {
		units = append(units, s.plain(pos, block.start)...)
		units = append(units, block)
		pos = block.end
	}
	return append(units, s.plain(pos, len(s.text))...)
}

func (s splitter) codeBlocks() []span {
	var blocks []span
	pos := 0
	for {
		open := strings.Index(s.text[pos:], codeFence)
		if open < 0 {
			return blocks
		}
		open += pos
		closing := strings.Index(s.text[open+len(codeFence):], codeFence)
		if closing < 0 {
			return blocks
		}
		end := open + len(codeFence) + closing + len(codeFence)
		blocks = append(blocks, span{start: open, end: end, atomic: true})
		pos = end
	}
}

func (s splitter) plain(start, end int) []span {
	sp, ok := s.trim(span{start: start, end: end})
	if !ok {
		return nil
	}
	return s.decompose(sp, tierParagraph)
}

func (s splitter) decompose(sp span, tier splitTier) []span {
	if s.length(sp) <= s.max {
		return []span{sp}
	}
	if tier == tierForced {
		return s.forced(sp)
	}
	var parts []span
	switch tier {
	case tierParagraph:
		parts = s.paragraphs(sp)
	case tierSentence:
		parts = s.sentences(sp)
	case tierLine:
		parts = s.lines(sp)
	}
	if len(parts) <= 1 {
		return s.decompose(sp, tier.next())
	}
	out := make([]span, 0, len(parts))
	for _, part := range parts {
		out = append(out, s.decompose(part, tier.next())...)
	}
	return out
}

func (s splitter) paragraphs(sp span) []span {
	var parts []span
	start := sp.start
	lineStart := sp.start
	for lineStart <= sp.end {
		lineEnd := sp.end
		if nl := strings.IndexByte(s.text[lineStart:sp.end], '\n'); nl >= 0 {
			lineEnd = lineStart + nl
		}
		if strings.TrimSpace(s.text[lineStart:lineEnd]) == "" {
			parts = s.appendTrimmed(parts, start, lineStart)
			start = lineEnd
		}
		lineStart = lineEnd + 1
	}
	return s.appendTrimmed(parts, start, sp.end)
}

// sentences режет по '.', '!' и '?' перед пробелом или концом; знак остаётся в предложении.
func (s splitter) sentences(sp span) []span {
	var parts []span
	start := sp.start
	for i := sp.start; i < sp.end; i++ {
		switch s.text[i] {
		case '.', '!', '?':
			next := i + 1
			if next == sp.end || isSpaceByte(s.text[next]) {
				parts = s.appendTrimmed(parts, start, next)
				start = next
			}
		}
	}
	return s.appendTrimmed(parts, start, sp.end)
}

func (s splitter) lines(sp span) []span {
	var parts []span
	start := sp.start
	for i := sp.start; i < sp.end; i++ {
		if s.text[i] == '\n' {
			parts = s.appendTrimmed(parts, start, i)
			start = i + 1
		}
	}
	return s.appendTrimmed(parts, start, sp.end)
}

// forced режет строку по лимиту: ищет пробел или знак препинания в окне forcedLookback рун,
// иначе режет по последней руне, которая ещё влезает. Каждая итерация сдвигает начало вперёд.
func (s splitter) forced(sp span) []span {
	seg := s.text[sp.start:sp.end]
	runes := []rune(seg)
	offsets := make([]int, 0, len(runes)+1)
	for i := range seg {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(seg))
	// width[i] хранит длину runes[:i] в единицах UTF-16.
	width := make([]int, len(runes)+1)
	for i, r := range runes {
		width[i+1] = width[i] + runeWidth(r)
	}

	n := len(runes)
	var out []span
	for start := 0; start < n; {
		for start < n && unicode.IsSpace(runes[start]) {
			start++
		}
		if start == n {
			break
		}
		if width[n]-width[start] <= s.max {
			out = append(out, span{start: sp.start + offsets[start], end: sp.start + offsets[n]})
			break
		}
		limit := start + 1
		for limit < n && width[limit+1]-width[start] <= s.max {
			limit++
		}
		cut := limit
		for k := limit; k < n && k > start && k > limit-forcedLookback; k-- {
			if unicode.IsSpace(runes[k]) || isBreakPunct(runes[k-1]) {
				cut = k
				break
			}
		}
		end := cut
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		out = append(out, span{start: sp.start + offsets[start], end: sp.start + offsets[end]})
		start = cut
	}
	return out
}

// pack жадно склеивает соседние куски, пока результат влезает в лимит.
// Разделителем между кусками служит исходный текст между ними.
func (s splitter) pack(units []span) []span {
	var (
		chunks []span
		acc    span
		accLen int
		has    bool
	)
	for _, u := range units {
		unitLen := s.length(u)
		if !has {
			acc, accLen, has = u, unitLen, true
			continue
		}
		joined := accLen + TextLength(s.text[acc.end:u.start]) + unitLen
		if joined <= s.max {
			acc = span{start: acc.start, end: u.end}
			accLen = joined
			continue
		}
		chunks = append(chunks, acc)
		acc, accLen = u, unitLen
	}
	if has {
		chunks = append(chunks, acc)
	}
	return chunks
}

func (s splitter) verify(chunks []span) error {
	for i, c := range chunks {
		if n := s.length(c); n > s.max && !c.atomic {
			return fmt.Errorf("%w: chunk %d has %d UTF-16 units, limit %d", domain.ErrStructuralViolation, i, n, s.max)
		}
	}
	return nil
}

func (s splitter) appendTrimmed(parts []span, start, end int) []span {
	if sp, ok := s.trim(span{start: start, end: end}); ok {
		parts = append(parts, sp)
	}
	return parts
}

func (s splitter) trim(sp span) (span, bool) {
	seg := s.text[sp.start:sp.end]
	left := strings.TrimLeftFunc(seg, unicode.IsSpace)
	trimmed := strings.TrimRightFunc(left, unicode.IsSpace)
	if trimmed == "" {
		return sp, false
	}
	sp.start += len(seg) - len(left)
	sp.end = sp.start + len(trimmed)
	return sp, true
}

func (s splitter) length(sp span) int {
	return TextLength(s.text[sp.start:sp.end])
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// isBreakPunct отбирает знаки, после которых можно резать. Символы разметки и открывающие скобки не подходят.
func isBreakPunct(r rune) bool {
	return unicode.IsPunct(r) && !strings.ContainsRune("*_[(`~\\", r)
}
