package telegram

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenClass задаёт класс парного маркера разметки.
type TokenClass int

const (
	ClassFence TokenClass = iota
	ClassBold
	ClassUnderline
	ClassStrike
	ClassCode
	ClassItalic
)

var tokenSymbols = [...]string{
	ClassFence:     "```",
	ClassBold:      "**",
	ClassUnderline: "__",
	ClassStrike:    "~~",
	ClassCode:      "`",
	ClassItalic:    "*",
}

// matchOrder: длинные символы сопоставляются раньше своих префиксов.
var matchOrder = []TokenClass{ClassFence, ClassBold, ClassUnderline, ClassStrike, ClassCode, ClassItalic}

// Symbol возвращает текст маркера.
func (c TokenClass) Symbol() string {
	return tokenSymbols[c]
}

func (c TokenClass) String() string {
	switch c {
	case ClassFence:
		return "code_block"
	case ClassBold:
		return "bold"
	case ClassUnderline:
		return "underline"
	case ClassStrike:
		return "strikethrough"
	case ClassCode:
		return "inline_code"
	case ClassItalic:
		return "italic"
	default:
		return "unknown"
	}
}

// Token описывает вхождение маркера в тексте.
type Token struct {
	Class TokenClass
	Pos   int
}

// End возвращает смещение сразу за маркером.
func (t Token) End() int {
	return t.Pos + len(t.Class.Symbol())
}

type bracketMark struct {
	pos int
	ch  byte
}

// scanResult хранит результат одного прохода по тексту.
type scanResult struct {
	tokens      []Token
	brackets    []bracketMark
	underscores []int
}

type scanState int

const (
	stateText scanState = iota
	stateCode
	stateFence
)

// scan проходит текст слева направо и классифицирует каждую позицию.
// Внутри блоков и фрагментов кода учитываются только их закрывающие маркеры,
// экранированные обратной косой чертой символы пропускаются.
func scan(text string) scanResult {
	var res scanResult
	state := stateText
	for i := 0; i < len(text); {
		switch state {
		case stateFence:
			if strings.HasPrefix(text[i:], codeFence) {
				res.tokens = append(res.tokens, Token{Class: ClassFence, Pos: i})
				state = stateText
				i += len(codeFence)
				continue
			}
			i++
		case stateCode:
			if text[i] == '`' {
				res.tokens = append(res.tokens, Token{Class: ClassCode, Pos: i})
				state = stateText
			}
			i++
		default:
			c := text[i]
			if c == '\\' && i+1 < len(text) {
				i += 2
				continue
			}
			switch c {
			case '[', ']', '(', ')':
				res.brackets = append(res.brackets, bracketMark{pos: i, ch: c})
				i++
				continue
			}
			class, ok := matchToken(text, i)
			if !ok {
				if c == '_' {
					res.underscores = append(res.underscores, i)
				}
				i++
				continue
			}
			res.tokens = append(res.tokens, Token{Class: class, Pos: i})
			i += len(class.Symbol())
			switch class {
			case ClassFence:
				state = stateFence
			case ClassCode:
				state = stateCode
			}
		}
	}
	return res
}

func matchToken(text string, i int) (TokenClass, bool) {
	for _, class := range matchOrder {
		if !strings.HasPrefix(text[i:], class.Symbol()) {
			continue
		}
		if class == ClassItalic && isLoneAsterisk(text, i) {
			return 0, false
		}
		return class, true
	}
	return 0, false
}

// isLoneAsterisk отсекает маркеры списков и знак умножения: '*' с пробелами с обеих сторон.
func isLoneAsterisk(text string, i int) bool {
	before := i == 0
	if !before {
		r, _ := utf8.DecodeLastRuneInString(text[:i])
		before = unicode.IsSpace(r)
	}
	after := i+1 >= len(text)
	if !after {
		r, _ := utf8.DecodeRuneInString(text[i+1:])
		after = unicode.IsSpace(r)
	}
	return before && after
}

// Tokenize возвращает маркеры разметки в порядке появления.
func Tokenize(text string) []Token {
	return scan(text).tokens
}

func (r scanResult) count(class TokenClass) int {
	n := 0
	for _, t := range r.tokens {
		if t.Class == class {
			n++
		}
	}
	return n
}

func (r scanResult) last(class TokenClass) (Token, bool) {
	for i := len(r.tokens) - 1; i >= 0; i-- {
		if r.tokens[i].Class == class {
			return r.tokens[i], true
		}
	}
	return Token{}, false
}

func (r scanResult) balanced() bool {
	for _, class := range matchOrder {
		if r.count(class)%2 != 0 {
			return false
		}
	}
	var squares, parens int
	for _, b := range r.brackets {
		switch b.ch {
		case '[':
			squares++
		case ']':
			squares--
		case '(':
			parens++
		case ')':
			parens--
		}
	}
	return squares == 0 && parens == 0
}

// IsBalanced сообщает, что все классы маркеров встречаются чётное число раз,
// а количество открывающих и закрывающих скобок совпадает.
func IsBalanced(text string) bool {
	return scan(text).balanced()
}

const maxRepairRounds = 8

// Незакрытый блок кода в последних fenceTailLines строках закрывается, более ранний теряет открытие.
const fenceTailLines = 3

// Repair делает кусок самодостаточным: закрывает или убирает непарные маркеры и дописывает недостающие скобки.
// Для сбалансированного текста Repair ничего не меняет, поэтому повторный вызов даёт тот же результат.
func Repair(chunk string) string {
	text := chunk
	for round := 0; round < maxRepairRounds; round++ {
		if IsBalanced(text) {
			return text
		}
		text = repairFence(text)
		for _, class := range []TokenClass{ClassBold, ClassUnderline, ClassStrike} {
			text = repairByRemoval(text, class)
		}
		for _, class := range []TokenClass{ClassCode, ClassItalic} {
			text = repairByClosing(text, class)
		}
		text = repairBrackets(text)
	}
	if IsBalanced(text) {
		return text
	}
	return escapeMarkup(text)
}

func repairFence(text string) string {
	res := scan(text)
	if res.count(ClassFence)%2 == 0 {
		return text
	}
	opener, _ := res.last(ClassFence)
	total := strings.Count(text, "\n") + 1
	line := strings.Count(text[:opener.Pos], "\n")
	if total-line <= fenceTailLines {
		return strings.TrimRightFunc(text, unicode.IsSpace) + "\n" + codeFence
	}
	end := len(text)
	if nl := strings.IndexByte(text[opener.Pos:], '\n'); nl >= 0 {
		end = opener.Pos + nl + 1
	}
	start := opener.Pos
	if lineStart := strings.LastIndexByte(text[:opener.Pos], '\n') + 1; strings.TrimSpace(text[lineStart:opener.Pos]) == "" {
		start = lineStart
	} else if end < len(text) {
		end--
	}
	return text[:start] + text[end:]
}

// repairByRemoval убирает последнее вхождение многосимвольного маркера с нечётным числом вхождений.
func repairByRemoval(text string, class TokenClass) string {
	res := scan(text)
	if res.count(class)%2 == 0 {
		return text
	}
	tok, _ := res.last(class)
	return text[:tok.Pos] + text[tok.End():]
}

// repairByClosing дописывает закрывающий односимвольный маркер в конец.
// Если непарный маркер стоит последним, он убирается, чтобы дописанный символ не слился с ним.
func repairByClosing(text string, class TokenClass) string {
	res := scan(text)
	if res.count(class)%2 == 0 {
		return text
	}
	tok, _ := res.last(class)
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if tok.End() >= len(trimmed) || strings.HasSuffix(trimmed, `\`) {
		return text[:tok.Pos] + text[tok.End():]
	}
	return trimmed + class.Symbol()
}

// repairBrackets убирает закрывающие скобки без пары и дописывает недостающие закрывающие.
func repairBrackets(text string) string {
	res := scan(text)
	var (
		stack    []byte
		orphaned []int
	)
	for _, b := range res.brackets {
		switch b.ch {
		case '[', '(':
			stack = append(stack, b.ch)
		default:
			open := byte('[')
			if b.ch == ')' {
				open = '('
			}
			matched := false
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j] == open {
					stack = append(stack[:j], stack[j+1:]...)
					matched = true
					break
				}
			}
			if !matched {
				orphaned = append(orphaned, b.pos)
			}
		}
	}
	if len(stack) == 0 && len(orphaned) == 0 {
		return text
	}
	for i := len(orphaned) - 1; i >= 0; i-- {
		pos := orphaned[i]
		text = text[:pos] + text[pos+1:]
	}
	if len(stack) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRightFunc(text, unicode.IsSpace))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '[' {
			b.WriteByte(']')
		} else {
			b.WriteByte(')')
		}
	}
	return b.String()
}

const markupChars = "*_~`[]()"

// escapeMarkup экранирует все символы разметки. Используется, если починка не сошлась.
func escapeMarkup(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) {
			b.WriteByte(c)
			b.WriteByte(text[i+1])
			i++
			continue
		}
		if strings.IndexByte(markupChars, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}
