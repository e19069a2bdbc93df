package telegram

import (
	"testing"

	"tg-reply-bot/internal/domain"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"emphasis runs collapsed", "***bold***", "**bold**"},
		{"strike runs collapsed", "~~~~x~~", "~~x~~"},
		{"backtick runs collapsed", "````\ncode\n````", "```\ncode\n```"},
		{"zero width removed", "a\u200bb\ufeff", "ab"},
		{"space before url", "[site] (http://x.y)", "[site](http://x.y)"},
		{"padded url", "[site]( http://x.y )", "[site](http://x.y)"},
		{"empty link text", "[ ](http://x.y)", "http://x.y"},
		{"empty url", "[site]()", "site"},
		{"unpaired italic escaped", "price *5 today", `price \*5 today`},
		{"unpaired underscore escaped", "snake_case", `snake\_case`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !IsBalanced(got) {
				t.Fatalf("sanitized %q is not balanced", got)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**bold** and [link](http://a.b)", "bold and link (http://a.b)"},
		{"[http://a.b](http://a.b)", "http://a.b"},
		{"~~old~~ __new__ *it*", "old new it"},
		{`a\*b`, "a*b"},
		{"```go\nx := *p\n```", "x := *p"},
	}
	for _, tt := range tests {
		if got := StripMarkup(tt.in); got != tt.want {
			t.Fatalf("StripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripPlain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"- item one\n- **two**\n[label](http://u)", "• item one\n• two\nlabel"},
		{"```go\nx := 1\n```", "x := 1"},
		{"a `code` b", "a code b"},
		{"***", ""},
		{"left ** over", "left  over"},
	}
	for _, tt := range tests {
		if got := StripPlain(tt.in); got != tt.want {
			t.Fatalf("StripPlain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeStrict(t *testing.T) {
	got := EscapeStrict("a.b! (1+1=2) #tag")
	want := `a\.b\! \(1\+1\=2\) \#tag`
	if got != want {
		t.Fatalf("EscapeStrict = %q, want %q", got, want)
	}
}

func TestRenderByMode(t *testing.T) {
	chunk := "**Hi** (x)"
	tests := []struct {
		mode domain.RenderMode
		want string
	}{
		{domain.RenderRich, "**Hi** (x)"},
		{domain.RenderSanitized, "**Hi** (x)"},
		{domain.RenderStrictEscaped, `Hi \(x\)`},
		{domain.RenderPlain, "Hi (x)"},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			if got := Render(chunk, tt.mode); got != tt.want {
				t.Fatalf("Render(%v) = %q, want %q", tt.mode, got, tt.want)
			}
		})
	}
}
