package telegram

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Token
	}{
		{
			name: "bold and italic",
			text: "**bold** and *it*",
			want: []Token{{ClassBold, 0}, {ClassBold, 6}, {ClassItalic, 13}, {ClassItalic, 16}},
		},
		{
			name: "lone asterisk is not italic",
			text: "2 * 3 = 6",
			want: nil,
		},
		{
			name: "no emphasis inside inline code",
			text: "`a*b__c`",
			want: []Token{{ClassCode, 0}, {ClassCode, 7}},
		},
		{
			name: "no emphasis inside code block",
			text: "```\n**x ~~y\n```",
			want: []Token{{ClassFence, 0}, {ClassFence, 12}},
		},
		{
			name: "escaped markers",
			text: `\*not\* \_\_x`,
			want: nil,
		},
		{
			name: "strike and underline",
			text: "~~gone~~ __under__",
			want: []Token{{ClassStrike, 0}, {ClassStrike, 6}, {ClassUnderline, 9}, {ClassUnderline, 16}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Tokenize(tt.text)); diff != "" {
				t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsBalanced(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"plain text", true},
		{"**bold** *it*", true},
		{"**bold", false},
		{"***", false},
		{"[link](http://example.com)", true},
		{"[link](http://example.com", false},
		{"`code", false},
		{"```\ncode\n```", true},
		{"snake_case", true},
	}
	for _, tt := range tests {
		if got := IsBalanced(tt.text); got != tt.want {
			t.Fatalf("IsBalanced(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestRepairRemovesTrailingBold(t *testing.T) {
	chunk := strings.Repeat("x", 42) + " **hello"
	if len(chunk) != 50 {
		t.Fatalf("fixture length %d", len(chunk))
	}
	got := Repair(chunk)
	want := strings.Repeat("x", 42) + " hello"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestRepairAppendsItalicCloser(t *testing.T) {
	chunk := strings.Repeat("word ", 597) + "*nearly done" + " ok"
	if len(chunk) != 3000 {
		t.Fatalf("fixture length %d", len(chunk))
	}
	got := Repair(chunk)
	if got != chunk+"*" {
		t.Fatalf("expected a single appended '*', got suffix %q", got[len(got)-20:])
	}
	if !IsBalanced(got) {
		t.Fatalf("repaired chunk is not balanced")
	}
}

func TestRepairCases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"balanced is untouched", "**a** _b_ [c](d)", "**a** _b_ [c](d)"},
		{"unclosed inline code", "run `go test", "run `go test`"},
		{"dangling italic at end", "price*", "price"},
		{"multiplication sign is kept", "2 * 3", "2 * 3"},
		{"unclosed strike", "~~old~~ and ~~new", "~~old~~ and new"},
		{"missing closing paren", "see [docs](http://x", "see [docs](http://x)"},
		{"missing closing bracket", "see [docs", "see [docs]"},
		{"orphan closing paren", "a) b", "a b"},
		{"fence near the end is closed", "intro\n```go\nfmt.Println()", "intro\n```go\nfmt.Println()\n```"},
		{"fence far from the end is dropped", "```\nline1\nline2\nline3\nline4", "line1\nline2\nline3\nline4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Repair(tt.in)
			if got != tt.want {
				t.Fatalf("Repair(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !IsBalanced(got) {
				t.Fatalf("result %q is not balanced", got)
			}
		})
	}
}

func TestRepairIdempotentAndBalanced(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []byte("ab *_~`[]()\\\n")
	samples := []string{
		"***", "**a*", "*a**", "`**`*", "```", "````", "a\\", "[[(", ")]", "~~~", "__*__",
	}
	for i := 0; i < 2000; i++ {
		b := make([]byte, 1+rng.Intn(40))
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		samples = append(samples, string(b))
	}
	for _, s := range samples {
		once := Repair(s)
		if !IsBalanced(once) {
			t.Fatalf("Repair(%q) = %q is not balanced", s, once)
		}
		if twice := Repair(once); twice != once {
			t.Fatalf("Repair is not idempotent for %q: %q then %q", s, once, twice)
		}
	}
}

func TestEscapeMarkupIsBalanced(t *testing.T) {
	got := escapeMarkup("**a [b](c) `d")
	if got != `\*\*a \[b\]\(c\) \`+"`"+`d` {
		t.Fatalf("unexpected escape: %q", got)
	}
	if !IsBalanced(got) {
		t.Fatalf("escaped text must be balanced")
	}
}
