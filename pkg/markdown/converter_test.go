package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToWhatsApp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bold",
			in:   "this is **important**",
			want: "this is *important*",
		},
		{
			name: "italic",
			in:   "an *aside* here",
			want: "an _aside_ here",
		},
		{
			name: "strikethrough",
			in:   "that was ~~wrong~~ right",
			want: "that was ~wrong~ right",
		},
		{
			name: "heading becomes bold line",
			in:   "# Plan\nfirst step",
			want: "*Plan*\n\nfirst step",
		},
		{
			name: "list becomes bullets",
			in:   "- one\n- two",
			want: "• one\n• two",
		},
		{
			name: "link keeps text and url",
			in:   "see [the docs](https://example.com)",
			want: "see the docs (https://example.com)",
		},
		{
			name: "inline code",
			in:   "run `go version` first",
			want: "run `go version` first",
		},
		{
			name: "entities unescaped",
			in:   "a < b && b > c",
			want: "a < b && b > c",
		},
		{
			name: "plain text untouched",
			in:   "just a sentence.",
			want: "just a sentence.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToWhatsApp(tt.in))
		})
	}
}

func TestToWhatsApp_CodeBlock(t *testing.T) {
	out := ToWhatsApp("```\nfmt.Println(\"hi\")\n```")
	assert.Contains(t, out, "```")
	assert.Contains(t, out, `fmt.Println("hi")`)
}
