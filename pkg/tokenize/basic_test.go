package tokenize

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestSentenceTokenizer(t *testing.T) {
	tok := NewSentenceTokenizer()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "two sentences",
			text: "The weather is lovely today outside. We should all go for a long walk.",
			want: []string{
				"The weather is lovely today outside.",
				"We should all go for a long walk.",
			},
		},
		{
			name: "short fragment merged forward",
			text: "Yes. That is exactly what I was thinking about earlier today.",
			want: []string{
				"Yes. That is exactly what I was thinking about earlier today.",
			},
		},
		{
			name: "decimal number not split",
			text: "The value of pi is approximately 3.14159 in most calculations here.",
			want: []string{
				"The value of pi is approximately 3.14159 in most calculations here.",
			},
		},
		{
			name: "exclamation and question",
			text: "Watch out for the incoming traffic! Did you even see that coming?",
			want: []string{
				"Watch out for the incoming traffic!",
				"Did you even see that coming?",
			},
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(tok.Tokenize(tt.text), tt.want)
		})
	}
}

func TestWordTokenizer(t *testing.T) {
	is := is.New(t)

	tok := NewWordTokenizer()
	is.Equal(tok.Tokenize("Hello, world! It's fine."), []string{"Hello", "world", "It's", "fine"})

	keep := NewWordTokenizer(WithIgnorePunctuation(false))
	is.Equal(keep.Tokenize("Hello, world!"), []string{"Hello,", "world!"})
}

func TestHyphenateWord(t *testing.T) {
	is := is.New(t)

	is.Equal(HyphenateWord("cat"), []string{"cat"}) // short words stay whole

	parts := HyphenateWord("wonderful")
	is.Equal(strings.Join(parts, ""), "wonderful") // parts reassemble the word
	is.True(len(parts) > 1)
	for _, p := range parts {
		is.True(len(p) >= 2)
	}
}
