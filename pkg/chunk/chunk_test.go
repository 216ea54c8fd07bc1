package chunk_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ragnote/pkg/chunk"
)

func TestSplit(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"whitespace only", " \n\n\t\n\n  ", nil},
		{"single paragraph", "hello world", []string{"hello world"}},
		{"extra newline between paragraphs", "a\n\nb\n\n\nc", []string{"a", "b", "c"}},
		{"single newline is kept", "line1\nline2\n\nnext", []string{"line1\nline2", "next"}},
		{"surrounding spaces trimmed", "  title  \n\n  body text \n", []string{"title", "body text"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, chunk.Split(tc.input), tc.expected)
		})
	}
}

func TestSplitChunksAreTrimmed(t *testing.T) {
	input := "\t Hiking trip to the Alps \n\n\n  was amazing\t\n\n \n\n"
	chunks := chunk.Split(input)
	gt.A(t, chunks).Length(2)
	for _, c := range chunks {
		gt.Equal(t, c, strings.TrimSpace(c))
		gt.NotEqual(t, c, "")
	}
}
