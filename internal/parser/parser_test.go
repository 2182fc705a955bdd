package parser

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name           string
		input          string
		expectedBlocks int
		expectedQ      string
		expectedA      string
		expectedC      string
	}{
		{
			name:           "Simple Q&A",
			input:          "Q: What is the capital of France?\nA: Paris",
			expectedBlocks: 1,
			expectedQ:      "What is the capital of France?",
			expectedA:      "Paris",
		},
		{
			name:           "Simple Q, A, and C",
			input:          "Q: What is 1+1?\nA: 2\nC: Basic arithmetic",
			expectedBlocks: 1,
			expectedQ:      "What is 1+1?",
			expectedA:      "2",
			expectedC:      "Basic arithmetic",
		},
		{
			name: "Multiline Answer",
			input: `
Q: What are the primary colors?
A: Red
Blue
Yellow
`,
			expectedBlocks: 1,
			expectedQ:      "What are the primary colors?",
			expectedA:      "Red\nBlue\nYellow",
		},
		{
			name: "Two Blocks",
			input: `
Q: First question
A: First answer

Q: Second question
A: Second answer
`,
			expectedBlocks: 2,
		},
		{
			name: "Frontmatter is skipped",
			input: `---
flashcard-uid: u-1
---
# Geography

Q: Capital of Italy?
A: Rome
---
Q: Capital of Spain?
A: Madrid
`,
			expectedBlocks: 2,
		},
		{
			name:           "Answer without question",
			input:          "A: orphan answer\nQ: Real question\nA: Real answer",
			expectedBlocks: 1,
			expectedQ:      "Real question",
			expectedA:      "Real answer",
		},
		{
			name:           "No blocks, just text",
			input:          "This is a file with no questions.",
			expectedBlocks: 0,
		},
		{
			name:           "Prefixes with no space",
			input:          "Q:Question\nA:Answer",
			expectedBlocks: 1,
			expectedQ:      "Question",
			expectedA:      "Answer",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			blocks, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}

			if len(blocks) != tc.expectedBlocks {
				t.Fatalf("Expected %d blocks, but got %d", tc.expectedBlocks, len(blocks))
			}

			if tc.expectedBlocks == 1 {
				b := blocks[0]
				if b.Question != tc.expectedQ {
					t.Errorf("Expected Question to be '%s', but got '%s'", tc.expectedQ, b.Question)
				}
				if b.Answer != tc.expectedA {
					t.Errorf("Expected Answer to be '%s', but got '%s'", tc.expectedA, b.Answer)
				}
				if b.Context != tc.expectedC {
					t.Errorf("Expected Context to be '%s', but got '%s'", tc.expectedC, b.Context)
				}
			}
		})
	}
}

func TestParseLineNumbers(t *testing.T) {
	input := "---\nflashcard-uid: u-1\n---\n\nQ: One\nA: 1\n\nQ: Two\nA: 2\n"
	blocks, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() returned an unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, but got %d", len(blocks))
	}
	if blocks[0].Line != 5 || blocks[1].Line != 8 {
		t.Errorf("Expected blocks on lines 5 and 8, but got %d and %d", blocks[0].Line, blocks[1].Line)
	}
}
