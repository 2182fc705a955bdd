package vault

import (
	"strings"
	"testing"
)

func TestParseFrontmatter(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		key      string
		expected any
		size     int
	}{
		{
			name:     "Simple string field",
			input:    "---\nflashcard-uid: abc\n---\n# Title",
			key:      "flashcard-uid",
			expected: "abc",
			size:     1,
		},
		{
			name:  "Nested and list fields",
			input: "---\nmetadata:\n  category: [science, math]\nprojects:\n  - Biology\n---\nbody",
			key:   "projects",
			size:  2,
		},
		{
			name:  "No frontmatter",
			input: "# Just a heading\n---\nfoo: bar\n---",
			size:  0,
		},
		{
			name:  "Unterminated block",
			input: "---\nfoo: bar\n",
			size:  0,
		},
		{
			name:  "Invalid YAML",
			input: "---\nfoo: [unclosed\n---\n",
			size:  0,
		},
		{
			name:     "Windows line endings",
			input:    "---\r\nfoo: bar\r\n---\r\n",
			key:      "foo",
			expected: "bar",
			size:     1,
		},
		{
			name:  "Empty block",
			input: "---\n---\n",
			size:  0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			meta, err := ParseFrontmatter(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("ParseFrontmatter() returned an unexpected error: %v", err)
			}
			if meta == nil {
				t.Fatal("ParseFrontmatter() returned a nil map")
			}
			if len(meta) != tc.size {
				t.Fatalf("Expected %d keys, got %d: %v", tc.size, len(meta), meta)
			}
			if tc.expected != nil && meta[tc.key] != tc.expected {
				t.Errorf("Expected %s to be %v, got %v", tc.key, tc.expected, meta[tc.key])
			}
		})
	}
}
