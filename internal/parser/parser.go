// Package parser extracts question and answer blocks from the body of a
// markdown document.
//
//	Q: What is the capital of France?
//	A: Paris
//	C: Geography
//
// A block starts at a Q: line and runs until the next Q: line, a --- line or
// the end of the document. Lines following a prefix continue that field.
package parser

import (
	"bufio"
	"io"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Block is one question with its answer and optional context.
type Block struct {
	Question string
	Answer   string
	Context  string
	Line     int // 1-based line of the Q: prefix
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// Parse reads every block of a document. A leading YAML frontmatter section
// is skipped, so its delimiters are not taken as block separators.
func Parse(r io.Reader) ([]Block, error) {
	scanner := bufio.NewScanner(r)
	var (
		blocks  []Block
		current Block
		lines   []string
		st      = seeking
		lineNo  = 0
		inFront = false
	)

	store := func() {
		if len(lines) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(lines, "\n"), "\n")
		switch st {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		case readingContext:
			current.Context = content
		}
		lines = nil
	}
	finish := func() {
		store()
		if current.Question != "" {
			blocks = append(blocks, current)
		}
		current = Block{}
		st = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if lineNo == 1 && strings.TrimSpace(line) == separator {
			inFront = true
			continue
		}
		if inFront {
			if strings.TrimSpace(line) == separator {
				inFront = false
			}
			continue
		}

		if line == separator {
			finish()
			continue
		}

		field, rest, ok := prefixed(line)
		if !ok {
			if st != seeking {
				lines = append(lines, line)
			}
			continue
		}

		store()
		if field == readingQuestion {
			if st != seeking {
				finish()
			}
			current.Line = lineNo
		} else if st == seeking {
			// An answer or context without a question is ignored.
			continue
		}
		st = field
		lines = append(lines, rest)
	}
	finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func prefixed(line string) (state, string, bool) {
	for _, p := range []struct {
		prefix string
		st     state
	}{
		{questionPrefix, readingQuestion},
		{answerPrefix, readingAnswer},
		{contextPrefix, readingContext},
	} {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return p.st, strings.TrimPrefix(rest, " "), true
		}
	}
	return seeking, "", false
}
