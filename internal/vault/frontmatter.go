package vault

import (
	"bufio"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

type state int

const (
	seeking state = iota
	readingFrontmatter
	done
)

// ParseFrontmatter extracts the YAML block between a leading pair of "---"
// lines. Documents without frontmatter, with an unterminated block or with
// invalid YAML yield an empty map; only read errors are returned.
func ParseFrontmatter(r io.Reader) (map[string]any, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var block []string
	currentState := seeking
	terminated := false

	for currentState != done && scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch currentState {
		case seeking:
			// Frontmatter must open on the very first line.
			if strings.TrimSpace(line) != frontmatterDelimiter {
				currentState = done
				continue
			}
			currentState = readingFrontmatter
		case readingFrontmatter:
			if strings.TrimSpace(line) == frontmatterDelimiter {
				terminated = true
				currentState = done
				continue
			}
			block = append(block, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	meta := map[string]any{}
	if !terminated || len(block) == 0 {
		return meta, nil
	}
	if err := yaml.Unmarshal([]byte(strings.Join(block, "\n")), &meta); err != nil || meta == nil {
		return map[string]any{}, nil
	}
	return meta, nil
}
