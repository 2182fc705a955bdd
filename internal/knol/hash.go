// Package knol turns question blocks of vault documents into cards. A card
// created this way is identified by a hash of its normalized content, so
// importing a document twice never duplicates a card.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/knolvault/internal/parser"
)

// Normalize concatenates the block's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(b parser.Block) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// Joined with a newline so "question" and "answer" never read as "questionanswer".
	return strings.Join([]string{normalizePart(b.Question), normalizePart(b.Answer), normalizePart(b.Context)}, "\n")
}

// Hash returns the hex SHA-256 of the normalized block.
func Hash(b parser.Block) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(Normalize(b))))
}

// CardID is the id of the card generated from b within the source note
// sourceUID. The same question in two notes yields two cards.
func CardID(sourceUID string, b parser.Block) string {
	sum := sha256.Sum256([]byte(sourceUID + "\n" + Normalize(b)))
	return fmt.Sprintf("k-%x", sum[:8])
}
