// Package batch turns the raw SQL text submitted by a client into the
// statements that are executed, and enforces which batches may run.
package batch

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// Error messages reported for rejected input.
const (
	MsgStreamingBatch = "a batch that streams rows must contain exactly one statement"
	MsgExplainBatch   = "only one statement can be explained"
)

// readKeyword is compared against the first six characters of a statement.
const readKeyword = "SELECT"

// Batch is an ordered list of statements that passed the composition check.
type Batch []string

// statementPattern matches one statement with its terminating semicolon.
// A quoted string may contain semicolons and \' escapes. When a quote is
// never closed, the quote is taken as a plain character, so the statement
// ends at the next semicolon.
var statementPattern = regexp.MustCompile(`(?:[^';]|'(?:\\'|[^'])*')+[^;]*;`)

// Split breaks text into trimmed statements. The input is treated as if it
// ended with a semicolon, so a final statement without one is kept. Empty
// statements are dropped.
func Split(text string) []string {
	stmts := []string{}
	for _, m := range statementPattern.FindAllString(text+";", -1) {
		if s := strings.TrimSpace(m[:len(m)-1]); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// Compose splits text and rejects batches of more than one statement where
// any statement is a read query: a streamed result belongs to exactly one
// statement.
func Compose(text string) (Batch, error) {
	stmts := Split(text)
	if len(stmts) > 1 {
		for _, s := range stmts {
			if isRead(s) {
				return nil, protocol.NewBatchError(MsgStreamingBatch)
			}
		}
	}
	return Batch(stmts), nil
}

// Single returns the only statement of text. ok is false when text holds no
// statement at all.
func Single(text string) (stmt string, ok bool, err error) {
	stmts := Split(text)
	switch len(stmts) {
	case 0:
		return "", false, nil
	case 1:
		return stmts[0], true, nil
	default:
		return "", false, protocol.NewBatchError(MsgExplainBatch)
	}
}

func isRead(stmt string) bool {
	if len(stmt) < len(readKeyword) {
		return false
	}
	return strings.EqualFold(stmt[:len(readKeyword)], readKeyword)
}
