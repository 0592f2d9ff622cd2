package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// planNode is one operator of EXPLAIN (FORMAT JSON) output.
type planNode struct {
	Name      string          `json:"name"`
	ExtraInfo json.RawMessage `json:"extra_info"`
	Children  []planNode      `json:"children"`
}

func explain(ctx context.Context, conn *sql.Conn, stmt string) ([]backend.PlanNode, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN (FORMAT JSON) "+stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to explain statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var doc strings.Builder
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		doc.WriteString(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return parsePlan([]byte(doc.String()))
}

// parsePlan flattens the operator tree, parents before children.
func parsePlan(raw []byte) ([]backend.PlanNode, error) {
	var roots []planNode
	if err := json.Unmarshal(raw, &roots); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	var out []backend.PlanNode
	var walk func(n planNode, parent string)
	walk = func(n planNode, parent string) {
		name := fmt.Sprintf("%d. %s", len(out)+1, strings.TrimSpace(n.Name))
		out = append(out, backend.PlanNode{Name: name, Parent: parent, Detail: extraInfo(n.ExtraInfo)})
		for _, child := range n.Children {
			walk(child, name)
		}
	}
	for _, root := range roots {
		walk(root, "")
	}
	return out, nil
}

// extraInfo renders the operator details, which newer DuckDB versions emit
// as an object and older ones as a string.
func extraInfo(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case []any:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			lines = append(lines, k+": "+strings.Join(parts, ", "))
		default:
			lines = append(lines, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return strings.Join(lines, "\n")
}
