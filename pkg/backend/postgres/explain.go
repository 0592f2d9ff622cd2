package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// planNode mirrors the fields of EXPLAIN (FORMAT JSON) output that end up in
// node labels and tooltips.
type planNode struct {
	NodeType     string     `json:"Node Type"`
	Strategy     string     `json:"Strategy"`
	JoinType     string     `json:"Join Type"`
	RelationName string     `json:"Relation Name"`
	Alias        string     `json:"Alias"`
	IndexName    string     `json:"Index Name"`
	StartupCost  float64    `json:"Startup Cost"`
	TotalCost    float64    `json:"Total Cost"`
	PlanRows     float64    `json:"Plan Rows"`
	PlanWidth    int        `json:"Plan Width"`
	Filter       string     `json:"Filter"`
	IndexCond    string     `json:"Index Cond"`
	HashCond     string     `json:"Hash Cond"`
	Plans        []planNode `json:"Plans"`
}

// parsePlan flattens the plan tree into nodes, parents before children.
func parsePlan(raw []byte) ([]backend.PlanNode, error) {
	var doc []struct {
		Plan planNode `json:"Plan"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if len(doc) == 0 {
		return nil, nil
	}

	var out []backend.PlanNode
	var walk func(n planNode, parent string)
	walk = func(n planNode, parent string) {
		name := fmt.Sprintf("%d. %s", len(out)+1, n.label())
		out = append(out, backend.PlanNode{Name: name, Parent: parent, Detail: n.detail()})
		for _, child := range n.Plans {
			walk(child, name)
		}
	}
	walk(doc[0].Plan, "")
	return out, nil
}

func (n planNode) label() string {
	var b strings.Builder
	if n.Strategy != "" && n.Strategy != "Plain" {
		b.WriteString(n.Strategy)
		b.WriteByte(' ')
	}
	if n.JoinType != "" && n.JoinType != "Inner" {
		b.WriteString(n.JoinType)
		b.WriteByte(' ')
	}
	b.WriteString(n.NodeType)
	if n.IndexName != "" {
		b.WriteString(" using ")
		b.WriteString(n.IndexName)
	}
	if n.RelationName != "" {
		b.WriteString(" on ")
		b.WriteString(n.RelationName)
		if n.Alias != "" && n.Alias != n.RelationName {
			b.WriteByte(' ')
			b.WriteString(n.Alias)
		}
	}
	return b.String()
}

func (n planNode) detail() string {
	lines := []string{fmt.Sprintf("cost=%.2f..%.2f rows=%.0f width=%d", n.StartupCost, n.TotalCost, n.PlanRows, n.PlanWidth)}
	if n.IndexCond != "" {
		lines = append(lines, "Index Cond: "+n.IndexCond)
	}
	if n.HashCond != "" {
		lines = append(lines, "Hash Cond: "+n.HashCond)
	}
	if n.Filter != "" {
		lines = append(lines, "Filter: "+n.Filter)
	}
	return strings.Join(lines, "\n")
}
