package protocol

import "encoding/json"

// PlanNode is one node of a query plan, shaped for an org-chart widget:
// the node's label, its parent's label and a tooltip.
type PlanNode struct {
	Name    string
	Parent  string
	Tooltip string
}

// MarshalJSON encodes the node as a three element array.
func (n PlanNode) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{n.Name, n.Parent, n.Tooltip})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *PlanNode) UnmarshalJSON(data []byte) error {
	var raw [3]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.Name, n.Parent, n.Tooltip = raw[0], raw[1], raw[2]
	return nil
}

// Plan is a flattened query plan, parents before children.
type Plan []PlanNode

// ExplainResult is the response of the plan inspection endpoint.
type ExplainResult struct {
	Error *string `json:"error"`
	Plan  Plan    `json:"plan"`
}

// ExplainFailure builds a result carrying err.
func ExplainFailure(err error) ExplainResult {
	msg := Render(err)
	return ExplainResult{Error: &msg}
}
