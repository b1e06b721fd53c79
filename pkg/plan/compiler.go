// Package plan compiles automation graphs into phased execution plans.
package plan

import (
	"slices"

	"github.com/zosmed/engine/pkg/models"
)

// Phase is a batch of mutually independent nodes whose dependencies were all
// satisfied by earlier phases.
type Phase struct {
	Number int           `json:"phase_number"`
	Nodes  []models.Node `json:"nodes"`
}

// ExecutionPlan is the ordered sequence of phases derived from a graph.
type ExecutionPlan struct {
	Phases []Phase `json:"phases"`
}

// PhaseOf returns the phase number of the node, or 0 if the node is not planned.
func (p *ExecutionPlan) PhaseOf(nodeID string) int {
	for _, phase := range p.Phases {
		for _, node := range phase.Nodes {
			if node.ID == nodeID {
				return phase.Number
			}
		}
	}

	return 0
}

// NodeCount returns the number of planned nodes.
func (p *ExecutionPlan) NodeCount() int {
	count := 0
	for _, phase := range p.Phases {
		count += len(phase.Nodes)
	}

	return count
}

// Options tunes compilation. The zero value keeps the default semantics.
type Options struct {
	// StrictReferences fails with DanglingReference before layering when an edge
	// points at a node that does not exist.
	StrictReferences bool
}

// Compile layers the graph by dependency depth (Kahn's algorithm by levels).
func Compile(nodes []models.Node, edges []models.Edge) (*ExecutionPlan, error) {
	return CompileWithOptions(nodes, edges, Options{})
}

// CompileWithOptions is Compile with explicit options.
func CompileWithOptions(nodes []models.Node, edges []models.Edge, opts Options) (*ExecutionPlan, error) {
	if len(nodes) == 0 {
		return nil, &CompilationError{Code: CodeNoEntryPoint}
	}

	if duplicates := duplicateIDs(nodes); len(duplicates) > 0 {
		return nil, &CompilationError{Code: CodeInvalidInputs, NodeIDs: duplicates}
	}

	if opts.StrictReferences {
		if err := ValidateReferences(nodes, edges); err != nil {
			return nil, err
		}
	}

	predecessors := Predecessors(edges)
	planned := make(map[string]struct{}, len(nodes))
	plan := &ExecutionPlan{}

	for phaseNumber := 1; len(planned) < len(nodes); phaseNumber++ {
		var candidates []models.Node

		for _, node := range nodes {
			if _, done := planned[node.ID]; done {
				continue
			}

			if allPlanned(predecessors[node.ID], planned) {
				candidates = append(candidates, node)
			}
		}

		if len(candidates) == 0 {
			return nil, &CompilationError{Code: CodeInvalidInputs, NodeIDs: unplannedIDs(nodes, planned)}
		}

		for _, node := range candidates {
			planned[node.ID] = struct{}{}
		}

		plan.Phases = append(plan.Phases, Phase{Number: phaseNumber, Nodes: candidates})
	}

	return plan, nil
}

// ValidateReferences reports edges whose source or target is not a node of the graph.
func ValidateReferences(nodes []models.Node, edges []models.Edge) error {
	known := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		known[node.ID] = struct{}{}
	}

	var missing []string

	for _, edge := range edges {
		for _, id := range []string{edge.Source, edge.Target} {
			if _, ok := known[id]; !ok && !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	slices.Sort(missing)

	return &CompilationError{Code: CodeDanglingReference, NodeIDs: missing}
}

// Predecessors maps each target node id to the set of source ids with an edge into it.
func Predecessors(edges []models.Edge) map[string]map[string]struct{} {
	predecessors := make(map[string]map[string]struct{})

	for _, edge := range edges {
		set, ok := predecessors[edge.Target]
		if !ok {
			set = make(map[string]struct{})
			predecessors[edge.Target] = set
		}

		set[edge.Source] = struct{}{}
	}

	return predecessors
}

func allPlanned(ids map[string]struct{}, planned map[string]struct{}) bool {
	for id := range ids {
		if _, ok := planned[id]; !ok {
			return false
		}
	}

	return true
}

func unplannedIDs(nodes []models.Node, planned map[string]struct{}) []string {
	var ids []string

	for _, node := range nodes {
		if _, ok := planned[node.ID]; !ok {
			ids = append(ids, node.ID)
		}
	}

	slices.Sort(ids)

	return ids
}

func duplicateIDs(nodes []models.Node) []string {
	seen := make(map[string]int, len(nodes))
	for _, node := range nodes {
		seen[node.ID]++
	}

	var duplicates []string

	for id, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, id)
		}
	}

	slices.Sort(duplicates)

	return duplicates
}
