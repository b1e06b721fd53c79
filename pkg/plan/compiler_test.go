package plan

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/testutil"
)

func nodesNamed(ids ...string) []models.Node {
	nodes := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, testutil.DMTrigger(id))
	}

	return nodes
}

func phaseIDs(plan *ExecutionPlan) [][]string {
	result := make([][]string, 0, len(plan.Phases))

	for _, phase := range plan.Phases {
		ids := make([]string, 0, len(phase.Nodes))
		for _, node := range phase.Nodes {
			ids = append(ids, node.ID)
		}

		result = append(result, ids)
	}

	return result
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []models.Node
		edges    []models.Edge
		expected [][]string
	}{
		{
			name:     "single node",
			nodes:    nodesNamed("a"),
			expected: [][]string{{"a"}},
		},
		{
			name:     "linear chain",
			nodes:    nodesNamed("n1", "n2", "n3", "n4"),
			edges:    testutil.Chain("n1", "n2", "n3", "n4"),
			expected: [][]string{{"n1"}, {"n2"}, {"n3"}, {"n4"}},
		},
		{
			name:     "independent nodes share one phase",
			nodes:    nodesNamed("a", "b", "c"),
			expected: [][]string{{"a", "b", "c"}},
		},
		{
			name:  "fan-out and fan-in",
			nodes: nodesNamed("trigger", "reply", "dm", "join"),
			edges: []models.Edge{
				{Source: "trigger", Target: "reply"},
				{Source: "trigger", Target: "dm"},
				{Source: "reply", Target: "join"},
				{Source: "dm", Target: "join"},
			},
			expected: [][]string{{"trigger"}, {"reply", "dm"}, {"join"}},
		},
		{
			name:  "unbalanced branches wait for the longest path",
			nodes: nodesNamed("a", "b", "c", "d"),
			edges: []models.Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "c"},
				{Source: "a", Target: "d"},
				{Source: "c", Target: "d"},
			},
			expected: [][]string{{"a"}, {"b"}, {"c"}, {"d"}},
		},
		{
			name:     "unconnected root joins phase one",
			nodes:    nodesNamed("trigger", "dm", "orphan"),
			edges:    testutil.Chain("trigger", "dm"),
			expected: [][]string{{"trigger", "orphan"}, {"dm"}},
		},
		{
			name:     "parallel edges are collapsed",
			nodes:    nodesNamed("a", "b"),
			edges:    append(testutil.Chain("a", "b"), testutil.Chain("a", "b")...),
			expected: [][]string{{"a"}, {"b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Compile(tt.nodes, tt.edges)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, phaseIDs(plan))

			for i, phase := range plan.Phases {
				assert.Equal(t, i+1, phase.Number)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name        string
		nodes       []models.Node
		edges       []models.Edge
		expectedErr error
		expectedIDs []string
	}{
		{
			name:        "empty graph",
			expectedErr: ErrNoEntryPoint,
		},
		{
			name:        "two node cycle",
			nodes:       nodesNamed("a", "b"),
			edges:       []models.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			expectedErr: ErrInvalidInputs,
			expectedIDs: []string{"a", "b"},
		},
		{
			name:        "self loop",
			nodes:       nodesNamed("root", "loop"),
			edges:       []models.Edge{{Source: "loop", Target: "loop"}},
			expectedErr: ErrInvalidInputs,
			expectedIDs: []string{"loop"},
		},
		{
			name:        "cycle reports downstream nodes too",
			nodes:       nodesNamed("t", "a", "b", "c"),
			edges:       []models.Edge{{Source: "t", Target: "a"}, {Source: "a", Target: "b"}, {Source: "b", Target: "a"}, {Source: "b", Target: "c"}},
			expectedErr: ErrInvalidInputs,
			expectedIDs: []string{"a", "b", "c"},
		},
		{
			name:        "dangling source folds into invalid inputs",
			nodes:       nodesNamed("trigger", "dm"),
			edges:       []models.Edge{{Source: "trigger", Target: "dm"}, {Source: "ghost", Target: "dm"}},
			expectedErr: ErrInvalidInputs,
			expectedIDs: []string{"dm"},
		},
		{
			name:        "duplicate node ids",
			nodes:       nodesNamed("a", "b", "a"),
			expectedErr: ErrInvalidInputs,
			expectedIDs: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Compile(tt.nodes, tt.edges)
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, tt.expectedErr)

			compileErr, ok := AsCompilationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedIDs, compileErr.NodeIDs)
		})
	}
}

func TestCompile_DanglingEdgeToUnknownTargetIsIgnored(t *testing.T) {
	plan, err := Compile(nodesNamed("a"), []models.Edge{{Source: "a", Target: "ghost"}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, phaseIDs(plan))
}

func TestCompileWithOptions_StrictReferences(t *testing.T) {
	nodes := nodesNamed("trigger", "dm")
	edges := []models.Edge{{Source: "trigger", Target: "dm"}, {Source: "ghost", Target: "dm"}, {Source: "dm", Target: "phantom"}}

	_, err := CompileWithOptions(nodes, edges, Options{StrictReferences: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingReference)
	assert.NotErrorIs(t, err, ErrInvalidInputs)

	compileErr, ok := AsCompilationError(err)
	require.True(t, ok)
	assert.Equal(t, CodeDanglingReference, compileErr.Code)
	assert.Equal(t, []string{"ghost", "phantom"}, compileErr.NodeIDs)
	assert.Contains(t, err.Error(), "ghost, phantom")

	plan, err := CompileWithOptions(nodes, testutil.Chain("trigger", "dm"), Options{StrictReferences: true})
	require.NoError(t, err)
	assert.Equal(t, 2, len(plan.Phases))
}

// randomDAG builds a graph whose edges only point from lower to higher index.
func randomDAG(r *rand.Rand, size int) ([]models.Node, []models.Edge) {
	ids := make([]string, size)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}

	var edges []models.Edge

	for target := 1; target < size; target++ {
		for source := 0; source < target; source++ {
			if r.IntN(4) == 0 {
				edges = append(edges, models.Edge{Source: ids[source], Target: ids[target]})
			}
		}
	}

	nodes := nodesNamed(ids...)
	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	return nodes, edges
}

func TestCompile_PartitionAndTopologicalOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for iteration := range 200 {
		nodes, edges := randomDAG(r, 1+r.IntN(20))

		plan, err := Compile(nodes, edges)
		require.NoError(t, err, "iteration %d", iteration)

		seen := make(map[string]int)

		for _, phase := range plan.Phases {
			require.NotEmpty(t, phase.Nodes)

			for _, node := range phase.Nodes {
				_, duplicate := seen[node.ID]
				require.False(t, duplicate, "node %s planned twice", node.ID)
				seen[node.ID] = phase.Number
			}
		}

		require.Len(t, seen, len(nodes))
		assert.Equal(t, len(nodes), plan.NodeCount())

		for _, edge := range edges {
			assert.Less(t, plan.PhaseOf(edge.Source), plan.PhaseOf(edge.Target), "edge %s -> %s", edge.Source, edge.Target)
		}
	}
}

func TestCompile_DeterministicPhaseCount(t *testing.T) {
	for _, size := range []int{1, 2, 5, 17} {
		ids := make([]string, size)
		for i := range ids {
			ids[i] = fmt.Sprintf("n%d", i+1)
		}

		chain, err := Compile(nodesNamed(ids...), testutil.Chain(ids...))
		require.NoError(t, err)
		assert.Len(t, chain.Phases, size)

		flat, err := Compile(nodesNamed(ids...), nil)
		require.NoError(t, err)
		require.Len(t, flat.Phases, 1)
		assert.Len(t, flat.Phases[0].Nodes, size)
	}
}

func TestExecutionPlan_PhaseOfUnknownNode(t *testing.T) {
	plan, err := Compile(nodesNamed("a"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.PhaseOf("missing"))
}
