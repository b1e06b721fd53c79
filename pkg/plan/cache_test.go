package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zosmed/engine/pkg/models"
	"github.com/zosmed/engine/pkg/testutil"
)

func TestCache_ReusesPlanForIdenticalGraph(t *testing.T) {
	cache := NewCache(4, Options{})
	nodes := nodesNamed("a", "b")
	edges := testutil.Chain("a", "b")

	first, err := cache.Compile(nodes, edges)
	require.NoError(t, err)

	second, err := cache.Compile(nodesNamed("a", "b"), testutil.Chain("a", "b"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_EditedGraphCompilesFresh(t *testing.T) {
	cache := NewCache(4, Options{})

	first, err := cache.Compile(nodesNamed("a", "b"), testutil.Chain("a", "b"))
	require.NoError(t, err)

	second, err := cache.Compile(nodesNamed("a", "b"), nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Len(t, first.Phases, 2)
	assert.Len(t, second.Phases, 1)
}

func TestCache_DoesNotCacheErrors(t *testing.T) {
	cache := NewCache(4, Options{})

	_, err := cache.Compile(nil, nil)
	require.ErrorIs(t, err, ErrNoEntryPoint)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := NewCache(2, Options{})

	graphs := [][]models.Node{nodesNamed("a"), nodesNamed("b"), nodesNamed("c")}
	for _, nodes := range graphs {
		_, err := cache.Compile(nodes, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.Len())
}

func TestFingerprint_DependsOnConfig(t *testing.T) {
	a, err := Fingerprint([]models.Node{testutil.SendDM("dm", "hello")}, nil)
	require.NoError(t, err)

	b, err := Fingerprint([]models.Node{testutil.SendDM("dm", "goodbye")}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
