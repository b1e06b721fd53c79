package plan

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/zosmed/engine/pkg/models"
)

const defaultCacheSize = 256

// Cache memoizes compiled plans keyed by a content hash of the graph, so an
// edited graph always compiles fresh. Compilation errors are never cached.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	plans   map[uint64]*ExecutionPlan
	order   []uint64
	opts    Options
}

// NewCache creates a cache holding at most maxSize plans; maxSize <= 0 uses the default.
func NewCache(maxSize int, opts Options) *Cache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}

	return &Cache{
		maxSize: maxSize,
		plans:   make(map[uint64]*ExecutionPlan, maxSize),
		opts:    opts,
	}
}

// Compile returns the cached plan for the graph, compiling it on a miss.
func (c *Cache) Compile(nodes []models.Node, edges []models.Edge) (*ExecutionPlan, error) {
	key, err := Fingerprint(nodes, edges)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached, ok := c.plans[key]
	c.mu.Unlock()

	if ok {
		return cached, nil
	}

	compiled, err := CompileWithOptions(nodes, edges, c.opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.plans[key]; !exists {
		if len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.plans, oldest)
		}

		c.plans[key] = compiled
		c.order = append(c.order, key)
	}

	return compiled, nil
}

// Len returns the number of cached plans.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.plans)
}

// Fingerprint hashes the JSON encoding of the graph.
func Fingerprint(nodes []models.Node, edges []models.Edge) (uint64, error) {
	data, err := json.Marshal(struct {
		Nodes []models.Node `json:"nodes"`
		Edges []models.Edge `json:"edges"`
	}{nodes, edges})
	if err != nil {
		return 0, fmt.Errorf("failed to fingerprint graph: %w", err)
	}

	return xxhash.Sum64(data), nil
}
