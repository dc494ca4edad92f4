package registry

import (
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"github.com/itsneelabh/ordregistry/core"
)

// DependencyNode is the graph view of one resource.
type DependencyNode struct {
	ResourceID   string   `json:"resourceId"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
	Depth        int      `json:"depth"`
	CriticalPath bool     `json:"criticalPath"`

	// Dangling lists dependencies that name resources absent from the cache.
	Dangling []string `json:"dangling,omitempty"`
}

// GraphMetrics aggregates the whole graph.
type GraphMetrics struct {
	MaxDepth      int     `json:"maxDepth"`
	AvgDepth      float64 `json:"avgDepth"`
	CriticalPaths int     `json:"criticalPaths"`
	TotalNodes    int     `json:"totalNodes"`
	Dangling      int     `json:"danglingReferences"`
	Cyclic        int     `json:"cyclicNodes"`
}

// DependencyGraph is the directed "requires" graph between cached resources.
type DependencyGraph struct {
	nodes   map[string]*DependencyNode
	ids     []string
	metrics GraphMetrics
}

// AnalyzeDependencies builds one node per well-formed resource, computes
// dependents as the transpose of dependencies, then depth and the
// critical path flag of every node.
//
// Depth is 0 for a node without dependencies and otherwise 1 plus the
// largest child depth. Within one traversal a node already on the current
// path contributes 0, so cycles yield finite depths instead of errors.
func AnalyzeDependencies(resources map[string]*core.Resource, thresholds core.GraphConfig) *DependencyGraph {
	g := &DependencyGraph{nodes: make(map[string]*DependencyNode)}

	for id, r := range resources {
		if r.Malformed {
			continue
		}
		g.nodes[id] = &DependencyNode{
			ResourceID:   id,
			Dependencies: dedupe(r.Dependencies),
			Dependents:   []string{},
		}
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	for _, id := range g.ids {
		n := g.nodes[id]
		for _, dep := range n.Dependencies {
			target, ok := g.nodes[dep]
			if !ok {
				n.Dangling = append(n.Dangling, dep)
				continue
			}
			target.Dependents = append(target.Dependents, id)
		}
	}

	d := newDepthCalculator(g)
	total := 0
	for _, id := range g.ids {
		n := g.nodes[id]
		n.Depth = d.depth(id)
		n.CriticalPath = len(n.Dependents) > thresholds.FanInThreshold ||
			len(n.Dependencies) > thresholds.FanOutThreshold

		total += n.Depth
		if n.Depth > g.metrics.MaxDepth {
			g.metrics.MaxDepth = n.Depth
		}
		if n.CriticalPath {
			g.metrics.CriticalPaths++
		}
		g.metrics.Dangling += len(n.Dangling)
		if d.cyclic[id] {
			g.metrics.Cyclic++
		}
	}
	g.metrics.TotalNodes = len(g.ids)
	if len(g.ids) > 0 {
		g.metrics.AvgDepth = float64(total) / float64(len(g.ids))
	}
	return g
}

// Node returns a copy of the node for id.
func (g *DependencyGraph) Node(id string) (DependencyNode, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return DependencyNode{}, false
	}
	cp := *n
	cp.Dependencies = append([]string{}, n.Dependencies...)
	cp.Dependents = append([]string{}, n.Dependents...)
	cp.Dangling = append([]string(nil), n.Dangling...)
	return cp, true
}

// Nodes returns copies of all nodes in id order.
func (g *DependencyGraph) Nodes() []DependencyNode {
	out := make([]DependencyNode, 0, len(g.ids))
	for _, id := range g.ids {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.ids)
}

// Metrics returns the aggregate graph metrics.
func (g *DependencyGraph) Metrics() GraphMetrics {
	return g.metrics
}

// bitset marks members of one strongly connected component by position.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) has(i int) bool {
	return b[i/64]&(1<<(uint(i)%64)) != 0
}

// with returns a copy of b with i set.
func (b bitset) with(i int) bitset {
	out := append(bitset(nil), b...)
	out[i/64] |= 1 << (uint(i) % 64)
	return out
}

func (b bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

func (b bitset) key(pos int) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(pos))
	for _, w := range b {
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(w, 16))
	}
	return sb.String()
}

// depthCalculator evaluates the path-sensitive depth recursion.
//
// Every node an SCC can reach outside itself lies downstream of it, so no
// ancestor on the current path is reachable from there. The depth of a node
// therefore depends only on the part of the path inside its own component:
// nodes outside cycles memoize on the node alone, nodes inside a cycle on
// (node, in-component path). Inside a component the search stops as soon as
// a child reaches the longest chain the unvisited members allow.
type depthCalculator struct {
	g       *DependencyGraph
	cyclic  map[string]bool
	comp    map[string]int
	pos     map[string]int
	members [][]string

	memo    map[string]int
	inner   map[string]int
	exitMax map[int]int
}

func newDepthCalculator(g *DependencyGraph) *depthCalculator {
	comp, members := components(g)
	d := &depthCalculator{
		g:       g,
		cyclic:  make(map[string]bool),
		comp:    comp,
		pos:     make(map[string]int),
		members: members,
		memo:    make(map[string]int),
		inner:   make(map[string]int),
		exitMax: make(map[int]int),
	}
	for _, m := range members {
		for i, id := range m {
			d.pos[id] = i
		}
		if len(m) > 1 {
			for _, id := range m {
				d.cyclic[id] = true
			}
		}
	}
	for _, id := range g.ids {
		for _, dep := range g.nodes[id].Dependencies {
			if dep == id {
				d.cyclic[id] = true
			}
		}
	}
	return d
}

// depth is the depth of id reached with no ancestor inside its component.
func (d *depthCalculator) depth(id string) int {
	n, ok := d.g.nodes[id]
	if !ok || len(n.Dependencies) == 0 {
		return 0
	}
	if v, ok := d.memo[id]; ok {
		return v
	}

	var result int
	if d.cyclic[id] {
		result = d.within(id, newBitset(len(d.members[d.comp[id]])))
	} else {
		best := 0
		for _, dep := range n.Dependencies {
			if v := d.depth(dep); v > best {
				best = v
			}
		}
		result = best + 1
	}
	d.memo[id] = result
	return result
}

// within is the depth of id when the members in onPath are its ancestors.
func (d *depthCalculator) within(id string, onPath bitset) int {
	key := onPath.key(d.pos[id])
	if v, ok := d.inner[key]; ok {
		return v
	}

	c := d.comp[id]
	visited := onPath.with(d.pos[id])
	bound := len(d.members[c]) - onPath.count() + d.exitDepth(c)

	best := 0
	for _, dep := range d.g.nodes[id].Dependencies {
		var v int
		switch {
		case d.g.nodes[dep] == nil:
		case d.comp[dep] != c:
			v = d.depth(dep)
		case !visited.has(d.pos[dep]):
			v = d.within(dep, visited)
		}
		if v > best {
			best = v
		}
		if best+1 >= bound {
			break
		}
	}
	d.inner[key] = best + 1
	return best + 1
}

// exitDepth is the largest depth of any node component c depends on
// outside itself.
func (d *depthCalculator) exitDepth(c int) int {
	if v, ok := d.exitMax[c]; ok {
		return v
	}
	best := 0
	for _, id := range d.members[c] {
		for _, dep := range d.g.nodes[id].Dependencies {
			if d.g.nodes[dep] == nil || d.comp[dep] == c {
				continue
			}
			if v := d.depth(dep); v > best {
				best = v
			}
		}
	}
	d.exitMax[c] = best
	return best
}

// components assigns every node to its strongly connected component using
// Tarjan's algorithm. Members are listed in discovery order.
func components(g *DependencyGraph) (map[string]int, [][]string) {
	var (
		index   = 0
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		comp    = make(map[string]int)
		members [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.nodes[v].Dependencies {
			if _, ok := g.nodes[w]; !ok {
				continue
			}
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && indices[w] < lowlink[v] {
				lowlink[v] = indices[w]
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp[w] = len(members)
			component = append(component, w)
			if w == v {
				break
			}
		}
		members = append(members, component)
	}

	for _, id := range g.ids {
		if _, seen := indices[id]; !seen {
			strongConnect(id)
		}
	}
	return comp, members
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
