package catalog

import (
	"errors"
	"sort"
)

// ErrCyclicReference marks a category parent link dropped to break a cycle.
var ErrCyclicReference = errors.New("catalog: cyclic category reference")

// CategoryLink is a category and the parent it points at. An empty
// ParentUpstreamID means the category is a root.
type CategoryLink struct {
	UpstreamID       string
	ParentUpstreamID string
}

// CategoryResolution is the outcome of resolving a set of links.
type CategoryResolution struct {
	// Links holds every category with its accepted parent, sorted by upstream id
	Links []CategoryLink
	// Dropped holds the edges removed to break cycles
	Dropped []CategoryLink
	// Dangling holds edges whose parent is not part of the graph; those categories become roots
	Dangling []CategoryLink
}

const noParent = -1

type categoryNode struct {
	upstreamID string
	claimed    string
	parent     int
}

// CategoryGraph is an arena of category nodes with index-based parent references.
type CategoryGraph struct {
	nodes []categoryNode
	index map[string]int
}

// NewCategoryGraph builds a graph from links. A later link for the same
// category replaces an earlier one.
func NewCategoryGraph(links []CategoryLink) *CategoryGraph {
	g := &CategoryGraph{index: make(map[string]int, len(links))}
	for _, l := range links {
		g.Put(l)
	}
	return g
}

// Put adds or replaces the link of a category
func (g *CategoryGraph) Put(l CategoryLink) {
	if i, ok := g.index[l.UpstreamID]; ok {
		g.nodes[i].claimed = l.ParentUpstreamID
		return
	}
	g.index[l.UpstreamID] = len(g.nodes)
	g.nodes = append(g.nodes, categoryNode{upstreamID: l.UpstreamID, claimed: l.ParentUpstreamID, parent: noParent})
}

// Len returns the number of categories in the graph
func (g *CategoryGraph) Len() int {
	return len(g.nodes)
}

// Resolve links every node to its parent and breaks cycles. Nodes are walked
// in upstream id order; when a walk reaches a node already on the current
// path, the edge that closed the loop is dropped. For A->B->A this keeps
// A->B and makes B a root.
func (g *CategoryGraph) Resolve() CategoryResolution {
	var res CategoryResolution

	for i := range g.nodes {
		n := &g.nodes[i]
		n.parent = noParent
		if n.claimed == "" {
			continue
		}
		p, ok := g.index[n.claimed]
		if !ok {
			res.Dangling = append(res.Dangling, CategoryLink{UpstreamID: n.upstreamID, ParentUpstreamID: n.claimed})
			continue
		}
		n.parent = p
	}

	order := make([]int, len(g.nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return g.nodes[order[a]].upstreamID < g.nodes[order[b]].upstreamID
	})

	const (
		unvisited = iota
		onPath
		done
	)
	state := make([]uint8, len(g.nodes))
	path := make([]int, 0, 8)

	for _, start := range order {
		path = path[:0]
		for cur := start; cur != noParent; cur = g.nodes[cur].parent {
			if state[cur] == done {
				break
			}
			if state[cur] == onPath {
				last := path[len(path)-1]
				res.Dropped = append(res.Dropped, CategoryLink{
					UpstreamID:       g.nodes[last].upstreamID,
					ParentUpstreamID: g.nodes[last].claimed,
				})
				g.nodes[last].parent = noParent
				break
			}
			state[cur] = onPath
			path = append(path, cur)
		}
		for _, i := range path {
			state[i] = done
		}
	}

	res.Links = make([]CategoryLink, 0, len(g.nodes))
	for _, i := range order {
		n := g.nodes[i]
		link := CategoryLink{UpstreamID: n.upstreamID}
		if n.parent != noParent {
			link.ParentUpstreamID = g.nodes[n.parent].upstreamID
		}
		res.Links = append(res.Links, link)
	}
	return res
}
