package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reef-io/reef/internal/ir"
)

// Graph is the directed acyclic dependency graph of resources. Nodes are
// resource addresses; edges point from a dependency to its dependents.
// Specs never hold pointers to each other; the adjacency lives here.
type Graph struct {
	nodes    map[string]*graphNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type graphNode struct {
	addr       string
	deps       []string // addresses this node depends on
	dependents []string // addresses that depend on this node
}

// BuildGraph constructs a dependency graph from declared resources. It
// resolves both explicit dependsOn entries and implicit ptr:// references
// in argument values. A reference to an undeclared address fails with
// *UnknownReferenceError; a cycle fails with *CycleError.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		addr := res.Addr()
		if _, exists := g.nodes[addr]; exists {
			return nil, fmt.Errorf("duplicate resource address %s", addr)
		}
		g.nodes[addr] = &graphNode{addr: addr}
	}

	for _, res := range resources {
		addr := res.Addr()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownReferenceError{Address: addr, Reference: dep}
			}
			node.deps = appendUnique(node.deps, dep)
		}

		for _, ref := range ExtractRefs(res.Arguments) {
			depAddr := RefToAddr(ref)
			if depAddr == "" {
				return nil, fmt.Errorf("%s holds malformed reference %q", addr, ref)
			}
			if _, ok := g.nodes[depAddr]; !ok {
				return nil, &UnknownReferenceError{Address: addr, Reference: depAddr}
			}
			if depAddr != addr {
				node.deps = appendUnique(node.deps, depAddr)
			}
		}
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildGraphFromState constructs a dependency graph from persisted state,
// used to order destruction when resources are no longer declared. State
// may record dependencies on addresses already removed; those become
// standalone nodes rather than errors.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*graphNode)}

	for _, res := range resources {
		addr := res.Addr()
		if _, exists := g.nodes[addr]; !exists {
			g.nodes[addr] = &graphNode{addr: addr}
		}
	}

	for _, res := range resources {
		node := g.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				g.nodes[dep] = &graphNode{addr: dep}
			}
			if dep != node.addr {
				node.deps = appendUnique(node.deps, dep)
			}
		}
	}

	if err := g.finish(); err != nil {
		return nil, err
	}
	return g, nil
}

// finish builds reverse edges and both traversal orders.
func (g *Graph) finish() error {
	for addr, node := range g.nodes {
		for _, dep := range node.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}
	return nil
}

// topoSort is a depth-first traversal with a recursion-stack marker for
// cycle detection. Roots are visited in sorted order so output is stable.
func (g *Graph) topoSort() ([]string, error) {
	const (
		unvisited = iota
		inStack
		done
	)

	marks := make(map[string]int, len(g.nodes))
	stack := []string{}
	sorted := make([]string, 0, len(g.nodes))

	var visit func(addr string) *CycleError
	visit = func(addr string) *CycleError {
		switch marks[addr] {
		case done:
			return nil
		case inStack:
			// Found a back edge; slice the recursion stack into a cycle path.
			start := 0
			for i, a := range stack {
				if a == addr {
					start = i
					break
				}
			}
			path := append(append([]string{}, stack[start:]...), addr)
			return &CycleError{Path: path}
		}

		marks[addr] = inStack
		stack = append(stack, addr)
		for _, dep := range g.nodes[addr].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		marks[addr] = done
		sorted = append(sorted, addr)
		return nil
	}

	addrs := make([]string, 0, len(g.nodes))
	for addr := range g.nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if err := visit(addr); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order, so
// dependents are destroyed before their dependencies.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of an address.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.deps
	}
	return nil
}

// Dependents returns the addresses that directly depend on addr.
func (g *Graph) Dependents(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.dependents
	}
	return nil
}

// TransitiveDeps returns every address reachable from addr along
// dependency edges.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		node, ok := g.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.deps {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Has reports whether addr is a node in the graph.
func (g *Graph) Has(addr string) bool {
	_, ok := g.nodes[addr]
	return ok
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// ExtractRefs collects all ptr:// references from an argument value,
// descending through maps and slices.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

const refScheme = "ptr://"

// RefToAddr converts a reference to the address it targets.
// ptr://docker_network/backend/id -> docker_network.backend
func RefToAddr(ref string) string {
	typ, name, _, ok := RefParts(ref)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s.%s", typ, name)
}

// RefParts splits a ptr://type/name/attribute reference. The attribute
// defaults to "id" when omitted.
func RefParts(ref string) (typ, name, attr string, ok bool) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", "", "", false
	}
	parts := strings.SplitN(ref[len(refScheme):], "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	attr = "id"
	if len(parts) == 3 && parts[2] != "" {
		attr = parts[2]
	}
	return parts[0], parts[1], attr, true
}
