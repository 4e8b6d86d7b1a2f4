package services

import "sync"

// DependencyGraph tracks ordering relationships between entities for cycle
// detection. It maintains a directed graph where an edge A→B means "A
// depends on B" (A must come after B). Link operations whose relation type
// expresses ordering are rejected when they would close a cycle.
type DependencyGraph struct {
	edges      map[string]map[string]bool // Adjacency list representation of the graph
	mutex      sync.RWMutex               // Protects concurrent access to the graph
	cacheValid bool                       // Track if cycle cache is valid
	lastResult bool                       // Cache the last cycle detection result
}

// NewDependencyGraph creates and initializes a new dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		edges:      make(map[string]map[string]bool),
		cacheValid: false,
	}
}

// AddEdge records that source depends on target.
func (dg *DependencyGraph) AddEdge(source, target string) {
	dg.mutex.Lock()
	defer dg.mutex.Unlock()

	if dg.edges[source] == nil {
		dg.edges[source] = make(map[string]bool)
	}
	dg.edges[source][target] = true
	dg.cacheValid = false
}

// RemoveNode completely removes an entity from the dependency graph,
// dropping every edge where it appears as either source or target.
func (dg *DependencyGraph) RemoveNode(id string) {
	dg.mutex.Lock()
	defer dg.mutex.Unlock()

	delete(dg.edges, id)
	for source, targets := range dg.edges {
		delete(targets, id)
		if len(targets) == 0 {
			delete(dg.edges, source)
		}
	}
	dg.cacheValid = false
}

// HasCycle detects whether the graph contains a cycle. The method uses
// depth-first search with a recursion stack to detect back edges.
//
// The result is cached to avoid redundant computation when the graph
// hasn't changed. The cache is invalidated whenever edges change.
func (dg *DependencyGraph) HasCycle() bool {
	dg.mutex.Lock()
	defer dg.mutex.Unlock()

	if dg.cacheValid {
		return dg.lastResult
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for id := range dg.edges {
		if !visited[id] {
			if dg.hasCycleDFS(id, visited, recStack) {
				dg.lastResult = true
				dg.cacheValid = true
				return true
			}
		}
	}

	dg.lastResult = false
	dg.cacheValid = true
	return false
}

// hasCycleDFS performs depth-first search to detect cycles. It uses a
// recursion stack to track the current path and detect back edges.
func (dg *DependencyGraph) hasCycleDFS(id string, visited, recStack map[string]bool) bool {
	visited[id] = true
	recStack[id] = true

	if neighbors, exists := dg.edges[id]; exists {
		for neighbor := range neighbors {
			if !visited[neighbor] {
				if dg.hasCycleDFS(neighbor, visited, recStack) {
					return true
				}
			} else if recStack[neighbor] {
				return true
			}
		}
	}

	recStack[id] = false
	return false
}
