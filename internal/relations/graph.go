package relations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/immigration-rag/backend/internal/storage/models"
)

// Graph is a directed multigraph of relationships. Edges live in one slice
// and are indexed by upper-cased endpoint; at most one edge exists per
// source, type and target.
type Graph struct {
	edges []models.Relationship
	byKey map[string]int
	out   map[string][]int
	in    map[string][]int
	names map[string]string
}

func NewGraph(rels []models.Relationship) *Graph {
	g := &Graph{
		byKey: map[string]int{},
		out:   map[string][]int{},
		in:    map[string][]int{},
		names: map[string]string{},
	}
	for _, r := range rels {
		g.Add(r)
	}
	return g
}

// Add inserts r, or raises the confidence of an existing edge with the same
// endpoints and type.
func (g *Graph) Add(r models.Relationship) {
	if r.Source == "" || r.Target == "" {
		return
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	} else if r.Confidence > 1 {
		r.Confidence = 1
	}

	key := r.Key()
	if i, ok := g.byKey[key]; ok {
		if r.Confidence > g.edges[i].Confidence {
			g.edges[i] = r
		}
		return
	}

	src, dst := strings.ToUpper(r.Source), strings.ToUpper(r.Target)
	g.edges = append(g.edges, r)
	i := len(g.edges) - 1
	g.byKey[key] = i
	g.out[src] = append(g.out[src], i)
	g.in[dst] = append(g.in[dst], i)
	if _, ok := g.names[src]; !ok {
		g.names[src] = r.Source
	}
	if _, ok := g.names[dst]; !ok {
		g.names[dst] = r.Target
	}
}

func (g *Graph) Merge(rels []models.Relationship) {
	for _, r := range rels {
		g.Add(r)
	}
}

func (g *Graph) Len() int {
	return len(g.edges)
}

// Relationships returns a copy of every edge in insertion order.
func (g *Graph) Relationships() []models.Relationship {
	return append([]models.Relationship(nil), g.edges...)
}

// Has reports whether entity is an endpoint of any edge.
func (g *Graph) Has(entity string) bool {
	key := strings.ToUpper(entity)
	return len(g.out[key]) > 0 || len(g.in[key]) > 0
}

// Touching returns the edges with entity at either end.
func (g *Graph) Touching(entity string) []models.Relationship {
	key := strings.ToUpper(entity)
	idx := append(append([]int(nil), g.out[key]...), g.in[key]...)
	sort.Ints(idx)

	out := make([]models.Relationship, 0, len(idx))
	for n, i := range idx {
		if n > 0 && idx[n-1] == i {
			continue
		}
		out = append(out, g.edges[i])
	}
	return out
}

func (g *Graph) name(key string) string {
	if n, ok := g.names[key]; ok {
		return n
	}
	return key
}

func (g *Graph) successors(key string, kind models.RelationshipType) []string {
	var out []string
	for _, i := range g.out[key] {
		if g.edges[i].Type == kind {
			out = append(out, strings.ToUpper(g.edges[i].Target))
		}
	}
	return out
}

type Dependencies struct {
	// Prerequisites lists the transitive requirements of the entity in the
	// order they must be satisfied: every entry follows its own
	// prerequisites.
	Prerequisites []string `json:"prerequisites"`
	// Cycles holds each circular requirement chain found, closed on its
	// first entity.
	Cycles [][]string `json:"cycles,omitempty"`
}

// Dependencies walks requires edges from entity.
func (g *Graph) Dependencies(entity string) Dependencies {
	const (
		unvisited = iota
		visiting
		done
	)

	root := strings.ToUpper(entity)
	state := map[string]int{}
	var deps Dependencies
	var stack []string

	var visit func(key string)
	visit = func(key string) {
		state[key] = visiting
		stack = append(stack, key)
		for _, next := range g.successors(key, models.RelRequires) {
			switch state[next] {
			case unvisited:
				visit(next)
			case visiting:
				deps.Cycles = append(deps.Cycles, g.cycle(stack, next))
			}
		}
		stack = stack[:len(stack)-1]
		state[key] = done
		if key != root {
			deps.Prerequisites = append(deps.Prerequisites, g.name(key))
		}
	}
	visit(root)
	return deps
}

func (g *Graph) cycle(stack []string, back string) []string {
	start := 0
	for i, k := range stack {
		if k == back {
			start = i
			break
		}
	}
	var out []string
	for _, k := range stack[start:] {
		out = append(out, g.name(k))
	}
	return append(out, g.name(back))
}

// ProcessFlow returns every maximal leads_to path from entity of at most
// maxDepth hops. No path visits an entity twice.
func (g *Graph) ProcessFlow(entity string, maxDepth int) [][]string {
	if maxDepth <= 0 {
		return nil
	}

	var flows [][]string
	visited := map[string]bool{}
	var path []string

	var walk func(key string, depth int)
	walk = func(key string, depth int) {
		visited[key] = true
		path = append(path, g.name(key))

		extended := false
		if depth < maxDepth {
			for _, next := range g.successors(key, models.RelLeadsTo) {
				if visited[next] {
					continue
				}
				extended = true
				walk(next, depth+1)
			}
		}
		if !extended && len(path) > 1 {
			flows = append(flows, append([]string(nil), path...))
		}

		path = path[:len(path)-1]
		visited[key] = false
	}
	walk(strings.ToUpper(entity), 0)
	return flows
}

type Conflict struct {
	Entity1    string  `json:"entity1"`
	Entity2    string  `json:"entity2"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type MissingPrerequisite struct {
	Entity     string  `json:"entity"`
	Requires   string  `json:"requires"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type Validation struct {
	Valid                bool                  `json:"valid"`
	Conflicts            []Conflict            `json:"conflicts"`
	MissingPrerequisites []MissingPrerequisite `json:"missing_prerequisites"`
	Warnings             []string              `json:"warnings"`
}

// ValidateCombination checks entities for pairwise conflicts and for direct
// prerequisites missing from the set. Edges scoped to countries only apply
// when country is one of them; an empty country applies every edge.
func (g *Graph) ValidateCombination(entities []string, country string) Validation {
	v := Validation{
		Conflicts:            []Conflict{},
		MissingPrerequisites: []MissingPrerequisite{},
		Warnings:             []string{},
	}

	present := map[string]bool{}
	var keys []string
	for _, e := range entities {
		k := strings.ToUpper(strings.TrimSpace(e))
		if k == "" || present[k] {
			continue
		}
		present[k] = true
		keys = append(keys, k)
	}

	for i, a := range keys {
		for _, b := range keys[i+1:] {
			if r, ok := g.conflict(a, b, country); ok {
				v.Conflicts = append(v.Conflicts, Conflict{
					Entity1:    g.name(a),
					Entity2:    g.name(b),
					Reason:     r.Context,
					Confidence: r.Confidence,
				})
			}
		}
	}

	for _, k := range keys {
		if !g.Has(k) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("No relationship information found for %s", g.name(k)))
			continue
		}
		seen := map[string]bool{}
		for _, i := range g.out[k] {
			r := g.edges[i]
			target := strings.ToUpper(r.Target)
			if r.Type != models.RelRequires || present[target] || seen[target] || !applies(r, country) {
				continue
			}
			seen[target] = true
			v.MissingPrerequisites = append(v.MissingPrerequisites, MissingPrerequisite{
				Entity:     g.name(k),
				Requires:   r.Target,
				Reason:     r.Context,
				Confidence: r.Confidence,
			})
		}
		for _, c := range g.Dependencies(k).Cycles {
			v.Warnings = append(v.Warnings, "Circular prerequisite chain: "+strings.Join(c, " -> "))
		}
	}

	v.Valid = len(v.Conflicts) == 0 && len(v.MissingPrerequisites) == 0
	return v
}

func (g *Graph) conflict(a, b, country string) (models.Relationship, bool) {
	for _, i := range g.out[a] {
		r := g.edges[i]
		if r.Type == models.RelConflictsWith && strings.EqualFold(r.Target, b) && applies(r, country) {
			return r, true
		}
	}
	for _, i := range g.out[b] {
		r := g.edges[i]
		if r.Type == models.RelConflictsWith && strings.EqualFold(r.Target, a) && applies(r, country) {
			return r, true
		}
	}
	return models.Relationship{}, false
}

func applies(r models.Relationship, country string) bool {
	if country == "" || len(r.Countries) == 0 {
		return true
	}
	for _, c := range r.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}
