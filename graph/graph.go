package graph

// Graph is an ordered set of definitions keyed by id.
type Graph struct {
	defs  map[string]*Definition
	order []string
}

// New creates a graph holding defs in order.
func New(defs ...*Definition) *Graph {
	g := &Graph{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		g.Set(d)
	}
	return g
}

// Set adds def, replacing a definition with the same id in place.
func (g *Graph) Set(def *Definition) {
	if _, ok := g.defs[def.ID]; !ok {
		g.order = append(g.order, def.ID)
	}
	g.defs[def.ID] = def
}

// Get returns the definition of id.
func (g *Graph) Get(id string) (*Definition, bool) {
	d, ok := g.defs[id]
	return d, ok
}

// Has reports whether id is defined.
func (g *Graph) Has(id string) bool {
	_, ok := g.defs[id]
	return ok
}

// Remove drops the definition of id.
func (g *Graph) Remove(id string) {
	if _, ok := g.defs[id]; !ok {
		return
	}
	delete(g.defs, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of definitions.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns the defined ids in insertion order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Definitions returns the definitions in insertion order.
func (g *Graph) Definitions() []*Definition {
	defs := make([]*Definition, 0, len(g.order))
	for _, id := range g.order {
		defs = append(defs, g.defs[id])
	}
	return defs
}

// FindTagged returns the ids of the definitions tagged name, in insertion order.
func (g *Graph) FindTagged(name string) []string {
	var ids []string
	for _, id := range g.order {
		if g.defs[id].HasTag(name) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone deep-copies the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		defs:  make(map[string]*Definition, len(g.defs)),
		order: append([]string(nil), g.order...),
	}
	for id, d := range g.defs {
		c.defs[id] = d.Clone()
	}
	return c
}
