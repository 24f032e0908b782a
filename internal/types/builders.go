package types

import "time"

// TripleBuilder provides a fluent API for triple construction, mirroring the
// defaults-then-override style used throughout this module's builders.
type TripleBuilder struct {
	triple *Triple
}

// NewTriple creates a new TripleBuilder with sensible defaults.
func NewTriple() *TripleBuilder {
	return &TripleBuilder{
		triple: &Triple{
			Confidence: 0.5,
			Tier:       TierBronze,
			CreatedAt:  time.Now(),
			Provenance: []string{},
		},
	}
}

func (b *TripleBuilder) Subject(s string) *TripleBuilder   { b.triple.Subject = s; return b }
func (b *TripleBuilder) Predicate(p string) *TripleBuilder { b.triple.Predicate = p; return b }
func (b *TripleBuilder) Object(o string) *TripleBuilder    { b.triple.Object = o; return b }
func (b *TripleBuilder) Unit(u string) *TripleBuilder      { b.triple.Unit = u; return b }

func (b *TripleBuilder) Source(source string) *TripleBuilder {
	b.triple.PrimarySource = source
	b.triple.Provenance = append(b.triple.Provenance, source)
	return b
}

func (b *TripleBuilder) Confidence(c float64) *TripleBuilder {
	if c > 0 {
		b.triple.Confidence = c
	}
	return b
}

func (b *TripleBuilder) Build() *Triple { return b.triple }

// NodeBuilder provides a fluent API for ToT node construction.
type NodeBuilder struct {
	node *Node
}

// NewNode creates a new NodeBuilder with sensible defaults.
func NewNode() *NodeBuilder {
	now := time.Now()
	return &NodeBuilder{
		node: &Node{
			Status:    NodeCreated,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *NodeBuilder) Question(q string) *NodeBuilder { b.node.Question = q; return b }
func (b *NodeBuilder) Parent(id string) *NodeBuilder   { b.node.ParentID = id; return b }
func (b *NodeBuilder) Depth(d int) *NodeBuilder        { b.node.Depth = d; return b }
func (b *NodeBuilder) Prior(p float64) *NodeBuilder     { b.node.Prior = p; return b }
func (b *NodeBuilder) Build() *Node                     { return b.node }
