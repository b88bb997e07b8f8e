package payload

import (
	"sort"
	"strconv"

	"github.com/jacentio/arbor/resource"
)

// Edge is one normalized relationship entry of a node.
type Edge struct {
	// Association is the owner-side association descriptor.
	Association *resource.Association

	// Target is the related resource descriptor (resolved for polymorphic kinds).
	Target *resource.Descriptor

	// Node is the related node.
	Node *Node

	// Operation is the effective operation of Node.
	Operation Operation

	// Index is the position within an array relationship, -1 for singular.
	Index int
}

// Path returns the relationship path of the edge below prefix
// (e.g., "tags[1]" or "post.author").
func (e Edge) Path(prefix string) string {
	p := e.Association.Name
	if e.Index >= 0 {
		p += "[" + strconv.Itoa(e.Index) + "]"
	}
	if prefix == "" {
		return p
	}
	return prefix + "." + p
}

// Edges splits a node's direct relationships by persistence order.
type Edges struct {
	// Pre holds edges whose related record must persist before the node
	// (belongs_to, polymorphic_belongs_to).
	Pre []Edge

	// Post holds edges persisted after the node, with the node as parent.
	Post []Edge
}

// Normalize turns the direct relationships of n into edges, in the
// descriptor's association order. Grandchildren are not visited.
func Normalize(n *Node, d *resource.Descriptor, reg *resource.Registry) (*Edges, error) {
	names := make([]string, 0, len(n.Relationships))
	for name := range n.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.Association(name); !ok {
			return nil, &resource.UnknownAssociationError{Resource: d.Type, Association: name}
		}
	}

	edges := &Edges{}
	for _, assoc := range d.Associations {
		rel, ok := n.Relationships[assoc.Name]
		if !ok || rel == nil {
			continue
		}

		malformed := func(index int, reason string) error {
			return &MalformedRelationshipError{
				Resource:    d.Type,
				Association: assoc.Name,
				Index:       index,
				Reason:      reason,
			}
		}

		if assoc.Kind.Singular() && (rel.Many || len(rel.Nodes) > 1) {
			return nil, malformed(-1, "expects a single related resource")
		}

		for i, child := range rel.Nodes {
			index := -1
			if rel.Many {
				index = i
			}
			if child == nil {
				return nil, malformed(index, "null entry")
			}

			op, err := child.Resolve()
			if err != nil {
				return nil, malformed(index, err.Error())
			}

			target, err := reg.Target(assoc, child.Type)
			if err != nil {
				if assoc.Kind.Polymorphic() && child.Type == "" {
					return nil, malformed(index, "polymorphic relationship requires a type")
				}
				return nil, malformed(index, err.Error())
			}

			e := Edge{
				Association: assoc,
				Target:      target,
				Node:        child,
				Operation:   op,
				Index:       index,
			}
			if assoc.Kind.ResolvesFirst() {
				edges.Pre = append(edges.Pre, e)
			} else {
				edges.Post = append(edges.Post, e)
			}
		}
	}
	return edges, nil
}

// Check normalizes the whole tree below root so that malformed input is
// rejected before anything is written.
func Check(root *Node, d *resource.Descriptor, reg *resource.Registry) error {
	if _, err := root.ResolveRoot(); err != nil {
		return &MalformedRelationshipError{Resource: d.Type, Index: -1, Reason: err.Error()}
	}
	return check(root, d, reg)
}

func check(n *Node, d *resource.Descriptor, reg *resource.Registry) error {
	edges, err := Normalize(n, d, reg)
	if err != nil {
		return err
	}
	for _, group := range [][]Edge{edges.Pre, edges.Post} {
		for _, e := range group {
			if err := check(e.Node, e.Target, reg); err != nil {
				return err
			}
		}
	}
	return nil
}
