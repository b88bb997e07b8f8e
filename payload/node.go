// Package payload models the nested write request and normalizes each node's
// relationships into ordered edges for the persistence orchestrator.
package payload

// Operation is the write operation requested for a node.
type Operation string

const (
	None         Operation = ""
	Create       Operation = "create"
	Update       Operation = "update"
	Destroy      Operation = "destroy"
	Disassociate Operation = "disassociate"
)

// Valid reports whether o is a known operation (None included).
func (o Operation) Valid() bool {
	switch o {
	case None, Create, Update, Destroy, Disassociate:
		return true
	}
	return false
}

// Severs reports whether the operation cuts the link to the parent
// (destroy or disassociate).
func (o Operation) Severs() bool {
	return o == Destroy || o == Disassociate
}

// Identity identifies a node by durable id or by temp-id, never both.
type Identity struct {
	ID     string
	TempID string
}

// Node is one resource in the request tree.
type Node struct {
	// Type is the resource type. Required for polymorphic relationships,
	// optional elsewhere.
	Type string

	Identity

	// Operation defaults from the identity when empty (see Resolve).
	Operation Operation

	Attributes map[string]any

	Relationships map[string]*Relationship
}

// Relationship holds one related node, or an ordered list of them.
type Relationship struct {
	Many  bool
	Nodes []*Node
}

// One builds a singular relationship.
func One(n *Node) *Relationship {
	return &Relationship{Nodes: []*Node{n}}
}

// Many builds an array-valued relationship.
func Many(nodes ...*Node) *Relationship {
	return &Relationship{Many: true, Nodes: nodes}
}

// Resolve returns the effective operation of a relationship node:
// the explicit operation, or update when an id is present, or create when a
// temp-id is present. The identity must agree with the operation.
func (n *Node) Resolve() (Operation, error) {
	if n.ID != "" && n.TempID != "" {
		return None, errBoth
	}
	if !n.Operation.Valid() {
		return None, errUnknownOperation(n.Operation)
	}

	switch n.Operation {
	case None:
		switch {
		case n.ID != "":
			return Update, nil
		case n.TempID != "":
			return Create, nil
		}
		return None, errMissingIdentity
	case Create:
		if n.TempID == "" {
			return None, errCreateNeedsTempID
		}
	default:
		if n.ID == "" {
			return None, errNeedsID(n.Operation)
		}
	}
	return n.Operation, nil
}

// ResolveRoot returns the effective operation of the root node. Unlike
// relationship nodes, a root create needs no temp-id.
func (n *Node) ResolveRoot() (Operation, error) {
	if n.Operation == Create || (n.Operation == None && n.ID == "") {
		if n.ID != "" {
			return None, errRootCreateWithID
		}
		return Create, nil
	}
	return n.Resolve()
}
