package payload

import (
	"fmt"
	"sort"

	"github.com/jacentio/arbor/record"
)

// Decode converts a generic document (as produced by a JSON or YAML decoder)
// into a node tree. The expected shape is
//
//	{
//	  "type": "post", "id": "1" | "temp_id": "t1", "method": "update",
//	  "attributes": {...},
//	  "relationships": {"author": {...}, "tags": [{...}, ...]}
//	}
//
// "operation" is accepted as an alias of "method". Numeric ids are rendered
// as text.
func Decode(doc any) (*Node, error) {
	return decodeNode(doc, "$")
}

func decodeNode(doc any, path string) (*Node, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, not an object", ErrMalformedDocument, path, doc)
	}

	n := &Node{}
	if v, ok := m["type"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s.type must be a string", ErrMalformedDocument, path)
		}
		n.Type = s
	}
	n.ID = record.KeyString(m["id"])
	if v, ok := m["temp_id"]; ok {
		n.TempID = record.KeyString(v)
	} else if v, ok := m["temp-id"]; ok {
		n.TempID = record.KeyString(v)
	}

	op := m["method"]
	if op == nil {
		op = m["operation"]
	}
	if op != nil {
		s, ok := op.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s.method must be a string", ErrMalformedDocument, path)
		}
		n.Operation = Operation(s)
	}

	if v, ok := m["attributes"]; ok && v != nil {
		attrs, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s.attributes must be an object", ErrMalformedDocument, path)
		}
		n.Attributes = make(map[string]any, len(attrs))
		for k, a := range attrs {
			n.Attributes[k] = a
		}
	}

	if v, ok := m["relationships"]; ok && v != nil {
		rels, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s.relationships must be an object", ErrMalformedDocument, path)
		}
		names := make([]string, 0, len(rels))
		for name := range rels {
			names = append(names, name)
		}
		sort.Strings(names)

		n.Relationships = make(map[string]*Relationship, len(rels))
		for _, name := range names {
			rel, err := decodeRelationship(rels[name], path+"."+name)
			if err != nil {
				return nil, err
			}
			n.Relationships[name] = rel
		}
	}
	return n, nil
}

func decodeRelationship(doc any, path string) (*Relationship, error) {
	switch v := doc.(type) {
	case nil:
		return &Relationship{}, nil
	case []any:
		rel := &Relationship{Many: true, Nodes: make([]*Node, 0, len(v))}
		for i, item := range v {
			child, err := decodeNode(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			rel.Nodes = append(rel.Nodes, child)
		}
		return rel, nil
	default:
		child, err := decodeNode(v, path)
		if err != nil {
			return nil, err
		}
		return One(child), nil
	}
}
