// Package verify folds the records produced by a nested write into a single
// verdict, matching each payload node to the record that answers it.
package verify

import (
	"fmt"
	"sort"

	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
)

// Verdict is the outcome of a nested write.
type Verdict struct {
	// Valid is true when no node reported field errors.
	Valid bool `json:"valid"`

	// Object is the root record.
	Object *record.Record `json:"-"`

	// Errors holds the field errors of every invalid node by relationship
	// path ("" for the root, "tags[1].author" below it).
	Errors map[string]record.FieldErrors `json:"errors,omitempty"`
}

// Paths returns the paths of invalid nodes, sorted.
func (v *Verdict) Paths() []string {
	paths := make([]string, 0, len(v.Errors))
	for p := range v.Errors {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// At returns the field errors of the node at path, or nil.
func (v *Verdict) At(path string) record.FieldErrors {
	return v.Errors[path]
}

// Verify walks root side by side with obj and its linked records.
// A node is valid when its record has no field errors and every nested
// relationship is valid. Identity mismatches are returned as errors, not
// folded into the verdict.
func Verify(obj *record.Record, root *payload.Node) (*Verdict, error) {
	v := &Verdict{Valid: true, Object: obj}
	if obj == nil {
		if root.Operation.Severs() {
			return v, nil
		}
		return nil, &UnmatchedIdentityError{ID: root.ID, TempID: root.TempID}
	}
	if err := v.visit(obj, root, ""); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Verdict) visit(obj *record.Record, n *payload.Node, path string) error {
	if !obj.Valid() {
		v.Valid = false
		if v.Errors == nil {
			v.Errors = make(map[string]record.FieldErrors)
		}
		v.Errors[path] = obj.Errors
	}

	names := make([]string, 0, len(n.Relationships))
	for name := range n.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rel := n.Relationships[name]
		if rel == nil {
			continue
		}
		related := obj.Related(name)
		relPath := join(path, name)

		if !rel.Many {
			if err := v.visitOne(related, rel, relPath); err != nil {
				return err
			}
			continue
		}

		used := make([]bool, len(related))
		for i, child := range rel.Nodes {
			childPath := fmt.Sprintf("%s[%d]", relPath, i)
			if child == nil || (child.ID == "" && child.TempID == "") {
				return &UnidentifiedRelationshipItemError{Path: childPath}
			}

			idx := match(related, used, child)
			if idx < 0 {
				// Only a durable id may legitimately vanish from the set.
				if child.ID != "" && child.Operation.Severs() {
					continue
				}
				return &UnmatchedIdentityError{Path: childPath, ID: child.ID, TempID: child.TempID}
			}
			used[idx] = true

			if err := v.visit(related[idx], child, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Verdict) visitOne(related []*record.Record, rel *payload.Relationship, path string) error {
	if len(rel.Nodes) == 0 {
		return nil
	}
	child := rel.Nodes[0]
	if child == nil || (child.ID == "" && child.TempID == "") {
		return &UnidentifiedRelationshipItemError{Path: path}
	}
	if len(related) == 0 {
		if child.Operation.Severs() {
			return nil
		}
		return &UnmatchedIdentityError{Path: path, ID: child.ID, TempID: child.TempID}
	}
	return v.visit(related[0], child, path)
}

// match returns the index of the first unused related record answering to
// the node's id (compared as text) or temp-id, or -1.
func match(related []*record.Record, used []bool, n *payload.Node) int {
	for i, r := range related {
		if used[i] {
			continue
		}
		if n.ID != "" && r.ID == n.ID {
			return i
		}
		if n.ID == "" && r.TempID == n.TempID {
			return i
		}
	}
	return -1
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
