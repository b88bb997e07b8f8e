package persist

import (
	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// Result is the outcome of persisting one payload node.
type Result struct {
	// Type is the resource type of the node.
	Type string

	// Object is the persisted record. Nil when the node was destroyed or its
	// record could not be found.
	Object *record.Record

	// Operation is the effective operation applied.
	Operation payload.Operation

	// TempID is the temp-id the node was created under, if any.
	TempID string

	// Children holds the results of the node's relationships, by association name.
	Children map[string][]*Result

	desc    *resource.Descriptor
	path    string
	pending []*Result
}

// Child returns the first result under an association, or nil.
func (r *Result) Child(association string) *Result {
	if list := r.Children[association]; len(list) > 0 {
		return list[0]
	}
	return nil
}

func (r *Result) addChild(association string, c *Result) {
	if r.Children == nil {
		r.Children = make(map[string][]*Result)
	}
	r.Children[association] = append(r.Children[association], c)
}
