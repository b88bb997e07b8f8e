package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
	"github.com/jacentio/arbor/resource"
)

// Config holds configuration for the Orchestrator.
type Config struct {
	// Logger receives per-node debug logs. Default: slog.Default().
	Logger *slog.Logger
}

// Orchestrator persists payload trees through an Adapter.
// It holds no per-request state and is safe for concurrent use when the
// registry is sealed and the adapter is.
type Orchestrator struct {
	adapter  Adapter
	registry *resource.Registry
	logger   *slog.Logger
}

// New creates a new Orchestrator.
func New(adapter Adapter, registry *resource.Registry, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		adapter:  adapter,
		registry: registry,
		logger:   logger,
	}
}

// Persist writes root (of resource type typ) and every related node,
// depth-first: belongs-to parents, then the node, then its children.
// The whole tree is normalized first, so malformed input fails before any
// write. Field errors are recorded on the records and never returned;
// storage errors abort the walk. Persist does not open a transaction;
// callers that want one wrap the call in Adapter.Transaction.
//
// A destroyed record is deleted only after every link to it from this
// request has been cut: children are deleted after the owner's link is
// removed, belongs-to parents after the owner's key has been cleared.
func (o *Orchestrator) Persist(ctx context.Context, root *payload.Node, typ string) (*Result, error) {
	d, err := o.registry.Lookup(typ)
	if err != nil {
		return nil, err
	}
	if err := payload.Check(root, d, o.registry); err != nil {
		return nil, err
	}
	op, err := root.ResolveRoot()
	if err != nil {
		return nil, &payload.MalformedRelationshipError{Resource: typ, Index: -1, Reason: err.Error()}
	}

	w := &walk{
		Orchestrator: o,
		cache:        make(map[cacheKey]*record.Record),
	}
	res, err := w.persist(ctx, root, op, d, nil, "")
	if err != nil {
		return nil, err
	}
	if err := w.finish(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// cacheKey identifies a record within one request by id or temp-id.
type cacheKey struct {
	typ  string
	id   string
	temp bool
}

// parentLink is the owner side of a post-group edge.
type parentLink struct {
	owner *record.Record
	assoc *resource.Association
}

// walk is the state of one Persist call.
type walk struct {
	*Orchestrator
	cache map[cacheKey]*record.Record
}

func (w *walk) persist(ctx context.Context, n *payload.Node, op payload.Operation, d *resource.Descriptor, parent *parentLink, path string) (*Result, error) {
	edges, err := payload.Normalize(n, d, w.registry)
	if err != nil {
		return nil, err
	}

	res := &Result{Type: d.Type, Operation: op, TempID: n.TempID, desc: d, path: path}
	attrs := make(map[string]any, len(n.Attributes))
	for k, v := range n.Attributes {
		attrs[k] = v
	}

	// 1. Parents first, 2. their keys into our attributes
	pre := make([]*Result, len(edges.Pre))
	for i, e := range edges.Pre {
		child, err := w.persist(ctx, e.Node, e.Operation, e.Target, nil, e.Path(path))
		if err != nil {
			return nil, err
		}
		pre[i] = child
		res.addChild(e.Association.Name, child)
		wireOwnerKey(attrs, e.Association, child)
	}
	// Parents are finished with the owner: a destroyed parent may still be
	// referenced until the owner is saved or deleted.
	res.pending = pre

	var edits []setEdit
	if parent != nil {
		edits = wireRelatedKey(attrs, parent.assoc, parent.owner, op)
	}

	// 3. Self
	obj, err := w.write(ctx, n, op, d, attrs, edits, path)
	if err != nil {
		return nil, err
	}
	res.Object = obj

	// A record about to be destroyed takes no new links, but its severed
	// ones are still cut.
	linked := func(related payload.Operation) bool {
		return obj != nil && (op != payload.Destroy || related.Severs())
	}

	// 4. Link resolved parents
	for i, e := range edges.Pre {
		if !linked(pre[i].Operation) {
			continue
		}
		if err := w.link(ctx, obj, pre[i], e.Association); err != nil {
			return nil, err
		}
	}

	// 5. Children, with this node as owner, 6. link them
	for _, e := range edges.Post {
		var pl *parentLink
		if linked(e.Operation) {
			pl = &parentLink{owner: obj, assoc: e.Association}
		}
		child, err := w.persist(ctx, e.Node, e.Operation, e.Target, pl, e.Path(path))
		if err != nil {
			return nil, err
		}
		res.addChild(e.Association.Name, child)
		if pl != nil {
			if err := w.link(ctx, obj, child, e.Association); err != nil {
				return nil, err
			}
		}
		if err := w.finish(ctx, child); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// finish applies the delete of a destroyed result, then finishes the
// parents it referenced. A destroyed parent is kept when the owner failed
// to save, since the stored owner row still holds its key.
func (w *walk) finish(ctx context.Context, res *Result) error {
	if res.Operation == payload.Destroy && res.Object != nil {
		if err := w.destroy(ctx, res); err != nil {
			return err
		}
	}

	held := res.Object != nil && res.Object.Persisted() && !res.Object.Valid()
	for _, p := range res.pending {
		if held && p.Operation == payload.Destroy && p.Object != nil {
			w.logger.Warn("kept record referenced by an invalid owner",
				"resource", p.Type,
				"id", p.Object.ID,
				"path", p.path,
			)
			continue
		}
		if err := w.finish(ctx, p); err != nil {
			return err
		}
	}
	res.pending = nil
	return nil
}

func (w *walk) destroy(ctx context.Context, res *Result) error {
	d, id := res.desc, res.Object.ID
	logger := w.logger.With("resource", d.Type, "operation", string(payload.Destroy), "path", res.path)

	delete(w.cache, cacheKey{typ: d.Type, id: id})
	res.Object = nil
	if err := w.adapter.Delete(ctx, d, id); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			logger.Warn("record to destroy not found", "id", id)
			return nil
		}
		return fmt.Errorf("destroy %s %s: %w", d.Type, id, err)
	}
	logger.Debug("destroyed record", "id", id)
	return nil
}

// write applies the node's own operation through the adapter.
func (w *walk) write(ctx context.Context, n *payload.Node, op payload.Operation, d *resource.Descriptor, attrs map[string]any, edits []setEdit, path string) (*record.Record, error) {
	logger := w.logger.With("resource", d.Type, "operation", string(op), "path", path)

	switch op {
	case payload.Create:
		tempKey := cacheKey{typ: d.Type, id: n.TempID, temp: true}
		rec, seen := w.cache[tempKey]
		if !seen {
			rec = record.New(d.Type)
			rec.TempID = n.TempID
		}
		applySetEdits(attrs, rec, edits)
		if seen && len(attrs) == 0 {
			return rec, nil
		}
		if err := w.save(ctx, d, rec, attrs); err != nil {
			return nil, fmt.Errorf("create %s: %w", d.Type, err)
		}
		if n.TempID != "" {
			w.cache[tempKey] = rec
		}
		if rec.Persisted() {
			w.cache[cacheKey{typ: d.Type, id: rec.ID}] = rec
		}
		logger.Debug("created record", "id", rec.ID, "tempID", rec.TempID, "valid", rec.Valid())
		return rec, nil

	case payload.Destroy:
		// Deleted by finish once its links are cut.
		rec, err := w.load(ctx, d, n.ID)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				logger.Warn("record to destroy not found", "id", n.ID)
				return nil, nil
			}
			return nil, fmt.Errorf("load %s %s: %w", d.Type, n.ID, err)
		}
		return rec, nil

	default:
		// update, disassociate: the record itself is only updated
		rec, err := w.load(ctx, d, n.ID)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				logger.Warn("record not found", "id", n.ID)
				return nil, nil
			}
			return nil, fmt.Errorf("load %s %s: %w", d.Type, n.ID, err)
		}
		applySetEdits(attrs, rec, edits)
		if len(attrs) == 0 {
			return rec, nil
		}
		if err := w.save(ctx, d, rec, attrs); err != nil {
			return nil, fmt.Errorf("update %s %s: %w", d.Type, n.ID, err)
		}
		logger.Debug("updated record", "id", rec.ID, "valid", rec.Valid())
		return rec, nil
	}
}

func (w *walk) save(ctx context.Context, d *resource.Descriptor, rec *record.Record, attrs map[string]any) error {
	fe, err := w.adapter.Save(ctx, d, rec, attrs)
	if err != nil {
		return err
	}
	if len(fe) > 0 {
		if rec.Errors == nil {
			rec.Errors = record.FieldErrors{}
		}
		rec.Errors.Merge(fe)
	}
	return nil
}

func (w *walk) load(ctx context.Context, d *resource.Descriptor, id string) (*record.Record, error) {
	key := cacheKey{typ: d.Type, id: id}
	if rec, ok := w.cache[key]; ok {
		return rec, nil
	}
	rec, err := w.adapter.Load(ctx, d, id)
	if err != nil {
		return nil, err
	}
	w.cache[key] = rec
	return rec, nil
}

// link connects owner and a related result after both sides are written.
// The in-memory link is always made so invalid records stay reachable for
// verification; the storage link needs two valid, persisted records.
// Unlinking only needs both records to exist.
func (w *walk) link(ctx context.Context, owner *record.Record, related *Result, a *resource.Association) error {
	if owner == nil || related.Object == nil {
		return nil
	}

	if related.Operation.Severs() {
		owner.Unlink(a.Name, related.Object)
		if !owner.Persisted() || !related.Object.Persisted() {
			return nil
		}
		if err := w.adapter.Disassociate(ctx, owner, related.Object, a); err != nil {
			return fmt.Errorf("disassociate %s.%s: %w", owner.Type, a.Name, err)
		}
		return nil
	}

	owner.Link(a.Name, related.Object)
	if !owner.Persisted() || !related.Object.Persisted() || !owner.Valid() || !related.Object.Valid() {
		return nil
	}
	if err := w.adapter.Associate(ctx, owner, related.Object, a); err != nil {
		return fmt.Errorf("associate %s.%s: %w", owner.Type, a.Name, err)
	}
	return nil
}
