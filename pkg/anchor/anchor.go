// Package anchor implements the persistence half of graph entities: anchors
// with permission records, change tracking, the bulk write commit protocol
// and the walker traversal engine.
package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/permission"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

// Entity is implemented by *Anchor, *NodeAnchor, *EdgeAnchor and *WalkerAnchor.
type Entity interface {
	Base() *Anchor
	RefID() string
	Sync(ctx context.Context, ec *ExecContext, asker *NodeAnchor) (Architype, error)
	Save(ctx context.Context, ec *ExecContext, sess datastore.Session) (*BulkWrite, error)
	Destroy(ctx context.Context, ec *ExecContext) error
}

// Anchor is the durable identity of a graph entity. Used on its own it is the
// generic anchor of an ObjectArchitype, which is never persisted.
type Anchor struct {
	ID     types.ID
	Name   string
	Root   types.ID
	Access permission.Permission

	kind      types.AnchorType
	architype Architype
	connected bool
	changes   changeSet
	hashes    map[string]uint64
	outer     Entity
}

func newAnchor(kind types.AnchorType, name string, id types.ID) Anchor {
	return Anchor{
		ID:     id,
		Name:   name,
		Access: permission.New(),
		kind:   kind,
		hashes: map[string]uint64{},
	}
}

func (a *Anchor) Base() *Anchor { return a }

func (a *Anchor) Type() types.AnchorType { return a.kind }

func (a *Anchor) Reference() types.Ref {
	return types.NewRef(a.kind, a.Name, a.ID)
}

// RefID is the reference string {kind}:{type_name}:{hex_id}.
func (a *Anchor) RefID() string {
	return a.Reference().String()
}

// Architype returns the resident architype without an access check.
func (a *Anchor) Architype() Architype { return a.architype }

func (a *Anchor) IsConnected() bool { return a.connected }

func (a *Anchor) HasChanges() bool { return !a.changes.empty() }

// Changes renders the pending diff in store operator form.
func (a *Anchor) Changes() datastore.Update { return a.changes.update() }

func (a *Anchor) entity() Entity {
	if a.outer != nil {
		return a.outer
	}
	return a
}

func (a *Anchor) fields() logrus.Fields {
	return logrus.Fields{"anchor": a.RefID()}
}

// Unrestrict sets the global access level.
func (a *Anchor) Unrestrict(level types.AccessLevel) {
	level = level.Clamp()
	if level != a.Access.All {
		a.Access.All = level
		a.changes.setField("access.all", int64(level))
	}
}

// Restrict removes global access.
func (a *Anchor) Restrict() {
	if a.Access.All > types.NoAccess {
		a.Access.All = types.NoAccess
		a.changes.setField("access.all", int64(types.NoAccess))
	}
}

// WhitelistRoots switches the polarity of the roots scope.
func (a *Anchor) WhitelistRoots(whitelist bool) {
	if whitelist != a.Access.Roots.Whitelist {
		a.Access.Roots.Whitelist = whitelist
		a.changes.setField("access.roots.whitelist", whitelist)
	}
}

// AllowRoot lets root reach this anchor at level. Under blacklist polarity it
// lifts a restriction instead.
func (a *Anchor) AllowRoot(root Entity, level types.AccessLevel) {
	if a.Access.Roots.Whitelist {
		a.grantRoot(root.RefID(), level)
	} else {
		a.revokeRoot(root.RefID())
	}
}

// DisallowRoot removes root's override. Under blacklist polarity it holds
// root to level instead.
func (a *Anchor) DisallowRoot(root Entity, level types.AccessLevel) {
	if a.Access.Roots.Whitelist {
		a.revokeRoot(root.RefID())
	} else {
		a.grantRoot(root.RefID(), level)
	}
}

func rootAccessPath(principal string) string {
	return "access.roots.anchors." + principal
}

func (a *Anchor) grantRoot(principal string, level types.AccessLevel) {
	level = level.Clamp()
	if a.Access.Roots.Grant(principal, level) {
		a.changes.setField(rootAccessPath(principal), int64(level))
	}
}

func (a *Anchor) revokeRoot(principal string) {
	if a.Access.Roots.Revoke(principal) {
		a.changes.unsetField(rootAccessPath(principal))
	}
}

// Sync returns the architype when it is visible to the context principal.
// A non resident anchor is loaded from the store first. Missing and
// inaccessible anchors both yield (nil, nil).
func (a *Anchor) Sync(ctx context.Context, ec *ExecContext, asker *NodeAnchor) (Architype, error) {
	var askerBase *Anchor
	if asker != nil {
		askerBase = &asker.Anchor
	}

	if a.architype != nil {
		if ec.hasReadAccess(askerBase, a) {
			return a.architype, nil
		}
		return nil, nil
	}

	coll := ec.Store.Collection(a.kind)
	if coll == nil {
		return nil, nil
	}
	doc, err := coll.FindOne(ctx, a.ID)
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", a.RefID(), err)
	}

	header, err := decodeHeader(a.kind, doc)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", a.RefID(), err)
	}
	if !ec.hasReadAccess(askerBase, header) {
		return nil, nil
	}
	if err := hydrate(a.entity(), header, doc, ec.Registry); err != nil {
		return nil, fmt.Errorf("sync %s: %w", a.RefID(), err)
	}
	return a.architype, nil
}

// allocate binds the owning root from the context and registers the anchor.
func (a *Anchor) allocate(ec *ExecContext) {
	if ec.Root != nil {
		a.Root = ec.Root.ID
	}
	ec.Arena.Set(a.entity())
}

// Save persists this anchor and every connected anchor that needs it in one
// bulk write. A nil sess runs inside a fresh session and transaction.
func (a *Anchor) Save(ctx context.Context, ec *ExecContext, sess datastore.Session) (*BulkWrite, error) {
	bulk := newBulkWrite(ec)
	if err := save(ctx, ec, a.entity(), bulk); err != nil {
		return bulk, err
	}
	if err := ec.run(ctx, bulk, sess); err != nil {
		return bulk, err
	}
	return bulk, nil
}

// Destroy is only meaningful on concrete anchors.
func (a *Anchor) Destroy(ctx context.Context, ec *ExecContext) error {
	panic(fmt.Sprintf("anchor: destroy is not implemented for %s anchors", a.kind))
}

// save inserts anchors that were never persisted and updates the others when
// the principal holds at least connect access.
func save(ctx context.Context, ec *ExecContext, e Entity, bulk *BulkWrite) error {
	a := e.Base()
	if a.architype == nil || bulk.isDeleted(a.ID) {
		return nil
	}
	if !a.connected {
		a.connected = true
		if err := a.syncHash(); err != nil {
			a.connected = false
			return err
		}
		bulk.markInserted(a)
		return insert(ctx, ec, e, bulk)
	}
	// an insert queued by this bulk already carries the full document
	if bulk.wasInserted(a.ID) {
		return nil
	}
	if ec.accessLevel(a) > types.Read {
		return update(ctx, ec, e, bulk, true)
	}
	return nil
}

// insert queues dependencies first: a node's edges, an edge's endpoints.
func insert(ctx context.Context, ec *ExecContext, e Entity, bulk *BulkWrite) error {
	switch t := e.(type) {
	case *NodeAnchor:
		for _, r := range append(types.RefSet(nil), t.edges...) {
			if err := save(ctx, ec, ec.Arena.Ref(r), bulk); err != nil {
				return err
			}
		}
	case *EdgeAnchor:
		for _, r := range []types.Ref{t.source, t.target} {
			if r.IsZero() {
				continue
			}
			if err := save(ctx, ec, ec.Arena.Ref(r), bulk); err != nil {
				return err
			}
		}
	}

	a := e.Base()
	doc, err := serialize(e)
	if err != nil {
		return err
	}
	a.changes = changeSet{}
	bulk.add(a.kind, &datastore.InsertOne{Document: doc})
	return nil
}

// update consumes the pending diff into at most two update operations.
// Business fields are diffed only with write access; edge list changes need
// connect access.
func update(ctx context.Context, ec *ExecContext, e Entity, bulk *BulkWrite, propagate bool) error {
	a := e.Base()
	changes := a.changes
	a.changes = changeSet{}
	bulk.remember(a, changes)

	u := datastore.Update{}
	if ec.accessLevel(a) > types.Connect {
		set := make(map[string]any, len(changes.set))
		for k, v := range changes.set {
			set[k] = v
		}
		fields, err := Fields(a.architype)
		if err != nil {
			return err
		}
		for key, val := range fields {
			h, err := hashValue(val)
			if err != nil {
				return err
			}
			if prev, ok := a.hashes[key]; !ok || prev != h {
				a.hashes[key] = h
				set[datastore.FieldArchitype+"."+key] = val
			}
		}
		if len(set) > 0 {
			u[datastore.OpSet] = set
		}
		if len(changes.unset) > 0 {
			unset := make(map[string]any, len(changes.unset))
			for k := range changes.unset {
				unset[k] = true
			}
			u[datastore.OpUnset] = unset
		}
	}

	if _, ok := e.(*NodeAnchor); ok {
		added := changes.addEdges
		if len(added) > 0 {
			refs := make([]string, 0, len(added))
			for _, r := range added {
				if propagate {
					if err := save(ctx, ec, ec.Arena.Ref(r), bulk); err != nil {
						return err
					}
				}
				refs = append(refs, r.String())
			}
			u[datastore.OpAddToSet] = map[string]any{
				datastore.FieldEdges: map[string]any{datastore.ModEach: refs},
			}
		}

		if pulled := changes.pullEdges; len(pulled) > 0 {
			refs := make([]string, 0, len(pulled))
			for _, r := range pulled {
				if propagate {
					bulk.DelEdge(r.ID)
				}
				refs = append(refs, r.String())
			}
			pull := map[string]any{
				datastore.FieldEdges: map[string]any{datastore.ModIn: refs},
			}
			if len(added) > 0 {
				// $pull and $addToSet on the same array cannot share one update
				bulk.add(a.kind, &datastore.UpdateOne{ID: a.ID, Update: datastore.Update{datastore.OpPull: pull}})
			} else {
				u[datastore.OpPull] = pull
			}
		}
	}

	if !u.IsEmpty() {
		bulk.add(a.kind, &datastore.UpdateOne{ID: a.ID, Update: u})
	}
	return nil
}

func hashValue(v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("hash value: %w", err)
	}
	return xxhash.Sum64(data), nil
}

// DataHash hashes the full serialized document.
func (a *Anchor) DataHash() (uint64, error) {
	doc, err := serialize(a.entity())
	if err != nil {
		return 0, err
	}
	n, err := datastore.Normalize(map[string]any(doc))
	if err != nil {
		return 0, err
	}
	return hashValue(n)
}

// syncHash refreshes the per field hashes.
func (a *Anchor) syncHash() error {
	if a.architype == nil {
		return nil
	}
	fields, err := Fields(a.architype)
	if err != nil {
		return err
	}
	hashes := make(map[string]uint64, len(fields))
	for k, v := range fields {
		h, err := hashValue(v)
		if err != nil {
			return err
		}
		hashes[k] = h
	}
	a.hashes = hashes
	return nil
}

func refOrNil(r types.Ref) any {
	if r.IsZero() {
		return nil
	}
	return r.String()
}

func serialize(e Entity) (datastore.Document, error) {
	a := e.Base()
	fields := map[string]any{}
	if a.architype != nil {
		var err error
		if fields, err = Fields(a.architype); err != nil {
			return nil, err
		}
	}
	var root any
	if !a.Root.IsZero() {
		root = a.Root.String()
	}
	doc := datastore.Document{
		datastore.FieldID:        a.ID.String(),
		datastore.FieldName:      a.Name,
		datastore.FieldRoot:      root,
		datastore.FieldAccess:    a.Access.Serialize(),
		datastore.FieldArchitype: fields,
	}
	switch t := e.(type) {
	case *NodeAnchor:
		edges := make([]any, 0, len(t.edges))
		for _, s := range t.edges.Strings() {
			edges = append(edges, s)
		}
		doc[datastore.FieldEdges] = edges
	case *EdgeAnchor:
		doc[datastore.FieldSource] = refOrNil(t.source)
		doc[datastore.FieldTarget] = refOrNil(t.target)
		doc[datastore.FieldIsUndirected] = t.IsUndirected
	}
	return doc, nil
}

// decodeHeader parses the identity and access part of a stored document,
// enough to decide visibility before anything is merged.
func decodeHeader(kind types.AnchorType, doc datastore.Document) (*Anchor, error) {
	id, err := doc.ID()
	if err != nil {
		return nil, err
	}
	h := newAnchor(kind, doc.String(datastore.FieldName), id)
	if s := doc.String(datastore.FieldRoot); s != "" {
		if h.Root, err = types.IDFromHex(s); err != nil {
			return nil, fmt.Errorf("root: %w", err)
		}
	}
	if h.Access, err = permission.Deserialize(doc.Map(datastore.FieldAccess)); err != nil {
		return nil, err
	}
	return &h, nil
}

// hydrate merges a fetched document into the resident anchor e. Edge list
// changes still pending on e are applied on top of the stored list.
func hydrate(e Entity, header *Anchor, doc datastore.Document, reg *Registry) error {
	def, err := reg.Lookup(header.kind, header.Name)
	if err != nil {
		return err
	}
	arch := def.New()
	if arch.AnchorType() != header.kind {
		return fmt.Errorf("%w: %s for %s", ErrArchitypeKind, def.Name, header.kind)
	}
	if err := loadFields(arch, doc.Map(datastore.FieldArchitype)); err != nil {
		return err
	}

	a := e.Base()
	switch t := e.(type) {
	case *NodeAnchor:
		var edges types.RefSet
		for _, s := range doc.Strings(datastore.FieldEdges) {
			if r, err := types.ParseTypedRef(types.Edge, s); err == nil {
				edges.Add(r)
			}
		}
		for _, r := range a.changes.addEdges {
			edges.Add(r)
		}
		for _, r := range a.changes.pullEdges {
			edges.Remove(r.ID)
		}
		t.edges = edges
	case *EdgeAnchor:
		if t.source.IsZero() && t.target.IsZero() {
			t.source, _ = types.ParseTypedRef(types.Node, doc.String(datastore.FieldSource))
			t.target, _ = types.ParseTypedRef(types.Node, doc.String(datastore.FieldTarget))
			if t.source.IsZero() || t.target.IsZero() {
				t.source, t.target = types.Ref{}, types.Ref{}
			}
		}
		t.IsUndirected, _ = doc[datastore.FieldIsUndirected].(bool)
	}

	if header.Name == "" {
		header.Name = def.Name
	}
	a.Name = header.Name
	a.Root = header.Root
	a.Access = header.Access
	a.connected = true
	a.architype = arch
	if err := bind(arch, e); err != nil {
		return err
	}
	return a.syncHash()
}
