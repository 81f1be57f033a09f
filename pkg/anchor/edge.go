package anchor

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// EdgeAnchor links two nodes. source and target are set and cleared together
// and only through Attach and Detach.
type EdgeAnchor struct {
	Anchor
	source       types.Ref
	target       types.Ref
	IsUndirected bool
}

func (e *EdgeAnchor) Source() types.Ref { return e.source }
func (e *EdgeAnchor) Target() types.Ref { return e.target }

// Attach links e from src to trg and records the new edge on both nodes.
func (e *EdgeAnchor) Attach(src, trg *NodeAnchor, undirected bool) *EdgeAnchor {
	e.source = src.Reference()
	e.target = trg.Reference()
	e.IsUndirected = undirected
	ref := e.Reference()
	for _, n := range []*NodeAnchor{src, trg} {
		n.edges.Add(ref)
		n.changes.addEdge(ref)
	}
	if e.connected {
		e.changes.setField(datastore.FieldSource, e.source.String())
		e.changes.setField(datastore.FieldTarget, e.target.String())
		e.changes.setField(datastore.FieldIsUndirected, undirected)
	}
	return e
}

// Detach removes e from both endpoints and clears the linkage. Endpoints that
// are not resident keep the removal pending until they are loaded.
func (e *EdgeAnchor) Detach(ec *ExecContext) {
	ref := e.Reference()
	for _, r := range []types.Ref{e.source, e.target} {
		if r.IsZero() {
			continue
		}
		n := ec.Arena.Node(r)
		if n == nil {
			continue
		}
		n.removeEdge(e.ID)
		n.changes.pullEdge(ref)
	}
	e.source = types.Ref{}
	e.target = types.Ref{}
	if e.connected {
		e.changes.setField(datastore.FieldSource, nil)
		e.changes.setField(datastore.FieldTarget, nil)
	}
}

// SpawnCall runs walker starting at the edge's target.
func (e *EdgeAnchor) SpawnCall(ctx context.Context, ec *ExecContext, walker *WalkerAnchor) (Architype, error) {
	if e.target.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNoTarget, e.RefID())
	}
	return walker.SpawnCall(ctx, ec, ec.Arena.Ref(e.target))
}

// Destroy detaches and deletes the edge and persists the surviving
// endpoints. Requires connect access.
func (e *EdgeAnchor) Destroy(ctx context.Context, ec *ExecContext) error {
	bulk := newBulkWrite(ec)
	if err := e.destroy(ctx, ec, bulk); err != nil {
		return err
	}
	if err := ec.run(ctx, bulk, nil); err != nil {
		return err
	}
	bulk.forget(ec)
	return nil
}

func (e *EdgeAnchor) destroy(ctx context.Context, ec *ExecContext, bulk *BulkWrite) error {
	if e.architype == nil || ec.accessLevel(&e.Anchor) < types.Connect {
		return nil
	}

	var endpoints []*NodeAnchor
	for _, r := range []types.Ref{e.source, e.target} {
		if r.IsZero() {
			continue
		}
		n := ec.Arena.Node(r)
		if n == nil {
			continue
		}
		if _, err := n.Sync(ctx, ec, nil); err != nil {
			return fmt.Errorf("destroy %s: %w", e.RefID(), err)
		}
		endpoints = append(endpoints, n)
	}

	e.Detach(ec)
	bulk.DelEdge(e.ID)

	for _, n := range endpoints {
		if !n.connected {
			continue
		}
		if err := save(ctx, ec, n, bulk); err != nil {
			return err
		}
	}
	return nil
}
