package anchor

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

type NodeAnchor struct {
	Anchor
	edges types.RefSet
}

// Edges lists the edges this node is an endpoint of.
func (n *NodeAnchor) Edges() types.RefSet {
	return append(types.RefSet(nil), n.edges...)
}

func (n *NodeAnchor) removeEdge(id types.ID) {
	n.edges.Remove(id)
}

// ConnectNode attaches edge from n to target.
func (n *NodeAnchor) ConnectNode(target *NodeAnchor, edge *EdgeAnchor) *EdgeAnchor {
	return edge.Attach(n, target, edge.IsUndirected)
}

// SpawnCall runs walker starting at n.
func (n *NodeAnchor) SpawnCall(ctx context.Context, ec *ExecContext, walker *WalkerAnchor) (Architype, error) {
	return walker.SpawnCall(ctx, ec, n)
}

// Destroy deletes the node and all of its edges. Requires write access.
func (n *NodeAnchor) Destroy(ctx context.Context, ec *ExecContext) error {
	bulk := newBulkWrite(ec)
	if err := n.destroy(ctx, ec, bulk); err != nil {
		return err
	}
	if err := ec.run(ctx, bulk, nil); err != nil {
		return err
	}
	bulk.forget(ec)
	return nil
}

func (n *NodeAnchor) destroy(ctx context.Context, ec *ExecContext, bulk *BulkWrite) error {
	if n.architype == nil || ec.accessLevel(&n.Anchor) <= types.Connect {
		return nil
	}
	bulk.DelNode(n.ID)
	for _, r := range n.Edges() {
		edge := ec.Arena.Edge(r)
		if edge == nil {
			continue
		}
		if _, err := edge.Sync(ctx, ec, n); err != nil {
			return fmt.Errorf("destroy %s: %w", n.RefID(), err)
		}
		if err := edge.destroy(ctx, ec, bulk); err != nil {
			return err
		}
	}
	return nil
}
