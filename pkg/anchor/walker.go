package anchor

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

// WalkerAnchor is a mobile computation. next is a FIFO queue so visitation
// is breadth first.
type WalkerAnchor struct {
	Anchor
	path       []Entity
	next       []Entity
	returns    []any
	ignores    types.RefSet
	disengaged bool

	// Persistent walkers are saved after a run; others are discarded.
	Persistent bool
}

func (w *WalkerAnchor) Path() []Entity        { return append([]Entity(nil), w.path...) }
func (w *WalkerAnchor) Next() []Entity        { return append([]Entity(nil), w.next...) }
func (w *WalkerAnchor) Returns() []any        { return append([]any(nil), w.returns...) }
func (w *WalkerAnchor) Ignores() types.RefSet { return append(types.RefSet(nil), w.ignores...) }
func (w *WalkerAnchor) Disengaged() bool      { return w.disengaged }
func (w *WalkerAnchor) DisengageNow()         { w.disengaged = true }

// target resolves a visit argument: nodes stand for themselves, edges for
// their target node.
func (w *WalkerAnchor) target(ctx context.Context, ec *ExecContext, e Entity) (Entity, error) {
	edge, ok := e.(*EdgeAnchor)
	if !ok {
		return ec.Arena.adopt(e), nil
	}
	arch, err := edge.Sync(ctx, ec, nil)
	if err != nil {
		return nil, err
	}
	if arch == nil || edge.target.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNoTarget, edge.RefID())
	}
	return ec.Arena.Ref(edge.target), nil
}

// VisitNode queues anchors for visiting, skipping ignored ones. It reports
// whether the queue grew.
func (w *WalkerAnchor) VisitNode(ctx context.Context, ec *ExecContext, anchors ...Entity) (bool, error) {
	before := len(w.next)
	for _, e := range anchors {
		t, err := w.target(ctx, ec, e)
		if err != nil {
			return len(w.next) > before, err
		}
		if w.ignores.Contains(t.Base().ID) {
			continue
		}
		w.next = append(w.next, t)
	}
	return len(w.next) > before, nil
}

// IgnoreNode excludes anchors from later visits. It reports whether the
// ignore list grew.
func (w *WalkerAnchor) IgnoreNode(ctx context.Context, ec *ExecContext, anchors ...Entity) (bool, error) {
	before := len(w.ignores)
	for _, e := range anchors {
		t, err := w.target(ctx, ec, e)
		if err != nil {
			return len(w.ignores) > before, err
		}
		w.ignores.Add(t.Base().Reference())
	}
	return len(w.ignores) > before, nil
}

// Destroy deletes the walker. Requires write access.
func (w *WalkerAnchor) Destroy(ctx context.Context, ec *ExecContext) error {
	if w.architype == nil || ec.accessLevel(&w.Anchor) <= types.Connect {
		return nil
	}
	bulk := newBulkWrite(ec)
	bulk.DelWalker(w.ID)
	if err := ec.run(ctx, bulk, nil); err != nil {
		return err
	}
	bulk.forget(ec)
	return nil
}

type abilityStep struct {
	abilities []Ability
	here      Architype
	other     Architype
}

// SpawnCall runs the walker from start until its queue drains or it
// disengages. Per visited node the order is node entry, walker entry, walker
// exit, node exit. Every ability result is recorded in Returns.
func (w *WalkerAnchor) SpawnCall(ctx context.Context, ec *ExecContext, start Entity) (Architype, error) {
	walker, err := w.Sync(ctx, ec, nil)
	if err != nil {
		return nil, err
	}
	if walker == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReference, w.RefID())
	}

	log := ec.Log.WithFields(w.fields())
	w.path = nil
	w.next = []Entity{ec.Arena.adopt(start)}
	w.returns = nil
	w.disengaged = false

	walkerDef := ec.Registry.definitionOf(walker)
	walkerName := ec.Registry.NameOf(walker)

	for len(w.next) > 0 {
		if err := ctx.Err(); err != nil {
			return walker, err
		}
		current := w.next[0]
		w.next = w.next[1:]

		here, err := current.Sync(ctx, ec, nil)
		if err != nil {
			return walker, err
		}
		if here == nil {
			log.WithField("node", current.RefID()).Debug("skipping invisible anchor")
			continue
		}
		w.path = append(w.path, current)

		var steps []abilityStep
		nodeDef := ec.Registry.definitionOf(here)
		hereName := ec.Registry.NameOf(here)
		if nodeDef != nil {
			steps = append(steps, abilityStep{nodeDef.Entry, here, walker})
		}
		if walkerDef != nil {
			steps = append(steps,
				abilityStep{walkerDef.Entry, walker, here},
				abilityStep{walkerDef.Exit, walker, here},
			)
		}
		if nodeDef != nil {
			steps = append(steps, abilityStep{nodeDef.Exit, here, walker})
		}

		for _, step := range steps {
			otherName := walkerName
			if step.here == walker {
				otherName = hereName
			}
			for _, ab := range step.abilities {
				if ab.matches(otherName) {
					if err := w.invoke(ctx, ec, ab, step.here, step.other); err != nil {
						log.WithFields(logrus.Fields{
							"ability": ab.Name,
							"node":    current.RefID(),
						}).Errorf("ability failed: %v", err)
						return walker, err
					}
				}
				if w.disengaged {
					return walker, nil
				}
			}
		}
	}

	w.ignores = nil
	return walker, nil
}

func (w *WalkerAnchor) invoke(ctx context.Context, ec *ExecContext, ab Ability, here, other Architype) error {
	if ab.Func == nil {
		return fmt.Errorf("%w: %s", ErrNoFunction, ab.Name)
	}
	v, err := ab.Func(ctx, ec, here, other)
	if err != nil {
		return fmt.Errorf("ability %s: %w", ab.Name, err)
	}
	v, err = resolve(ctx, v)
	if err != nil {
		return fmt.Errorf("ability %s: %w", ab.Name, err)
	}
	w.returns = append(w.returns, v)
	return nil
}
