package anchor

import (
	"sync"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Arena is the identity map of one execution context: at most one resident
// anchor per ID. Anchors refer to each other by types.Ref and resolve through
// it. The store stays authoritative; the arena only caches.
type Arena struct {
	mu      sync.RWMutex
	anchors map[types.ID]Entity
	order   []types.ID
}

func NewArena() *Arena {
	return &Arena{anchors: make(map[types.ID]Entity)}
}

// Set registers e, replacing any resident anchor with the same ID.
func (a *Arena) Set(e Entity) {
	id := e.Base().ID
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.anchors[id]; !ok {
		a.order = append(a.order, id)
	}
	a.anchors[id] = e
}

// adopt registers e unless an anchor with its ID is already resident and
// returns the resident one.
func (a *Arena) adopt(e Entity) Entity {
	id := e.Base().ID
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.anchors[id]; ok {
		return cur
	}
	a.anchors[id] = e
	a.order = append(a.order, id)
	return e
}

func (a *Arena) Get(id types.ID) Entity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.anchors[id]
}

func (a *Arena) Remove(id types.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.anchors[id]; !ok {
		return
	}
	delete(a.anchors, id)
	for i, o := range a.order {
		if o == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Ref returns the resident anchor for r, registering an unloaded stub when
// none is resident.
func (a *Arena) Ref(r types.Ref) Entity {
	if e := a.Get(r.ID); e != nil {
		return e
	}
	return a.adopt(stub(r))
}

// Resolve parses a reference string and returns its resident anchor.
func (a *Arena) Resolve(ref string) (Entity, error) {
	r, err := types.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return a.Ref(r), nil
}

func (a *Arena) Node(r types.Ref) *NodeAnchor {
	n, _ := a.Ref(r).(*NodeAnchor)
	return n
}

func (a *Arena) Edge(r types.Ref) *EdgeAnchor {
	e, _ := a.Ref(r).(*EdgeAnchor)
	return e
}

func (a *Arena) Walker(r types.Ref) *WalkerAnchor {
	w, _ := a.Ref(r).(*WalkerAnchor)
	return w
}

// Entities lists resident anchors in registration order.
func (a *Arena) Entities() []Entity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entity, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.anchors[id])
	}
	return out
}

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.anchors)
}

// Evict drops a persisted anchor without pending changes so the next access
// reloads it from the store. It reports whether the anchor was dropped.
func (a *Arena) Evict(id types.ID) bool {
	e := a.Get(id)
	if e == nil {
		return false
	}
	b := e.Base()
	if !b.connected || b.HasChanges() {
		return false
	}
	a.Remove(id)
	return true
}

// Reset drops every resident anchor.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchors = make(map[types.ID]Entity)
	a.order = nil
}
