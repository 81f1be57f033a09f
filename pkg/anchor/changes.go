package anchor

import (
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// changeSet is the pending diff of an anchor. Edge additions and removals
// cancel each other: adding an edge drops a pending pull of it and vice versa.
type changeSet struct {
	set       map[string]any
	unset     map[string]struct{}
	addEdges  types.RefSet
	pullEdges types.RefSet
}

func (c *changeSet) empty() bool {
	return len(c.set) == 0 && len(c.unset) == 0 && len(c.addEdges) == 0 && len(c.pullEdges) == 0
}

func (c *changeSet) setField(path string, v any) {
	if c.set == nil {
		c.set = make(map[string]any)
	}
	c.set[path] = v
	delete(c.unset, path)
}

func (c *changeSet) unsetField(path string) {
	if c.unset == nil {
		c.unset = make(map[string]struct{})
	}
	c.unset[path] = struct{}{}
	delete(c.set, path)
}

func (c *changeSet) addEdge(r types.Ref) {
	c.pullEdges.Remove(r.ID)
	c.addEdges.Add(r)
}

func (c *changeSet) pullEdge(r types.Ref) {
	c.addEdges.Remove(r.ID)
	c.pullEdges.Add(r)
}

func (c changeSet) clone() changeSet {
	out := changeSet{
		addEdges:  append(types.RefSet(nil), c.addEdges...),
		pullEdges: append(types.RefSet(nil), c.pullEdges...),
	}
	for k, v := range c.set {
		out.setField(k, v)
	}
	for k := range c.unset {
		out.unsetField(k)
	}
	return out
}

// update renders the pending diff in store operator form.
func (c changeSet) update() datastore.Update {
	u := datastore.Update{}
	if len(c.set) > 0 {
		u[datastore.OpSet] = make(map[string]any, len(c.set))
		for k, v := range c.set {
			u[datastore.OpSet][k] = v
		}
	}
	if len(c.unset) > 0 {
		u[datastore.OpUnset] = make(map[string]any, len(c.unset))
		for k := range c.unset {
			u[datastore.OpUnset][k] = true
		}
	}
	if len(c.addEdges) > 0 {
		u[datastore.OpAddToSet] = map[string]any{
			datastore.FieldEdges: map[string]any{datastore.ModEach: c.addEdges.Strings()},
		}
	}
	if len(c.pullEdges) > 0 {
		u[datastore.OpPull] = map[string]any{
			datastore.FieldEdges: map[string]any{datastore.ModIn: c.pullEdges.Strings()},
		}
	}
	return u
}
