package anchor

import (
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// newEntity builds the anchor for arch, binds both ways and allocates it in
// ec. The anchor is not persisted until saved.
func newEntity(ec *ExecContext, arch Architype, want types.AnchorType) (Entity, error) {
	if arch == nil {
		return nil, fmt.Errorf("%w: nil architype", ErrInvalidReference)
	}
	if arch.AnchorType() != want {
		return nil, fmt.Errorf("%w: %T is a %s architype, not %s", ErrArchitypeKind, arch, arch.AnchorType(), want)
	}
	if JacOf(arch) != nil {
		return nil, ErrArchitypeBound
	}

	base := newAnchor(want, ec.Registry.NameOf(arch), types.NewID())
	var e Entity
	switch want {
	case types.Node:
		n := &NodeAnchor{Anchor: base}
		n.outer = n
		e = n
	case types.Edge:
		ed := &EdgeAnchor{Anchor: base}
		ed.outer = ed
		e = ed
	case types.Walker:
		w := &WalkerAnchor{Anchor: base}
		w.outer = w
		e = w
	default:
		a := &base
		a.outer = a
		e = a
	}

	b := e.Base()
	b.architype = arch
	if err := bind(arch, e); err != nil {
		return nil, err
	}
	b.allocate(ec)
	return e, nil
}

func NewNode(ec *ExecContext, arch Architype) (*NodeAnchor, error) {
	e, err := newEntity(ec, arch, types.Node)
	if err != nil {
		return nil, err
	}
	return e.(*NodeAnchor), nil
}

func NewEdge(ec *ExecContext, arch Architype) (*EdgeAnchor, error) {
	e, err := newEntity(ec, arch, types.Edge)
	if err != nil {
		return nil, err
	}
	return e.(*EdgeAnchor), nil
}

func NewWalker(ec *ExecContext, arch Architype) (*WalkerAnchor, error) {
	e, err := newEntity(ec, arch, types.Walker)
	if err != nil {
		return nil, err
	}
	return e.(*WalkerAnchor), nil
}

func NewObject(ec *ExecContext, arch Architype) (*Anchor, error) {
	e, err := newEntity(ec, arch, types.Generic)
	if err != nil {
		return nil, err
	}
	return e.(*Anchor), nil
}

// NewRootNode builds a Root node that owns itself.
func NewRootNode(id types.ID) *NodeAnchor {
	if id.IsZero() {
		id = types.NewID()
	}
	n := &NodeAnchor{Anchor: newAnchor(types.Node, "Root", id)}
	n.outer = n
	n.Root = id
	arch := &Root{}
	n.architype = arch
	arch.jac = n
	return n
}

// stub builds an unloaded anchor for r. Sync loads it on first use.
func stub(r types.Ref) Entity {
	base := newAnchor(r.Type, r.Name, r.ID)
	switch r.Type {
	case types.Node:
		n := &NodeAnchor{Anchor: base}
		n.outer = n
		return n
	case types.Edge:
		e := &EdgeAnchor{Anchor: base}
		e.outer = e
		return e
	case types.Walker:
		w := &WalkerAnchor{Anchor: base}
		w.outer = w
		return w
	}
	a := &base
	a.outer = a
	return a
}

// Ref parses a reference string of any kind into a detached stub. Use
// Arena.Resolve to get the resident anchor instead.
func Ref(ref string) (Entity, error) {
	r, err := types.ParseRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return stub(r), nil
}

func typedRef(kind types.AnchorType, ref string) (Entity, error) {
	r, err := types.ParseTypedRef(kind, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return stub(r), nil
}

func NodeRef(ref string) (*NodeAnchor, error) {
	e, err := typedRef(types.Node, ref)
	if err != nil {
		return nil, err
	}
	return e.(*NodeAnchor), nil
}

func EdgeRef(ref string) (*EdgeAnchor, error) {
	e, err := typedRef(types.Edge, ref)
	if err != nil {
		return nil, err
	}
	return e.(*EdgeAnchor), nil
}

func WalkerRef(ref string) (*WalkerAnchor, error) {
	e, err := typedRef(types.Walker, ref)
	if err != nil {
		return nil, err
	}
	return e.(*WalkerAnchor), nil
}
