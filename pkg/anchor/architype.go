package anchor

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Architype is the business object owned by exactly one anchor. User types
// embed one of NodeArchitype, EdgeArchitype, WalkerArchitype or
// ObjectArchitype; their exported fields are the persisted business data.
type Architype interface {
	AnchorType() types.AnchorType
	base() *archBase
}

type archBase struct {
	jac Entity
}

func (b *archBase) base() *archBase { return b }

type NodeArchitype struct{ archBase }

type EdgeArchitype struct{ archBase }

type WalkerArchitype struct{ archBase }

type ObjectArchitype struct{ archBase }

func (*NodeArchitype) AnchorType() types.AnchorType   { return types.Node }
func (*EdgeArchitype) AnchorType() types.AnchorType   { return types.Edge }
func (*WalkerArchitype) AnchorType() types.AnchorType { return types.Walker }
func (*ObjectArchitype) AnchorType() types.AnchorType { return types.Generic }

// Jac returns the owning anchor, nil while unbound.
func (a *NodeArchitype) Jac() *NodeAnchor {
	n, _ := a.jac.(*NodeAnchor)
	return n
}

func (a *EdgeArchitype) Jac() *EdgeAnchor {
	e, _ := a.jac.(*EdgeAnchor)
	return e
}

func (a *WalkerArchitype) Jac() *WalkerAnchor {
	w, _ := a.jac.(*WalkerAnchor)
	return w
}

func (a *ObjectArchitype) Jac() *Anchor {
	o, _ := a.jac.(*Anchor)
	return o
}

// Root is the built-in principal node.
type Root struct {
	NodeArchitype
}

// GenericEdge is the built-in untyped edge.
type GenericEdge struct {
	EdgeArchitype
}

// JacOf returns the anchor owning arch.
func JacOf(arch Architype) Entity {
	if arch == nil {
		return nil
	}
	return arch.base().jac
}

func bind(arch Architype, e Entity) error {
	b := arch.base()
	if b.jac != nil && b.jac != e {
		return ErrArchitypeBound
	}
	b.jac = e
	return nil
}

// Fields extracts the business fields of an architype as a normalized map.
func Fields(arch Architype) (map[string]any, error) {
	out := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &out,
		Squash: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(arch); err != nil {
		return nil, fmt.Errorf("architype fields: %w", err)
	}
	for _, k := range baseFieldNames {
		delete(out, k)
	}
	n, err := datastore.Normalize(out)
	if err != nil {
		return nil, fmt.Errorf("architype fields: %w", err)
	}
	return n.(map[string]any), nil
}

var baseFieldNames = []string{"NodeArchitype", "EdgeArchitype", "WalkerArchitype", "ObjectArchitype"}

// loadFields populates arch from a stored field map. Numbers decoded as
// float64 are narrowed to the field types.
func loadFields(arch Architype, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           arch,
		Squash:           true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(fields); err != nil {
		return fmt.Errorf("load architype fields: %w", err)
	}
	return nil
}
