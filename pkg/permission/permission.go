// Package permission holds the access-control record attached to every graph entity.
package permission

import (
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Access is a scope of per-principal overrides. Under whitelist polarity only
// listed principals are granted their level; under blacklist polarity listed
// principals are held to their level and everyone else gets full access.
type Access struct {
	Whitelist bool
	Anchors   map[string]types.AccessLevel
}

func NewAccess() Access {
	return Access{Whitelist: true, Anchors: map[string]types.AccessLevel{}}
}

// Check resolves the level a principal (by reference string) gets from this scope.
func (a Access) Check(principal string) types.AccessLevel {
	level, listed := a.Anchors[principal]
	if a.Whitelist {
		if listed {
			return level
		}
		return types.NoAccess
	}
	if listed {
		return level
	}
	return types.Write
}

// Grant sets an override and reports whether anything changed.
func (a *Access) Grant(principal string, level types.AccessLevel) bool {
	if a.Anchors == nil {
		a.Anchors = map[string]types.AccessLevel{}
	}
	if current, ok := a.Anchors[principal]; ok && current == level {
		return false
	}
	a.Anchors[principal] = level
	return true
}

// Revoke removes an override and reports whether one existed.
func (a *Access) Revoke(principal string) bool {
	if _, ok := a.Anchors[principal]; !ok {
		return false
	}
	delete(a.Anchors, principal)
	return true
}

func (a Access) clone() Access {
	c := Access{Whitelist: a.Whitelist, Anchors: make(map[string]types.AccessLevel, len(a.Anchors))}
	for k, v := range a.Anchors {
		c.Anchors[k] = v
	}
	return c
}

// Permission is the access record of one entity: a global level plus the
// roots scope.
type Permission struct {
	All   types.AccessLevel
	Roots Access
}

// New returns the default record: no global access, empty roots whitelist.
func New() Permission {
	return Permission{All: types.NoAccess, Roots: NewAccess()}
}

func (p Permission) Clone() Permission {
	return Permission{All: p.All, Roots: p.Roots.clone()}
}

// Serialize renders the record in its stored document form.
func (p Permission) Serialize() map[string]any {
	anchors := make(map[string]any, len(p.Roots.Anchors))
	for k, v := range p.Roots.Anchors {
		anchors[k] = int64(v)
	}
	return map[string]any{
		"all": int64(p.All),
		"roots": map[string]any{
			"whitelist": p.Roots.Whitelist,
			"anchors":   anchors,
		},
	}
}

// Deserialize parses the stored document form. Missing fields take defaults.
func Deserialize(doc map[string]any) (Permission, error) {
	p := New()
	if doc == nil {
		return p, nil
	}
	if raw, ok := doc["all"]; ok {
		level, err := toLevel(raw)
		if err != nil {
			return p, fmt.Errorf("access.all: %w", err)
		}
		p.All = level
	}
	roots, ok := doc["roots"].(map[string]any)
	if !ok {
		return p, nil
	}
	if wl, ok := roots["whitelist"].(bool); ok {
		p.Roots.Whitelist = wl
	}
	anchors, _ := roots["anchors"].(map[string]any)
	for principal, raw := range anchors {
		level, err := toLevel(raw)
		if err != nil {
			return p, fmt.Errorf("access.roots.anchors.%s: %w", principal, err)
		}
		p.Roots.Anchors[principal] = level
	}
	return p, nil
}

func toLevel(v any) (types.AccessLevel, error) {
	switch n := v.(type) {
	case int:
		return types.AccessLevel(n).Clamp(), nil
	case int32:
		return types.AccessLevel(n).Clamp(), nil
	case int64:
		return types.AccessLevel(n).Clamp(), nil
	case float64:
		return types.AccessLevel(int(n)).Clamp(), nil
	case types.AccessLevel:
		return n.Clamp(), nil
	}
	return types.NoAccess, fmt.Errorf("unexpected level type %T", v)
}
