package anchor

import (
	"context"
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"github.com/i5heu/ouroboros-graph/pkg/types"
)

type EdgeDir int

const (
	Out EdgeDir = iota
	In
	Any
)

func (d EdgeDir) String() string {
	switch d {
	case Out:
		return "out"
	case In:
		return "in"
	case Any:
		return "any"
	}
	return fmt.Sprintf("EdgeDir(%d)", int(d))
}

// EdgeFilter is a compiled boolean expression over an edge's business
// fields, for example `weight > 3 && Label == "friend"`. Unknown identifiers
// evaluate to nil.
type EdgeFilter struct {
	source  string
	program *exprvm.Program
}

func CompileEdgeFilter(expression string) (*EdgeFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("edge filter: expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("edge filter %q: %w", expression, err)
	}
	return &EdgeFilter{source: expression, program: program}, nil
}

func (f *EdgeFilter) String() string { return f.source }

// Match evaluates the filter against fields. Non boolean results are errors.
func (f *EdgeFilter) Match(fields map[string]any) (bool, error) {
	env := make(map[string]any, len(fields))
	for k, v := range fields {
		env[k] = v
	}
	out, err := exprlang.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("edge filter %q: %w", f.source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("edge filter %q: result %T is not a bool", f.source, out)
	}
	return ok, nil
}

// EdgeQuery selects edges of a node. A nil Filter and empty TargetTypes
// match everything.
type EdgeQuery struct {
	Dir         EdgeDir
	Filter      *EdgeFilter
	TargetTypes []string
}

func (q EdgeQuery) wantsType(name string) bool {
	if len(q.TargetTypes) == 0 {
		return true
	}
	for _, t := range q.TargetTypes {
		if t == name {
			return true
		}
	}
	return false
}

type edgeMatch struct {
	edge  Architype
	other *NodeAnchor
	node  Architype
}

// walkEdges resolves every visible edge of n matching q together with the
// node at its far end.
func (n *NodeAnchor) walkEdges(ctx context.Context, ec *ExecContext, q EdgeQuery) ([]edgeMatch, error) {
	var out []edgeMatch
	for _, r := range n.Edges() {
		edge := ec.Arena.Edge(r)
		if edge == nil {
			continue
		}
		arch, err := edge.Sync(ctx, ec, n)
		if err != nil {
			return nil, err
		}
		if arch == nil || edge.source.IsZero() || edge.target.IsZero() {
			continue
		}
		if q.Filter != nil {
			fields, err := Fields(arch)
			if err != nil {
				return nil, err
			}
			ok, err := q.Filter.Match(fields)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		source := ec.Arena.Node(edge.source)
		target := ec.Arena.Node(edge.target)
		if source == nil || target == nil {
			continue
		}
		srcArch, err := source.Sync(ctx, ec, nil)
		if err != nil {
			return nil, err
		}
		trgArch, err := target.Sync(ctx, ec, nil)
		if err != nil {
			return nil, err
		}

		isSource := source.ID == n.ID
		isTarget := target.ID == n.ID
		outward := isSource || (edge.IsUndirected && isTarget)
		inward := isTarget || (edge.IsUndirected && isSource)

		if (q.Dir == Out || q.Dir == Any) && outward {
			other, otherArch, from := target, trgArch, source
			if !isSource {
				other, otherArch, from = source, srcArch, target
			}
			if otherArch != nil && q.wantsType(ec.Registry.NameOf(otherArch)) && ec.hasReadAccess(&from.Anchor, &other.Anchor) {
				out = append(out, edgeMatch{edge: arch, other: other, node: otherArch})
				continue
			}
		}
		if (q.Dir == In || q.Dir == Any) && inward {
			other, otherArch, to := source, srcArch, target
			if !isTarget {
				other, otherArch, to = target, trgArch, source
			}
			if otherArch != nil && q.wantsType(ec.Registry.NameOf(otherArch)) && ec.hasReadAccess(&to.Anchor, &other.Anchor) {
				out = append(out, edgeMatch{edge: arch, other: other, node: otherArch})
			}
		}
	}
	return out, nil
}

// GetEdges returns the edge architypes of n selected by q.
func (n *NodeAnchor) GetEdges(ctx context.Context, ec *ExecContext, q EdgeQuery) ([]Architype, error) {
	matches, err := n.walkEdges(ctx, ec, q)
	if err != nil {
		return nil, err
	}
	out := make([]Architype, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.edge)
	}
	return out, nil
}

// EdgesToNodes returns the distinct nodes reached through the edges of n
// selected by q, in edge order.
func (n *NodeAnchor) EdgesToNodes(ctx context.Context, ec *ExecContext, q EdgeQuery) ([]Architype, error) {
	matches, err := n.walkEdges(ctx, ec, q)
	if err != nil {
		return nil, err
	}
	var seen types.RefSet
	out := make([]Architype, 0, len(matches))
	for _, m := range matches {
		if !seen.Add(m.other.Reference()) {
			continue
		}
		out = append(out, m.node)
	}
	return out, nil
}
