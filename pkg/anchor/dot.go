package anchor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

type dotConnection struct {
	from, to int
	label    string
}

// GenDot writes the graph reachable from n in Graphviz DOT form. Only nodes
// and edges visible to the context principal are included.
func (n *NodeAnchor) GenDot(ctx context.Context, ec *ExecContext, w io.Writer) error {
	arch, err := n.Sync(ctx, ec, nil)
	if err != nil {
		return err
	}
	if arch == nil {
		return fmt.Errorf("%w: %s", ErrInvalidReference, n.RefID())
	}

	index := map[types.ID]int{}
	var nodes []*NodeAnchor
	queue := []*NodeAnchor{n}
	index[n.ID] = 0
	nodes = append(nodes, n)

	seen := map[dotConnection]struct{}{}
	var connections []dotConnection

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		matches, err := current.walkEdges(ctx, ec, EdgeQuery{Dir: Out})
		if err != nil {
			return err
		}
		for _, m := range matches {
			idx, ok := index[m.other.ID]
			if !ok {
				idx = len(nodes)
				index[m.other.ID] = idx
				nodes = append(nodes, m.other)
				queue = append(queue, m.other)
			}
			c := dotConnection{from: index[current.ID], to: idx, label: ec.Registry.NameOf(m.edge)}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			connections = append(connections, c)
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "digraph {\n")
	fmt.Fprint(bw, "node [style=\"filled\", shape=\"ellipse\", fillcolor=\"invis\", fontcolor=\"black\"];\n")
	for i, node := range nodes {
		label, err := dotLabel(ec, node.architype)
		if err != nil {
			return err
		}
		fmt.Fprintf(bw, "%d [label=%q];\n", i, label)
	}
	fmt.Fprint(bw, "edge [color=\"gray\", style=\"solid\"];\n")
	for _, c := range connections {
		fmt.Fprintf(bw, "%d -> %d [label=%q];\n", c.from, c.to, c.label)
	}
	fmt.Fprint(bw, "}")
	return bw.Flush()
}

func dotLabel(ec *ExecContext, arch Architype) (string, error) {
	fields, err := Fields(arch)
	if err != nil {
		return "", err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return fmt.Sprintf("%s(%s)", ec.Registry.NameOf(arch), strings.Join(parts, ", ")), nil
}
