package tree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// VisitFunc is called for every visited node with its depth (roots are 0).
// Returning false skips the node's children.
type VisitFunc func(n *LabeledNode, depth int) bool

type frame struct {
	node  *LabeledNode
	depth int
}

// Walk visits every node in pre-order. It uses an explicit stack so that
// pathological depths do not grow the goroutine stack.
func Walk(roots []*LabeledNode, fn VisitFunc) {
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == nil {
			continue
		}
		if !fn(f.node, f.depth) {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i], depth: f.depth + 1})
		}
	}
}

// WalkEnabled visits, in pre-order, the nodes reachable without passing
// through a disabled node.
func WalkEnabled(roots []*LabeledNode, fn func(n *LabeledNode, depth int)) {
	Walk(roots, func(n *LabeledNode, depth int) bool {
		if !n.Enabled {
			return false
		}
		fn(n, depth)
		return true
	})
}

// CountEnabled returns the number of nodes WalkEnabled would visit.
func CountEnabled(roots []*LabeledNode) int {
	count := 0
	WalkEnabled(roots, func(*LabeledNode, int) { count++ })
	return count
}

// Count returns the total number of nodes.
func Count(roots []*LabeledNode) int {
	count := 0
	Walk(roots, func(*LabeledNode, int) bool {
		count++
		return true
	})
	return count
}

var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrAmbiguousPath = errors.New("path matches more than one node")
)

// Find locates a node by a slash separated path of names, starting at a root.
// A segment may end in [N] to pick the Nth (1-based) sibling of that name,
// and "\/" stands for a slash inside a name. A segment naming several
// siblings without an index is ErrAmbiguousPath.
func Find(roots []*LabeledNode, path string) (*LabeledNode, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrNodeNotFound)
	}
	level := roots
	var found *LabeledNode
	for _, part := range parts {
		n, err := findSibling(level, part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
		found = n
		level = n.Children
	}
	return found, nil
}

func findSibling(level []*LabeledNode, segment string) (*LabeledNode, error) {
	matches := named(level, segment)
	if len(matches) == 0 {
		if name, index, ok := parseIndex(segment); ok {
			matches = named(level, name)
			if index > len(matches) {
				return nil, fmt.Errorf("%w: %s has %d siblings named %q", ErrNodeNotFound, segment, len(matches), name)
			}
			return matches[index-1], nil
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, segment)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d siblings named %q, use %s[1] to %s[%d]",
			ErrAmbiguousPath, len(matches), segment, segment, segment, len(matches))
	}
}

func named(level []*LabeledNode, name string) []*LabeledNode {
	var out []*LabeledNode
	for _, n := range level {
		if n != nil && n.Name == name {
			out = append(out, n)
		}
	}
	return out
}

// parseIndex splits "Bolt[2]" into ("Bolt", 2).
func parseIndex(segment string) (string, int, bool) {
	open := strings.LastIndex(segment, "[")
	if open <= 0 || !strings.HasSuffix(segment, "]") {
		return "", 0, false
	}
	index, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil || index < 1 {
		return "", 0, false
	}
	return strings.TrimSpace(segment[:open]), index, true
}

// SetEnabled toggles the node at path.
func SetEnabled(roots []*LabeledNode, path string, enabled bool) error {
	n, err := Find(roots, path)
	if err != nil {
		return err
	}
	n.Enabled = enabled
	return nil
}

// Clone returns a deep copy of roots, built with the same explicit stack as Walk.
func Clone(roots []*LabeledNode) []*LabeledNode {
	if roots == nil {
		return nil
	}
	type pending struct {
		src *LabeledNode
		dst **LabeledNode
	}

	out := make([]*LabeledNode, len(roots))
	stack := make([]pending, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, pending{src: roots[i], dst: &out[i]})
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.src == nil {
			continue
		}
		c := *p.src
		if p.src.Children != nil {
			c.Children = make([]*LabeledNode, len(p.src.Children))
			for i := len(p.src.Children) - 1; i >= 0; i-- {
				stack = append(stack, pending{src: p.src.Children[i], dst: &c.Children[i]})
			}
		}
		*p.dst = &c
	}
	return out
}

// Render returns an indented outline of roots. Disabled nodes are marked.
func Render(roots []*LabeledNode) string {
	var b strings.Builder
	Walk(roots, func(n *LabeledNode, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		if n.Enabled {
			b.WriteString("- ")
		} else {
			b.WriteString("x ")
		}
		b.WriteString(n.Name)
		if n.ObjectType != "" {
			fmt.Fprintf(&b, " [%s]", n.ObjectType)
		}
		if n.Description != "" {
			fmt.Fprintf(&b, ": %s", n.Description)
		}
		b.WriteString("\n")
		return true
	})
	return b.String()
}

func splitPath(path string) []string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			parts = append(parts, p)
		}
		cur.Reset()
	}
	for i := 0; i < len(path); i++ {
		switch {
		case path[i] == '\\' && i+1 < len(path) && (path[i+1] == '/' || path[i+1] == '\\'):
			i++
			cur.WriteByte(path[i])
		case path[i] == '/':
			flush()
		default:
			cur.WriteByte(path[i])
		}
	}
	flush()
	return parts
}
