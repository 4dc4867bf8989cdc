// Package mindmap holds the tree document model shared by the server, the
// history stack and the terminal client.
package mindmap

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RootID identifies the central topic. It always exists, is never deleted
// and has no siblings.
const RootID = "root"

const defaultNodeText = "New Node"

// Creator is the user summary stamped on a node when it is created.
type Creator struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type Node struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Children  []Node   `json:"children"`
	CreatedBy *Creator `json:"createdBy,omitempty"`
}

// MarshalJSON always writes children as an array so clients can append
// without a nil check.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	out := plain(n)
	if out.Children == nil {
		out.Children = []Node{}
	}
	return json.Marshal(out)
}

// New returns a tree holding only the central topic.
func New(text string) Node {
	if text == "" {
		text = "Central Topic"
	}
	return Node{ID: RootID, Text: text, Children: []Node{}}
}

// NewNode builds a fresh leaf with a random id.
func NewNode(text string, creator *Creator) Node {
	if text == "" {
		text = defaultNodeText
	}
	node := Node{ID: uuid.NewString(), Text: text, Children: []Node{}}
	if creator != nil {
		c := *creator
		node.CreatedBy = &c
	}
	return node
}

// Clone returns a deep, independent copy of the tree.
func Clone(node Node) Node {
	out := node
	if node.CreatedBy != nil {
		c := *node.CreatedBy
		out.CreatedBy = &c
	}
	if node.Children != nil {
		out.Children = make([]Node, len(node.Children))
		for i, child := range node.Children {
			out.Children[i] = Clone(child)
		}
	}
	return out
}

// UpdateNode replaces the node with the given id by fn(node). Siblings and
// unrelated branches are shared with the input.
func UpdateNode(tree Node, id string, fn func(Node) Node) Node {
	if tree.ID == id {
		return fn(tree)
	}
	if len(tree.Children) == 0 {
		return tree
	}
	children, changed := mapChildren(tree.Children, func(child Node) Node {
		return UpdateNode(child, id, fn)
	})
	if !changed {
		return tree
	}
	tree.Children = children
	return tree
}

func UpdateText(tree Node, id, text string) Node {
	return UpdateNode(tree, id, func(n Node) Node {
		n.Text = text
		return n
	})
}

// AddChild appends child as the last child of parentID.
func AddChild(tree Node, parentID string, child Node) Node {
	if tree.ID == parentID {
		children := make([]Node, len(tree.Children), len(tree.Children)+1)
		copy(children, tree.Children)
		tree.Children = append(children, child)
		return tree
	}
	if len(tree.Children) == 0 {
		return tree
	}
	children, changed := mapChildren(tree.Children, func(c Node) Node {
		return AddChild(c, parentID, child)
	})
	if !changed {
		return tree
	}
	tree.Children = children
	return tree
}

// DeleteNode removes id and its whole subtree. The root cannot be removed.
func DeleteNode(tree Node, id string) Node {
	if id == RootID || len(tree.Children) == 0 {
		return tree
	}
	changed := false
	children := make([]Node, 0, len(tree.Children))
	for _, child := range tree.Children {
		if child.ID == id {
			changed = true
			continue
		}
		next := DeleteNode(child, id)
		if !sameNode(next, child) {
			changed = true
		}
		children = append(children, next)
	}
	if !changed {
		return tree
	}
	tree.Children = children
	return tree
}

// AddSibling inserts sibling directly after id. The root has no siblings.
func AddSibling(tree Node, id string, sibling Node) Node {
	if id == RootID || len(tree.Children) == 0 {
		return tree
	}
	for i, child := range tree.Children {
		if child.ID != id {
			continue
		}
		children := make([]Node, 0, len(tree.Children)+1)
		children = append(children, tree.Children[:i+1]...)
		children = append(children, sibling)
		children = append(children, tree.Children[i+1:]...)
		tree.Children = children
		return tree
	}
	children, changed := mapChildren(tree.Children, func(c Node) Node {
		return AddSibling(c, id, sibling)
	})
	if !changed {
		return tree
	}
	tree.Children = children
	return tree
}

// Find returns the node with the given id.
func Find(tree Node, id string) (Node, bool) {
	if tree.ID == id {
		return tree, true
	}
	for _, child := range tree.Children {
		if found, ok := Find(child, id); ok {
			return found, true
		}
	}
	return Node{}, false
}

// Walk visits every node depth-first, parents before children.
func Walk(tree Node, fn func(node Node, depth int)) {
	walk(tree, 0, fn)
}

func walk(node Node, depth int, fn func(Node, int)) {
	fn(node, depth)
	for _, child := range node.Children {
		walk(child, depth+1, fn)
	}
}

func Count(tree Node) int {
	total := 0
	Walk(tree, func(Node, int) { total++ })
	return total
}

// Validate checks the invariants a saved document must hold.
func Validate(tree Node) error {
	if tree.ID != RootID {
		return fmt.Errorf("top-level node must have id %q, got %q", RootID, tree.ID)
	}
	seen := make(map[string]struct{})
	var err error
	Walk(tree, func(node Node, _ int) {
		if err != nil {
			return
		}
		if node.ID == "" {
			err = fmt.Errorf("node with empty id")
			return
		}
		if _, dup := seen[node.ID]; dup {
			err = fmt.Errorf("duplicate node id %q", node.ID)
			return
		}
		seen[node.ID] = struct{}{}
	})
	return err
}

func mapChildren(children []Node, fn func(Node) Node) ([]Node, bool) {
	var out []Node
	for i, child := range children {
		next := fn(child)
		if out == nil && sameNode(next, child) {
			continue
		}
		if out == nil {
			out = make([]Node, len(children))
			copy(out, children[:i])
		}
		out[i] = next
	}
	if out == nil {
		return children, false
	}
	return out, true
}

// sameNode reports whether two values are the same unmodified node, by
// identity of their backing child arrays. It assumes update functions
// build new child slices rather than writing into the old ones.
func sameNode(a, b Node) bool {
	if a.ID != b.ID || a.Text != b.Text || a.CreatedBy != b.CreatedBy || len(a.Children) != len(b.Children) {
		return false
	}
	if len(a.Children) == 0 {
		return (a.Children == nil) == (b.Children == nil)
	}
	return &a.Children[0] == &b.Children[0]
}
