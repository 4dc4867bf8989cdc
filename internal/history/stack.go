// Package history implements the local undo/redo facility over a shared
// mind map document.
//
// Only locally originated structural edits create history points. Documents
// pushed from the network replace the live tree without touching the stack,
// so an undo after a remote overwrite restores the last local snapshot.
package history

import "mindmap/api/internal/mindmap"

// Stack is a linear undo history. past is ordered oldest first, future is
// ordered nearest-undone first. Every stored entry is an independent copy.
type Stack struct {
	past    []mindmap.Node
	future  []mindmap.Node
	pending *mindmap.Node
}

// Record pushes a copy of doc onto past and clears future.
func (s *Stack) Record(doc mindmap.Node) {
	s.past = append(s.past, mindmap.Clone(doc))
	s.future = nil
}

// Start captures doc as the pending transaction snapshot, replacing any
// snapshot that was already pending.
func (s *Stack) Start(doc mindmap.Node) {
	snapshot := mindmap.Clone(doc)
	s.pending = &snapshot
}

// Commit moves the pending snapshot onto past. No-op without one.
func (s *Stack) Commit() {
	if s.pending == nil {
		return
	}
	s.past = append(s.past, *s.pending)
	s.future = nil
	s.pending = nil
}

// Discard drops the pending snapshot without recording it.
func (s *Stack) Discard() {
	s.pending = nil
}

func (s *Stack) Pending() bool { return s.pending != nil }

func (s *Stack) CanUndo() bool { return len(s.past) > 0 }

func (s *Stack) CanRedo() bool { return len(s.future) > 0 }

// UndoDepth and RedoDepth count entries without copying them.
func (s *Stack) UndoDepth() int { return len(s.past) }

func (s *Stack) RedoDepth() int { return len(s.future) }

// Past returns copies of the recorded entries, oldest first.
func (s *Stack) Past() []mindmap.Node { return cloneAll(s.past) }

// Future returns copies of the undone entries, nearest first.
func (s *Stack) Future() []mindmap.Node { return cloneAll(s.future) }

// undo swaps current for the newest past entry.
func (s *Stack) undo(current mindmap.Node) (mindmap.Node, bool) {
	if len(s.past) == 0 {
		return mindmap.Node{}, false
	}
	previous := s.past[len(s.past)-1]
	s.past = s.past[:len(s.past)-1]

	future := make([]mindmap.Node, 0, len(s.future)+1)
	future = append(future, mindmap.Clone(current))
	s.future = append(future, s.future...)
	return previous, true
}

// redo swaps current for the nearest future entry.
func (s *Stack) redo(current mindmap.Node) (mindmap.Node, bool) {
	if len(s.future) == 0 {
		return mindmap.Node{}, false
	}
	next := s.future[0]
	s.future = s.future[1:]
	s.past = append(s.past, mindmap.Clone(current))
	return next, true
}

func cloneAll(nodes []mindmap.Node) []mindmap.Node {
	out := make([]mindmap.Node, len(nodes))
	for i, node := range nodes {
		out[i] = mindmap.Clone(node)
	}
	return out
}
