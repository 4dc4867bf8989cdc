package history

import "mindmap/api/internal/mindmap"

// Identity is the signed-in user editing a document.
type Identity struct {
	ID    string
	Name  string
	Image string
}

// Session is one editing session over one document: the live tree, its
// history, who is editing and who owns the document. It assumes a single
// writer and is not safe for concurrent use.
type Session struct {
	doc      mindmap.Node
	stack    Stack
	identity *Identity
	ownerID  string
	focused  string
}

func NewSession(doc mindmap.Node, ownerID string, identity *Identity) *Session {
	s := &Session{doc: mindmap.Clone(doc), ownerID: ownerID}
	s.SetIdentity(identity)
	return s
}

// Document returns a copy of the live tree.
func (s *Session) Document() mindmap.Node {
	return mindmap.Clone(s.doc)
}

// SetDocument replaces the live tree wholesale, as when a collaborator's
// save arrives. It never creates a history point.
func (s *Session) SetDocument(doc mindmap.Node) {
	s.doc = mindmap.Clone(doc)
}

func (s *Session) SetIdentity(identity *Identity) {
	if identity == nil {
		s.identity = nil
		return
	}
	id := *identity
	s.identity = &id
}

func (s *Session) SetOwner(ownerID string) {
	s.ownerID = ownerID
}

func (s *Session) Owner() string { return s.ownerID }

// IsOwner reports whether the current identity owns the document.
func (s *Session) IsOwner() bool {
	return s.identity != nil && s.ownerID != "" && s.identity.ID == s.ownerID
}

// FocusedNode is the id of the node most recently created in this session.
func (s *Session) FocusedNode() string { return s.focused }

// History exposes the stack for inspection.
func (s *Session) History() *Stack { return &s.stack }

func (s *Session) RecordHistory() {
	s.stack.Record(s.doc)
}

func (s *Session) StartTransaction() {
	s.stack.Start(s.doc)
}

func (s *Session) CommitTransaction() {
	s.stack.Commit()
}

// DiscardTransaction abandons the pending checkpoint. Edits already applied
// to the live document stay in place.
func (s *Session) DiscardTransaction() {
	s.stack.Discard()
}

// Undo restores the previous document. It only acts for the owner and
// silently does nothing otherwise or when there is nothing to undo.
func (s *Session) Undo() {
	s.DiscardTransaction()
	if !s.IsOwner() {
		return
	}
	if previous, ok := s.stack.undo(s.doc); ok {
		s.doc = previous
	}
}

// Redo re-applies the nearest undone document, under the same rules as Undo.
func (s *Session) Redo() {
	s.DiscardTransaction()
	if !s.IsOwner() {
		return
	}
	if next, ok := s.stack.redo(s.doc); ok {
		s.doc = next
	}
}

// AddChild appends a new node under parentID and returns its id. The
// returned id is empty when parentID does not exist.
func (s *Session) AddChild(parentID string) string {
	if _, ok := mindmap.Find(s.doc, parentID); !ok {
		return ""
	}
	s.RecordHistory()
	node := mindmap.NewNode("", s.creator())
	s.doc = mindmap.AddChild(s.doc, parentID, node)
	s.focused = node.ID
	return node.ID
}

// AddSibling inserts a new node after id and returns its id. The root has
// no siblings, so id "root" is rejected without recording history.
func (s *Session) AddSibling(id string) string {
	if id == mindmap.RootID {
		return ""
	}
	if _, ok := mindmap.Find(s.doc, id); !ok {
		return ""
	}
	s.RecordHistory()
	node := mindmap.NewNode("", s.creator())
	s.doc = mindmap.AddSibling(s.doc, id, node)
	s.focused = node.ID
	return node.ID
}

// DeleteNode removes id and its subtree. The root is never removed.
func (s *Session) DeleteNode(id string) {
	if id == mindmap.RootID {
		return
	}
	if _, ok := mindmap.Find(s.doc, id); !ok {
		return
	}
	s.RecordHistory()
	s.doc = mindmap.DeleteNode(s.doc, id)
}

// UpdateText edits a node label in place without a history point; wrap a
// typing burst in a transaction to make it undoable as one step.
func (s *Session) UpdateText(id, text string) {
	s.doc = mindmap.UpdateText(s.doc, id, text)
}

func (s *Session) creator() *mindmap.Creator {
	if s.identity == nil {
		return nil
	}
	return &mindmap.Creator{ID: s.identity.ID, Name: s.identity.Name, Image: s.identity.Image}
}
