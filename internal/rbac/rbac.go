// Package rbac decides what a caller may do with a mind map.
package rbac

type Action string

const (
	ActionRead          Action = "read"
	ActionWrite         Action = "write"
	ActionComment       Action = "comment"
	ActionDeleteComment Action = "delete-comment"
	// ActionManage covers sharing settings and collaborators.
	ActionManage Action = "manage"
	ActionUndo   Action = "undo"
)

// Access is the caller's relationship to one map.
type Access struct {
	Authenticated  bool
	IsOwner        bool
	IsCollaborator bool
	IsEditable     bool
	IsPublic       bool
	// IsCommentAuthor is set when the action targets the caller's own comment.
	IsCommentAuthor bool
}

func Can(access Access, action Action) bool {
	switch action {
	case ActionRead:
		// Anyone holding the link may view a map; IsPublic only controls
		// whether it is listed in other people's search results.
		return true
	case ActionWrite:
		return access.IsOwner || access.IsCollaborator || access.IsEditable
	case ActionComment:
		return access.Authenticated
	case ActionDeleteComment:
		return access.Authenticated && (access.IsCommentAuthor || access.IsOwner)
	case ActionManage, ActionUndo:
		return access.Authenticated && access.IsOwner
	default:
		return false
	}
}

// ReadOnly reports whether the map page should open without editing.
func ReadOnly(access Access) bool {
	return !access.Authenticated || (!access.IsOwner && !access.IsCollaborator && !access.IsEditable)
}
