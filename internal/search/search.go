// Package search finds mind maps by title and node text.
package search

import (
	"strings"

	"mindmap/api/internal/mindmap"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. Results are limited to maps the user
// owns or collaborates on plus public maps.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MapRecord is the data we index for a map.
type MapRecord struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	OwnerID         string   `json:"ownerId"`
	IsPublic        bool     `json:"isPublic"`
	CollaboratorIDs []string `json:"collaboratorIds"`
	Text            string   `json:"text"`
}

// NewMapRecord flattens the node labels of tree into the searchable text.
func NewMapRecord(id, title, slug, ownerID string, isPublic bool, collaboratorIDs []string, tree mindmap.Node) MapRecord {
	var labels []string
	mindmap.Walk(tree, func(node mindmap.Node, _ int) {
		if text := strings.TrimSpace(node.Text); text != "" {
			labels = append(labels, text)
		}
	})
	if collaboratorIDs == nil {
		collaboratorIDs = []string{}
	}
	return MapRecord{
		ID:              id,
		Title:           title,
		Slug:            slug,
		OwnerID:         ownerID,
		IsPublic:        isPublic,
		CollaboratorIDs: collaboratorIDs,
		Text:            strings.Join(labels, "\n"),
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
