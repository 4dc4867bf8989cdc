package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"mindmap/api/internal/mindmap"
)

// Postgres implements Searcher with ILIKE matching over titles and content.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *Postgres) Healthy() bool {
	return true
}

const visibleTo = `(m.owner_id = $2 OR m.is_public OR EXISTS (
		SELECT 1 FROM map_collaborators mc WHERE mc.map_id = m.id AND mc.user_id = $2))`

func (p *Postgres) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + escapeLike(text) + "%"
	where := `(m.title ILIKE $1 OR m.content::text ILIKE $1) AND ` + visibleTo

	ctx := context.Background()
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM mind_maps m WHERE `+where, pattern, q.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.id, m.title, m.slug, m.content
		FROM mind_maps m
		WHERE %s
		ORDER BY (m.title ILIKE $1) DESC, m.updated_at DESC
		LIMIT %d OFFSET %d`, where, normalizeLimit(q.Limit), offset), pattern, q.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Slug, &raw); err != nil {
			return nil, 0, fmt.Errorf("search scan: %w", err)
		}
		var tree mindmap.Node
		if err := json.Unmarshal(raw, &tree); err == nil {
			r.Snippet = matchingLabel(tree, text)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every map for a full reindex.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]MapRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.title, m.slug, m.owner_id, m.is_public, m.content,
			COALESCE(array_to_json(array_agg(mc.user_id) FILTER (WHERE mc.user_id IS NOT NULL)), '[]')::text
		FROM mind_maps m
		LEFT JOIN map_collaborators mc ON mc.map_id = m.id
		GROUP BY m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load maps: %w", err)
	}
	defer rows.Close()

	records := make([]MapRecord, 0)
	for rows.Next() {
		var (
			id, title, slug, owner string
			public                 bool
			content                []byte
			collaborators          string
		)
		if err := rows.Scan(&id, &title, &slug, &owner, &public, &content, &collaborators); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		var tree mindmap.Node
		if err := json.Unmarshal(content, &tree); err != nil {
			return nil, fmt.Errorf("decode map %s: %w", id, err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(collaborators), &ids); err != nil {
			return nil, fmt.Errorf("decode collaborators of %s: %w", id, err)
		}
		records = append(records, NewMapRecord(id, title, slug, owner, public, ids, tree))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maps: %w", err)
	}
	return records, nil
}

// matchingLabel returns the first node label containing text.
func matchingLabel(tree mindmap.Node, text string) string {
	needle := strings.ToLower(text)
	var found string
	mindmap.Walk(tree, func(node mindmap.Node, _ int) {
		if found == "" && strings.Contains(strings.ToLower(node.Text), needle) {
			found = node.Text
		}
	})
	return found
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
