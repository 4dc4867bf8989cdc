package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlugTaken = errors.New("slug already in use")
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// UpsertGoogleUser creates the user on first sign-in and refreshes the
// avatar on later ones.
func (s *PostgresStore) UpsertGoogleUser(ctx context.Context, profile GoogleProfile) (User, error) {
	const query = `
		INSERT INTO users (google_id, email, name, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (google_id) DO UPDATE
			SET image = EXCLUDED.image,
				updated_at = CASE WHEN users.image IS DISTINCT FROM EXCLUDED.image THEN NOW() ELSE users.updated_at END
		RETURNING id, google_id, email, name, image, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, profile.GoogleID, profile.Email, profile.Name, profile.Image).
		Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.Image, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, google_id, email, name, image, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.Image, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return user, nil
}

func (s *PostgresStore) ListMapsByOwner(ctx context.Context, ownerID string) ([]MapSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, updated_at, is_public
		FROM mind_maps
		WHERE owner_id = $1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}
	defer rows.Close()

	items := []MapSummary{}
	for rows.Next() {
		var item MapSummary
		if err := rows.Scan(&item.ID, &item.Title, &item.UpdatedAt, &item.IsPublic); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateMap inserts m and fills in the generated id and timestamps. A slug
// that is already used yields ErrSlugTaken.
func (s *PostgresStore) CreateMap(ctx context.Context, m MindMap) (MindMap, error) {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return MindMap{}, fmt.Errorf("encode content: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mind_maps (title, slug, content, owner_id, is_public, is_editable)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, m.Title, m.Slug, string(content), m.OwnerID, m.IsPublic, m.IsEditable).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return MindMap{}, ErrSlugTaken
		}
		return MindMap{}, fmt.Errorf("insert map: %w", err)
	}
	return m, nil
}

const mapColumns = `id, title, slug, content, owner_id, is_public, is_editable, created_at, updated_at`

// GetMap finds a map by id or, failing that, by slug.
func (s *PostgresStore) GetMap(ctx context.Context, idOrSlug string) (MindMap, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mapColumns+`
		FROM mind_maps
		WHERE id = $1 OR slug = $1
		ORDER BY (id = $1) DESC
		LIMIT 1
	`, idOrSlug)
	m, err := scanMap(row)
	if err != nil {
		return MindMap{}, notFound(err, "get map")
	}
	return m, nil
}

// UpdateMap applies the non-nil fields of u and bumps updated_at.
func (s *PostgresStore) UpdateMap(ctx context.Context, id string, u MapUpdate) (MindMap, error) {
	var content any
	if u.Content != nil {
		raw, err := json.Marshal(u.Content)
		if err != nil {
			return MindMap{}, fmt.Errorf("encode content: %w", err)
		}
		content = string(raw)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE mind_maps SET
			title = COALESCE($2, title),
			slug = COALESCE($3, slug),
			content = COALESCE($4::jsonb, content),
			is_public = COALESCE($5, is_public),
			is_editable = COALESCE($6, is_editable),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+mapColumns,
		id, nullString(u.Title), nullString(u.Slug), content, nullBool(u.IsPublic), nullBool(u.IsEditable))
	m, err := scanMap(row)
	if err != nil {
		if isUniqueViolation(err) {
			return MindMap{}, ErrSlugTaken
		}
		return MindMap{}, notFound(err, "update map")
	}
	return m, nil
}

// ListAllMaps returns every map, used to rebuild the search index.
func (s *PostgresStore) ListAllMaps(ctx context.Context) ([]MindMap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mapColumns+` FROM mind_maps ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all maps: %w", err)
	}
	defer rows.Close()

	items := []MindMap{}
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, mapID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.google_id, u.email, u.name, u.image, u.created_at
		FROM map_collaborators mc
		JOIN users u ON u.id = mc.user_id
		WHERE mc.map_id = $1
		ORDER BY mc.added_at
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.Image, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, mapID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM map_collaborators WHERE map_id=$1 AND user_id=$2)`, mapID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddCollaborator(ctx context.Context, mapID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_collaborators (map_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (map_id, user_id) DO NOTHING
	`, mapID, userID)
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	return nil
}

// ListComments returns the comments of a map, newest first.
func (s *PostgresStore) ListComments(ctx context.Context, mapID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.text, c.node_id, c.map_id, c.user_id, c.created_at, u.id, u.name, u.image
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.map_id = $1
		ORDER BY c.created_at DESC
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.Text, &c.NodeID, &c.MapID, &c.UserID, &c.CreatedAt, &c.User.ID, &c.User.Name, &c.User.Image); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// InsertComment stores c and returns it with id, timestamp and author.
func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO comments (text, node_id, map_id, user_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, user_id
		)
		SELECT inserted.id, inserted.created_at, u.id, u.name, u.image
		FROM inserted JOIN users u ON u.id = inserted.user_id
	`, c.Text, c.NodeID, c.MapID, c.UserID).Scan(&c.ID, &c.CreatedAt, &c.User.ID, &c.User.Name, &c.User.Image)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, node_id, map_id, user_id, created_at FROM comments WHERE id=$1
	`, id).Scan(&c.ID, &c.Text, &c.NodeID, &c.MapID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return Comment{}, notFound(err, "get comment")
	}
	return c, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSession records an issued session token; used when Redis is absent.
func (s *PostgresStore) SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", notFound(err, "lookup session")
	}
	return userID, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMap(row rowScanner) (MindMap, error) {
	var (
		m       MindMap
		content []byte
	)
	if err := row.Scan(&m.ID, &m.Title, &m.Slug, &content, &m.OwnerID, &m.IsPublic, &m.IsEditable, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return MindMap{}, err
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return MindMap{}, fmt.Errorf("decode content of map %s: %w", m.ID, err)
	}
	return m, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}
