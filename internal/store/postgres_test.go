package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"mindmap/api/internal/mindmap"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return mock, NewPostgresStore(db)
}

var mapCols = []string{"id", "title", "slug", "content", "owner_id", "is_public", "is_editable", "created_at", "updated_at"}

func TestCreateMap(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "inserted",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO mind_maps").
					WithArgs("Trip", "trip", `{"id":"root","text":"Trip","children":[]}`, "user-1", false, false).
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("map-1", now, now))
			},
		},
		{
			name: "slug collision",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO mind_maps").
					WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "mind_maps_slug_key"})
			},
			wantErr: ErrSlugTaken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockDB(t)
			tt.setupMock(mock)

			got, err := store.CreateMap(context.Background(), MindMap{
				Title: "Trip", Slug: "trip", Content: mindmap.New("Trip"), OwnerID: "user-1",
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateMap() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.ID != "map-1" {
				t.Fatalf("id = %q", got.ID)
			}
		})
	}
}

func TestGetMapByIDOrSlug(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM mind_maps").
		WithArgs("trip").
		WillReturnRows(sqlmock.NewRows(mapCols).
			AddRow("map-1", "Trip", "trip", []byte(`{"id":"root","text":"Trip","children":[{"id":"a","text":"Pack","children":[]}]}`), "user-1", true, false, now, now))
	mock.ExpectQuery("SELECT .* FROM mind_maps").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	m, err := store.GetMap(context.Background(), "trip")
	if err != nil {
		t.Fatalf("GetMap() error = %v", err)
	}
	if m.ID != "map-1" || !m.IsPublic || len(m.Content.Children) != 1 || m.Content.Children[0].Text != "Pack" {
		t.Fatalf("unexpected map %+v", m)
	}

	if _, err := store.GetMap(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMapPassesOnlyChangedFields(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	title := "Holiday"
	public := true

	mock.ExpectQuery("UPDATE mind_maps SET").
		WithArgs("map-1", "Holiday", nil, nil, true, nil).
		WillReturnRows(sqlmock.NewRows(mapCols).
			AddRow("map-1", "Holiday", "trip", []byte(`{"id":"root","text":"Trip","children":[]}`), "user-1", true, false, now, now))

	m, err := store.UpdateMap(context.Background(), "map-1", MapUpdate{Title: &title, IsPublic: &public})
	if err != nil {
		t.Fatalf("UpdateMap() error = %v", err)
	}
	if m.Title != "Holiday" || !m.IsPublic {
		t.Fatalf("unexpected map %+v", m)
	}
}

func TestUpdateMapSlugCollision(t *testing.T) {
	mock, store := setupMockDB(t)
	slug := "taken"
	mock.ExpectQuery("UPDATE mind_maps SET").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	if _, err := store.UpdateMap(context.Background(), "map-1", MapUpdate{Slug: &slug}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestListMapsByOwner(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, title, updated_at, is_public").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "updated_at", "is_public"}).
			AddRow("m2", "Newer", now, false).
			AddRow("m1", "Older", now.Add(-time.Hour), true))

	maps, err := store.ListMapsByOwner(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListMapsByOwner() error = %v", err)
	}
	if len(maps) != 2 || maps[0].ID != "m2" {
		t.Fatalf("unexpected maps %+v", maps)
	}
}

func TestUpsertGoogleUser(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("g-1", "avery@example.com", "Avery", "https://img/new.png").
		WillReturnRows(sqlmock.NewRows([]string{"id", "google_id", "email", "name", "image", "created_at"}).
			AddRow("user-1", "g-1", "avery@example.com", "Avery", "https://img/new.png", now))

	user, err := store.UpsertGoogleUser(context.Background(), GoogleProfile{
		GoogleID: "g-1", Email: "avery@example.com", Name: "Avery", Image: "https://img/new.png",
	})
	if err != nil {
		t.Fatalf("UpsertGoogleUser() error = %v", err)
	}
	if user.ID != "user-1" || user.Image != "https://img/new.png" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestComments(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO comments").
		WithArgs("Looks good", "node-1", "map-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "id", "name", "image"}).
			AddRow("c-1", now, "user-1", "Avery", ""))
	mock.ExpectQuery("SELECT c.id, c.text").
		WithArgs("map-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "text", "node_id", "map_id", "user_id", "created_at", "uid", "name", "image"}).
			AddRow("c-1", "Looks good", "node-1", "map-1", "user-1", now, "user-1", "Avery", ""))
	mock.ExpectExec("DELETE FROM comments").
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM comments").
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	created, err := store.InsertComment(ctx, Comment{Text: "Looks good", NodeID: "node-1", MapID: "map-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("InsertComment() error = %v", err)
	}
	if created.ID != "c-1" || created.User.Name != "Avery" {
		t.Fatalf("unexpected comment %+v", created)
	}

	list, err := store.ListComments(ctx, "map-1")
	if err != nil || len(list) != 1 || list[0].User.ID != "user-1" {
		t.Fatalf("ListComments() = %+v, %v", list, err)
	}

	if err := store.DeleteComment(ctx, "c-1"); err != nil {
		t.Fatalf("DeleteComment() error = %v", err)
	}
	if err := store.DeleteComment(ctx, "c-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSessions(t *testing.T) {
	mock, store := setupMockDB(t)
	expires := time.Now().Add(time.Hour)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("hash", "user-1", expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM sessions").
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1"))
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WithArgs("hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM sessions").
		WithArgs("hash").
		WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	if err := store.SaveSession(ctx, "hash", "user-1", expires); err != nil {
		t.Fatal(err)
	}
	if userID, err := store.LookupSession(ctx, "hash"); err != nil || userID != "user-1" {
		t.Fatalf("LookupSession() = %q, %v", userID, err)
	}
	if err := store.RevokeSession(ctx, "hash"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LookupSession(ctx, "hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestCollaborators(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectExec("INSERT INTO map_collaborators").
		WithArgs("map-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("map-1", "user-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ctx := context.Background()
	if err := store.AddCollaborator(ctx, "map-1", "user-2"); err != nil {
		t.Fatal(err)
	}
	ok, err := store.IsCollaborator(ctx, "map-1", "user-2")
	if err != nil || !ok {
		t.Fatalf("IsCollaborator() = %v, %v", ok, err)
	}
}
