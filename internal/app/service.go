package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindmap/api/internal/auth"
	"mindmap/api/internal/config"
	"mindmap/api/internal/email"
	"mindmap/api/internal/export"
	"mindmap/api/internal/gitrepo"
	"mindmap/api/internal/mindmap"
	"mindmap/api/internal/observability"
	"mindmap/api/internal/presence"
	"mindmap/api/internal/rbac"
	"mindmap/api/internal/search"
	"mindmap/api/internal/session"
	"mindmap/api/internal/store"
)

const (
	maxCommentLength = 2000
	revisionLimit    = 50
)

type Session struct {
	Token     string
	TokenID   string
	UserID    string
	Name      string
	Email     string
	Image     string
	ExpiresAt time.Time
}

func (s *Session) authenticated() bool {
	return s != nil && s.UserID != ""
}

// MapView is a map together with what the viewer may do with it.
type MapView struct {
	Map        store.MindMap `json:"map"`
	IsOwner    bool          `json:"isOwner"`
	IsReadOnly bool          `json:"isReadOnly"`
	CanUndo    bool          `json:"canUndo"`
}

type UpdateMapInput struct {
	Content    *mindmap.Node `json:"content"`
	Title      *string       `json:"title"`
	IsPublic   *bool         `json:"isPublic"`
	IsEditable *bool         `json:"isEditable"`
}

type CreateCommentInput struct {
	Text   string `json:"text"`
	NodeID string `json:"nodeId"`
	MapID  string `json:"mindMapId"`
}

type dataStore interface {
	UpsertGoogleUser(context.Context, store.GoogleProfile) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListMapsByOwner(context.Context, string) ([]store.MapSummary, error)
	CreateMap(context.Context, store.MindMap) (store.MindMap, error)
	GetMap(context.Context, string) (store.MindMap, error)
	UpdateMap(context.Context, string, store.MapUpdate) (store.MindMap, error)
	ListCollaborators(context.Context, string) ([]store.User, error)
	IsCollaborator(context.Context, string, string) (bool, error)
	AddCollaborator(context.Context, string, string) error
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	DeleteComment(context.Context, string) error
	Ping(ctx context.Context) error
}

// sessionStore is implemented by both the Postgres store and the Redis
// session store.
type sessionStore interface {
	SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, tokenHash string) (string, error)
	RevokeSession(ctx context.Context, tokenHash string) error
}

type gitService interface {
	CommitContent(mapID string, content gitrepo.Content, author, message string) (gitrepo.Revision, error)
	History(mapID string, limit int) ([]gitrepo.Revision, error)
	GetContentByHash(mapID, hash string) (gitrepo.Content, gitrepo.Revision, error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexMap(record search.MapRecord)
}

type googleVerifier interface {
	UserInfo(ctx context.Context, accessToken string) (auth.GoogleUser, error)
}

type uploader interface {
	Save(ctx context.Context, filename string, body io.Reader, size int64, contentType string) (string, error)
}

type mailer interface {
	SendCollaboratorInvite(to string, data email.InviteData) error
}

// presenceHub is the slice of presence.Registry the service publishes to.
type presenceHub interface {
	Publish(room, event string, payload any)
	Contributors(room string) []presence.Contributor
}

// Dependencies are the collaborators of a Service. Search, Uploads and Git
// may be nil; the matching features then report themselves unavailable.
type Dependencies struct {
	Store    dataStore
	Sessions sessionStore
	Git      gitService
	Search   searcher
	Google   googleVerifier
	Uploads  uploader
	Mailer   mailer
	Logger   *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	git      gitService
	search   searcher
	google   googleVerifier
	uploads  uploader
	mailer   mailer
	exporter *export.Service
	logger   *slog.Logger
	now      func() time.Time

	presenceMu sync.RWMutex
	presence   presenceHub
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	sessions := deps.Sessions
	if sessions == nil {
		if fallback, ok := deps.Store.(sessionStore); ok {
			sessions = fallback
		}
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: sessions,
		git:      deps.Git,
		search:   deps.Search,
		google:   deps.Google,
		uploads:  deps.Uploads,
		mailer:   deps.Mailer,
		logger:   logger,
		now:      time.Now,
	}
	s.exporter = export.NewService(exportSource{s})
	return s
}

// BindPresence attaches the registry that map and comment events are
// published through.
func (s *Service) BindPresence(hub presenceHub) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	s.presence = hub
}

func (s *Service) publish(room, event string, payload any) {
	s.presenceMu.RLock()
	hub := s.presence
	s.presenceMu.RUnlock()
	if hub != nil {
		hub.Publish(room, event, payload)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login verifies a Google access token, upserts the user and opens a
// session.
func (s *Service) Login(ctx context.Context, googleToken string) (Session, store.User, error) {
	if s.google == nil {
		return Session{}, store.User{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Google sign-in is not configured", nil)
	}
	if strings.TrimSpace(googleToken) == "" {
		return Session{}, store.User{}, validationError("token is required")
	}
	profile, err := s.google.UserInfo(ctx, googleToken)
	if err != nil {
		return Session{}, store.User{}, err
	}
	user, err := s.store.UpsertGoogleUser(ctx, store.GoogleProfile{
		GoogleID: profile.Sub,
		Email:    profile.Email,
		Name:     profile.Name,
		Image:    profile.Picture,
	})
	if err != nil {
		return Session{}, store.User{}, fmt.Errorf("upsert user: %w", err)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	s.logger.Info("user signed in", "user_id", user.ID)
	return sess, user, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	tokenID := uuid.NewString()
	claims := auth.NewClaims(user.ID, user.Name, user.Email, user.Image, tokenID, s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	expiresAt := claims.ExpiresAt.Time
	if err := s.sessions.SaveSession(ctx, auth.HashToken(tokenID), user.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return Session{
		Token:     token,
		TokenID:   tokenID,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Image:     user.Image,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates a token against its signature, the session
// store and the users table. A token whose user was deleted fails with
// errUserMissing.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := s.sessions.LookupSession(ctx, auth.HashToken(claims.ID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if userID != claims.Subject {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errUserMissing
		}
		return Session{}, err
	}
	return Session{
		Token:     token,
		TokenID:   claims.ID,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Image:     user.Image,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess *Session) error {
	if !sess.authenticated() || sess.TokenID == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, auth.HashToken(sess.TokenID))
}

func (s *Service) ListMaps(ctx context.Context, viewer *Session) ([]store.MapSummary, error) {
	if !viewer.authenticated() {
		return nil, errUnauthorized
	}
	maps, err := s.store.ListMapsByOwner(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}
	if maps == nil {
		maps = []store.MapSummary{}
	}
	return maps, nil
}

func (s *Service) CreateMap(ctx context.Context, viewer *Session, title string) (store.MindMap, error) {
	if !viewer.authenticated() {
		return store.MindMap{}, errUnauthorized
	}
	title = strings.TrimSpace(title)
	rootText := title
	if title == "" {
		title = mindmap.DefaultTitle
	}

	candidate := store.MindMap{
		Title:   title,
		Slug:    mindmap.Slugify(title),
		Content: mindmap.New(rootText),
		OwnerID: viewer.UserID,
	}
	created, err := s.store.CreateMap(ctx, candidate)
	if errors.Is(err, store.ErrSlugTaken) {
		candidate.Slug = mindmap.SlugWithSuffix(candidate.Slug, s.now())
		created, err = s.store.CreateMap(ctx, candidate)
	}
	if err != nil {
		return store.MindMap{}, err
	}

	s.commitRevision(created, viewer, "Create map")
	s.index(ctx, created)
	s.logger.Info("map created", "map_id", created.ID, "user_id", viewer.UserID)
	return created, nil
}

// GetMap loads a map by id or slug. Anyone holding the link may read it.
func (s *Service) GetMap(ctx context.Context, viewer *Session, idOrSlug string) (MapView, error) {
	m, err := s.loadMap(ctx, idOrSlug)
	if err != nil {
		return MapView{}, err
	}
	access, err := s.accessFor(ctx, viewer, m, "")
	if err != nil {
		return MapView{}, err
	}
	if !rbac.Can(access, rbac.ActionRead) {
		return MapView{}, errForbidden
	}
	return MapView{
		Map:        m,
		IsOwner:    access.IsOwner,
		IsReadOnly: rbac.ReadOnly(access),
		CanUndo:    rbac.Can(access, rbac.ActionUndo),
	}, nil
}

// UpdateMap saves a map. A new root text renames the map and its slug.
func (s *Service) UpdateMap(ctx context.Context, viewer *Session, mapID string, input UpdateMapInput) (store.MindMap, error) {
	if !viewer.authenticated() {
		return store.MindMap{}, errUnauthorized
	}
	current, err := s.loadMap(ctx, mapID)
	if err != nil {
		return store.MindMap{}, err
	}
	access, err := s.accessFor(ctx, viewer, current, "")
	if err != nil {
		return store.MindMap{}, err
	}
	if !rbac.Can(access, rbac.ActionWrite) {
		return store.MindMap{}, errForbidden
	}
	if (input.IsPublic != nil || input.IsEditable != nil) && !rbac.Can(access, rbac.ActionManage) {
		return store.MindMap{}, errForbidden
	}

	update := store.MapUpdate{IsPublic: input.IsPublic, IsEditable: input.IsEditable}
	title := ""
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
		if title == "" {
			return store.MindMap{}, validationError("title must not be empty")
		}
	}
	if input.Content != nil {
		if err := mindmap.Validate(*input.Content); err != nil {
			return store.MindMap{}, validationError(err.Error())
		}
		content := mindmap.Clone(*input.Content)
		update.Content = &content
		if text := strings.TrimSpace(content.Text); text != "" {
			title = text
		}
	}
	if title != "" && title != current.Title {
		slug := mindmap.Slugify(title)
		update.Title = &title
		update.Slug = &slug
	}

	updated, err := s.store.UpdateMap(ctx, current.ID, update)
	if errors.Is(err, store.ErrSlugTaken) && update.Slug != nil {
		retry := mindmap.SlugWithSuffix(*update.Slug, s.now())
		update.Slug = &retry
		updated, err = s.store.UpdateMap(ctx, current.ID, update)
	}
	if err != nil {
		return store.MindMap{}, err
	}

	if update.Content != nil || update.Title != nil {
		s.commitRevision(updated, viewer, "Update map")
	}
	s.index(ctx, updated)
	s.publish(updated.ID, presence.EventMapUpdated, map[string]string{"id": updated.ID})
	return updated, nil
}

func (s *Service) Contributors(ctx context.Context, mapID string) ([]presence.Contributor, error) {
	m, err := s.loadMap(ctx, mapID)
	if err != nil {
		return nil, err
	}
	s.presenceMu.RLock()
	hub := s.presence
	s.presenceMu.RUnlock()
	if hub == nil {
		return []presence.Contributor{}, nil
	}
	return hub.Contributors(m.ID), nil
}

func (s *Service) AddCollaborator(ctx context.Context, viewer *Session, mapID, userID string) error {
	if !viewer.authenticated() {
		return errUnauthorized
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return validationError("userId is required")
	}
	m, err := s.loadMap(ctx, mapID)
	if err != nil {
		return err
	}
	access, err := s.accessFor(ctx, viewer, m, "")
	if err != nil {
		return err
	}
	if !rbac.Can(access, rbac.ActionManage) {
		return errForbidden
	}
	if userID == m.OwnerID {
		return validationError("owner is already a collaborator")
	}
	invitee, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
		}
		return err
	}
	if err := s.store.AddCollaborator(ctx, m.ID, userID); err != nil {
		return err
	}
	s.index(ctx, m)
	s.invite(ctx, viewer, invitee, m)
	return nil
}

// invite emails a new collaborator. Delivery failures are logged only.
func (s *Service) invite(ctx context.Context, viewer *Session, invitee store.User, m store.MindMap) {
	if s.mailer == nil || invitee.Email == "" {
		return
	}
	err := s.mailer.SendCollaboratorInvite(invitee.Email, email.InviteData{
		InviterName: viewer.Name,
		MapTitle:    m.Title,
		MapURL:      s.cfg.AppURL + "/map/" + m.Slug,
	})
	if err != nil {
		observability.FromContext(ctx, s.logger).Warn("collaborator invite failed",
			slog.String("map_id", m.ID), slog.String("user_id", invitee.ID), slog.Any("error", err))
	}
}

func (s *Service) Revisions(ctx context.Context, viewer *Session, mapID string) ([]gitrepo.Revision, error) {
	m, err := s.readableMap(ctx, viewer, mapID)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return []gitrepo.Revision{}, nil
	}
	return s.git.History(m.ID, revisionLimit)
}

func (s *Service) Revision(ctx context.Context, viewer *Session, mapID, hash string) (gitrepo.Content, gitrepo.Revision, error) {
	m, err := s.readableMap(ctx, viewer, mapID)
	if err != nil {
		return gitrepo.Content{}, gitrepo.Revision{}, err
	}
	if s.git == nil {
		return gitrepo.Content{}, gitrepo.Revision{}, gitrepo.ErrNoRepo
	}
	content, rev, err := s.git.GetContentByHash(m.ID, hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoRepo) {
			return gitrepo.Content{}, gitrepo.Revision{}, err
		}
		return gitrepo.Content{}, gitrepo.Revision{}, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	return content, rev, nil
}

func (s *Service) Export(ctx context.Context, viewer *Session, mapID, format, version string, includeComments bool) (*export.Result, error) {
	m, err := s.readableMap(ctx, viewer, mapID)
	if err != nil {
		return nil, err
	}
	parsed, ok := export.ParseFormat(format)
	if !ok {
		return nil, export.ErrUnsupportedFormat
	}
	return s.exporter.Export(ctx, export.Request{
		MapID:           m.ID,
		Version:         version,
		Format:          parsed,
		IncludeComments: includeComments,
	})
}

func (s *Service) ListComments(ctx context.Context, mapID string) ([]store.Comment, error) {
	if strings.TrimSpace(mapID) == "" {
		return nil, validationError("mindMapId is required")
	}
	comments, err := s.store.ListComments(ctx, mapID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

func (s *Service) AddComment(ctx context.Context, viewer *Session, input CreateCommentInput) (store.Comment, error) {
	text := strings.TrimSpace(input.Text)
	switch {
	case text == "":
		return store.Comment{}, validationError("text is required")
	case len(text) > maxCommentLength:
		return store.Comment{}, validationError("text is too long")
	case strings.TrimSpace(input.NodeID) == "":
		return store.Comment{}, validationError("nodeId is required")
	case strings.TrimSpace(input.MapID) == "":
		return store.Comment{}, validationError("mindMapId is required")
	}
	m, err := s.loadMap(ctx, input.MapID)
	if err != nil {
		return store.Comment{}, err
	}
	access, err := s.accessFor(ctx, viewer, m, "")
	if err != nil {
		return store.Comment{}, err
	}
	if !rbac.Can(access, rbac.ActionComment) {
		return store.Comment{}, errUnauthorized
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		Text:   text,
		NodeID: input.NodeID,
		MapID:  m.ID,
		UserID: viewer.UserID,
	})
	if err != nil {
		return store.Comment{}, err
	}
	s.publish(m.ID, presence.EventCommentAdded, comment)
	return comment, nil
}

// DeleteComment removes a comment. The comment author and the map owner may
// delete it.
func (s *Service) DeleteComment(ctx context.Context, viewer *Session, commentID string) error {
	if !viewer.authenticated() {
		return errUnauthorized
	}
	if strings.TrimSpace(commentID) == "" {
		return validationError("id is required")
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	m, err := s.store.GetMap(ctx, comment.MapID)
	if err != nil {
		return err
	}
	access, err := s.accessFor(ctx, viewer, m, comment.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(access, rbac.ActionDeleteComment) {
		return errForbidden
	}
	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return err
	}
	s.publish(m.ID, presence.EventCommentDeleted, map[string]string{"id": comment.ID})
	return nil
}

func (s *Service) Upload(ctx context.Context, viewer *Session, filename string, body io.Reader, size int64, contentType string) (string, error) {
	if !viewer.authenticated() {
		return "", errUnauthorized
	}
	if s.uploads == nil {
		return "", domainError(http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Uploads are not configured", nil)
	}
	return s.uploads.Save(ctx, filename, body, size, contentType)
}

func (s *Service) Search(viewer *Session, text string, limit, offset int) search.Response {
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	q := search.Query{Text: text, Limit: limit, Offset: offset}
	if viewer.authenticated() {
		q.UserID = viewer.UserID
	}
	return s.search.Search(q)
}

func (s *Service) loadMap(ctx context.Context, idOrSlug string) (store.MindMap, error) {
	if strings.TrimSpace(idOrSlug) == "" {
		return store.MindMap{}, errMapNotFound
	}
	m, err := s.store.GetMap(ctx, idOrSlug)
	if errors.Is(err, store.ErrNotFound) {
		return store.MindMap{}, errMapNotFound
	}
	return m, err
}

func (s *Service) readableMap(ctx context.Context, viewer *Session, idOrSlug string) (store.MindMap, error) {
	m, err := s.loadMap(ctx, idOrSlug)
	if err != nil {
		return store.MindMap{}, err
	}
	access, err := s.accessFor(ctx, viewer, m, "")
	if err != nil {
		return store.MindMap{}, err
	}
	if !rbac.Can(access, rbac.ActionRead) {
		return store.MindMap{}, errForbidden
	}
	return m, nil
}

func (s *Service) accessFor(ctx context.Context, viewer *Session, m store.MindMap, commentAuthor string) (rbac.Access, error) {
	access := rbac.Access{IsEditable: m.IsEditable, IsPublic: m.IsPublic}
	if !viewer.authenticated() {
		return access, nil
	}
	access.Authenticated = true
	access.IsOwner = viewer.UserID == m.OwnerID
	access.IsCommentAuthor = commentAuthor != "" && commentAuthor == viewer.UserID
	if !access.IsOwner {
		collab, err := s.store.IsCollaborator(ctx, m.ID, viewer.UserID)
		if err != nil {
			return rbac.Access{}, err
		}
		access.IsCollaborator = collab
	}
	return access, nil
}

// commitRevision records the map content in its git history. Failures are
// logged; the database stays the source of truth.
func (s *Service) commitRevision(m store.MindMap, viewer *Session, message string) {
	if s.git == nil {
		return
	}
	author := viewer.Name
	if author == "" {
		author = viewer.UserID
	}
	content := gitrepo.Content{Title: m.Title, Root: m.Content}
	if _, err := s.git.CommitContent(m.ID, content, author, message); err != nil {
		s.logger.Warn("commit revision", "map_id", m.ID, "error", err)
	}
}

func (s *Service) index(ctx context.Context, m store.MindMap) {
	if s.search == nil {
		return
	}
	collaborators, err := s.store.ListCollaborators(ctx, m.ID)
	if err != nil {
		s.logger.Warn("list collaborators for index", "map_id", m.ID, "error", err)
	}
	ids := make([]string, 0, len(collaborators))
	for _, c := range collaborators {
		ids = append(ids, c.ID)
	}
	s.search.IndexMap(search.NewMapRecord(m.ID, m.Title, m.Slug, m.OwnerID, m.IsPublic, ids, m.Content))
}

// exportSource adapts the service to export.DataStore.
type exportSource struct {
	s *Service
}

func (e exportSource) GetMapInfo(ctx context.Context, mapID string) (export.MapInfo, error) {
	m, err := e.s.store.GetMap(ctx, mapID)
	if err != nil {
		return export.MapInfo{}, err
	}
	info := export.MapInfo{ID: m.ID, Title: m.Title, Content: m.Content, UpdatedAt: m.UpdatedAt}
	if owner, err := e.s.store.GetUserByID(ctx, m.OwnerID); err == nil {
		info.OwnerName = owner.Name
	}
	return info, nil
}

func (e exportSource) ListCommentInfo(ctx context.Context, mapID string) ([]export.CommentInfo, error) {
	comments, err := e.s.store.ListComments(ctx, mapID)
	if err != nil {
		return nil, err
	}
	out := make([]export.CommentInfo, 0, len(comments))
	for _, c := range comments {
		out = append(out, export.CommentInfo{NodeID: c.NodeID, Text: c.Text, Author: c.User.Name, CreatedAt: c.CreatedAt})
	}
	return out, nil
}

func (e exportSource) GetContentAtVersion(_ context.Context, mapID, version string) (mindmap.Node, error) {
	if e.s.git == nil {
		return mindmap.Node{}, gitrepo.ErrNoRepo
	}
	content, _, err := e.s.git.GetContentByHash(mapID, version)
	if err != nil {
		return mindmap.Node{}, err
	}
	return content.Root, nil
}
