// Package gitrepo keeps one git repository per mind map and commits the
// map content on every save.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mindmap/api/internal/mindmap"
)

const (
	contentFile = "content.json"
	branch      = "main"
)

var ErrNoRepo = errors.New("map has no revision history")

// Content is the snapshot stored in each commit.
type Content struct {
	Title string       `json:"title"`
	Root  mindmap.Node `json:"root"`
}

// Revision describes one commit. Added and Removed count nodes relative to
// the parent revision.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureMapRepo creates the repository with a baseline commit. Existing
// repositories are left alone.
func (s *Service) EnsureMapRepo(mapID string, initial Content, author string) error {
	lock := s.mapLock(mapID)
	lock.Lock()
	defer lock.Unlock()
	return s.ensureLocked(mapID, initial, author)
}

func (s *Service) ensureLocked(mapID string, initial Content, author string) error {
	path := s.repoPath(mapID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	if _, err := writeAndCommit(repo, initial, author, "Create map"); err != nil {
		return err
	}
	return nil
}

// CommitContent records content as a new revision, creating the repository
// on first use. When nothing changed since the head revision, the head is
// returned and no commit is made.
func (s *Service) CommitContent(mapID string, content Content, author, message string) (Revision, error) {
	lock := s.mapLock(mapID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureLocked(mapID, content, author); err != nil {
		return Revision{}, err
	}
	repo, err := git.PlainOpen(s.repoPath(mapID))
	if err != nil {
		return Revision{}, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return Revision{}, err
	}
	current, err := readContent(head)
	if err != nil {
		return Revision{}, err
	}
	if !HasChanges(current, content) {
		return toRevision(head), nil
	}

	hash, err := writeAndCommit(repo, content, author, message)
	if err != nil {
		return Revision{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

func (s *Service) GetHeadContent(mapID string) (Content, Revision, error) {
	lock := s.mapLock(mapID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(mapID)
	if err != nil {
		return Content{}, Revision{}, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Content{}, Revision{}, err
	}
	content, err := readContent(head)
	if err != nil {
		return Content{}, Revision{}, err
	}
	return content, toRevision(head), nil
}

// GetContentByHash loads the snapshot of a revision. Abbreviated hashes are
// accepted.
func (s *Service) GetContentByHash(mapID, hash string) (Content, Revision, error) {
	lock := s.mapLock(mapID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(mapID)
	if err != nil {
		return Content{}, Revision{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, Revision{}, err
	}
	return content, toRevision(commitObj), nil
}

// History lists revisions newest first. limit <= 0 means no limit.
func (s *Service) History(mapID string, limit int) ([]Revision, error) {
	lock := s.mapLock(mapID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(mapID)
	if errors.Is(err, ErrNoRepo) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		rev := toRevision(commitObj)
		rev.Added, rev.Removed = nodeDelta(commitObj)
		items = append(items, rev)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// HasChanges reports whether two snapshots differ.
func HasChanges(from, to Content) bool {
	return from.Title != to.Title || !reflect.DeepEqual(normalize(from.Root), normalize(to.Root))
}

// DiffNodes counts node ids present only in to (added) and only in from
// (removed).
func DiffNodes(from, to mindmap.Node) (added, removed int) {
	before := nodeIDs(from)
	after := nodeIDs(to)
	for id := range after {
		if !before[id] {
			added++
		}
	}
	for id := range before {
		if !after[id] {
			removed++
		}
	}
	return added, removed
}

func (s *Service) open(mapID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(mapID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(mapID string) string {
	return filepath.Join(s.baseDir, mapID)
}

func (s *Service) mapLock(mapID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[mapID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[mapID] = lock
	return lock
}

func writeAndCommit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	if author == "" {
		author = "Anonymous"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.mindmap.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readContent(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func nodeDelta(commitObj *object.Commit) (added, removed int) {
	to, err := readContent(commitObj)
	if err != nil {
		return 0, 0
	}
	if commitObj.NumParents() == 0 {
		return len(nodeIDs(to.Root)), 0
	}
	parent, err := commitObj.Parent(0)
	if err != nil {
		return 0, 0
	}
	from, err := readContent(parent)
	if err != nil {
		return 0, 0
	}
	return DiffNodes(from.Root, to.Root)
}

func nodeIDs(root mindmap.Node) map[string]bool {
	ids := make(map[string]bool)
	mindmap.Walk(root, func(node mindmap.Node, _ int) { ids[node.ID] = true })
	return ids
}

// normalize round-trips through JSON so nil and empty child slices compare
// equal.
func normalize(root mindmap.Node) any {
	raw, err := json.Marshal(root)
	if err != nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	return parsed
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
