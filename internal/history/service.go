// Package history keeps one git repository per entry and commits a JSON
// snapshot for every saved revision.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codex/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "entry.json"

var (
	ErrNoHistory        = errors.New("entry has no history")
	ErrRevisionNotFound = errors.New("revision not found")
)

// Snapshot is the committed form of an entry.
type Snapshot struct {
	ID               string          `json:"id"`
	Type             store.EntryType `json:"type"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Aliases          []string        `json:"aliases"`
	Tags             []string        `json:"tags"`
	VideoLink        string          `json:"videoLink"`
	MentionedEntries []string        `json:"mentionedEntries"`
	Version          int64           `json:"version"`
}

func SnapshotFromEntry(entry store.Entry) Snapshot {
	snap := Snapshot{
		ID:               entry.ID,
		Type:             entry.Type,
		Name:             entry.Name,
		Description:      entry.Description,
		Aliases:          []string{},
		Tags:             []string{},
		VideoLink:        entry.VideoLink,
		MentionedEntries: append([]string{}, entry.MentionedEntries...),
		Version:          entry.Version,
	}
	for _, alias := range entry.Aliases {
		snap.Aliases = append(snap.Aliases, alias.Name)
	}
	for _, tag := range entry.Tags {
		snap.Tags = append(snap.Tags, tag.Name)
	}
	return snap
}

// Revision describes one commit in an entry's history. Changed lists the
// fields that differ from the parent commit.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Changed   []string  `json:"changed"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Record commits snap to the entry's repository, creating it on first use.
// Recording an unchanged snapshot returns the current head.
func (s *Service) Record(snap Snapshot, author, message string) (Revision, error) {
	lock := s.entryLock(snap.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := s.openOrInit(snap.ID)
	if err != nil {
		return Revision{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Revision{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Revision{}, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.codex.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return Revision{}, fmt.Errorf("resolve head: %w", headErr)
		}
		hash = head.Hash()
	} else if err != nil {
		return Revision{}, fmt.Errorf("commit snapshot: %w", err)
	}

	if created {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return Revision{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return Revision{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj)
}

// History lists revisions newest first. limit <= 0 returns all of them.
func (s *Service) History(entryID string, limit int) ([]Revision, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(entryID)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		rev, err := toRevision(commitObj)
		if err != nil {
			return err
		}
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

// Revision loads the snapshot committed at hash, which may be abbreviated.
func (s *Service) Revision(entryID, hash string) (Snapshot, Revision, error) {
	lock := s.entryLock(entryID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(entryID)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Snapshot{}, Revision{}, fmt.Errorf("read commit %s: %w", hash, ErrRevisionNotFound)
	}
	if err != nil {
		return Snapshot{}, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	rev, err := toRevision(commitObj)
	if err != nil {
		return Snapshot{}, Revision{}, err
	}
	return snap, rev, nil
}

func (s *Service) repoPath(entryID string) string {
	return filepath.Join(s.baseDir, entryID)
}

func (s *Service) open(entryID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(entryID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(entryID string) (*git.Repository, bool, error) {
	repo, err := s.open(entryID)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, false, err
	}
	path := s.repoPath(entryID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) entryLock(entryID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[entryID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[entryID] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func toRevision(commitObj *object.Commit) (Revision, error) {
	rev := Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	current, err := readSnapshot(commitObj)
	if err != nil {
		return Revision{}, err
	}
	var previous Snapshot
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return Revision{}, fmt.Errorf("load parent commit: %w", err)
		}
		if previous, err = readSnapshot(parent); err != nil {
			return Revision{}, err
		}
	}
	rev.Changed = ChangedFields(previous, current)
	return rev, nil
}

// ChangedFields lists the snapshot fields that differ, in a fixed order.
func ChangedFields(from, to Snapshot) []string {
	changed := make([]string, 0)
	if from.Name != to.Name {
		changed = append(changed, "name")
	}
	if from.Type != to.Type {
		changed = append(changed, "type")
	}
	if from.Description != to.Description {
		changed = append(changed, "description")
	}
	if !slices.Equal(from.Aliases, to.Aliases) {
		changed = append(changed, "aliases")
	}
	if !slices.Equal(from.Tags, to.Tags) {
		changed = append(changed, "tags")
	}
	if from.VideoLink != to.VideoLink {
		changed = append(changed, "videoLink")
	}
	return changed
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
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
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, ErrRevisionNotFound)
	}
	return *resolved, nil
}
