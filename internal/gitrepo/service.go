package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"lineage/api/internal/store"
)

// Service reads commits and edit refs from the bare repositories kept under
// baseDir, one <project>.git directory per project.
type Service struct {
	baseDir string
	mu      sync.Mutex
	repos   map[string]*projectRepo
}

type projectRepo struct {
	mu   sync.Mutex
	repo *git.Repository
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		repos:   make(map[string]*projectRepo),
	}
}

// Healthy reports whether the repositories directory is reachable.
func (s *Service) Healthy() error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("stat repos dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repos dir %s is not a directory", s.baseDir)
	}
	return nil
}

// Commit returns the metadata of the commit identified by hash in project.
func (s *Service) Commit(ctx context.Context, project, hash string) (store.CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return store.CommitInfo{}, err
	}
	pr, err := s.open(project)
	if err != nil {
		return store.CommitInfo{}, err
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()

	resolved, err := resolveHash(pr.repo, hash)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := pr.repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return store.CommitInfo{}, fmt.Errorf("read commit %s in %s: %w", hash, project, store.ErrCommitNotFound)
	}
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit %s in %s: %w", hash, project, err)
	}
	return toCommitInfo(commitObj), nil
}

// Edit returns the unpublished edit account keeps on changeID, if any.
func (s *Service) Edit(ctx context.Context, project, account string, changeID int64) (store.Edit, error) {
	if err := ctx.Err(); err != nil {
		return store.Edit{}, err
	}
	pr, err := s.open(project)
	if err != nil {
		return store.Edit{}, err
	}
	pr.mu.Lock()
	defer pr.mu.Unlock()

	prefix := EditRefPrefix(account, changeID)
	refs, err := pr.repo.References()
	if err != nil {
		return store.Edit{}, fmt.Errorf("list refs in %s: %w", project, err)
	}
	defer refs.Close()

	edit := store.Edit{ChangeID: changeID, Account: account}
	found := false
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if ref.Type() != plumbing.HashReference || !strings.HasPrefix(name, prefix) {
			return nil
		}
		base, convErr := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if convErr != nil || base <= 0 {
			return nil
		}
		// Only one edit per user and change exists; prefer the newest base if
		// a stale ref was left behind by an interrupted rebase.
		if !found || base > edit.BasePatchSet {
			edit.BasePatchSet = base
			edit.Commit = ref.Hash().String()
			found = true
		}
		return nil
	})
	if err != nil {
		return store.Edit{}, fmt.Errorf("scan edit refs in %s: %w", project, err)
	}
	if !found {
		return store.Edit{}, fmt.Errorf("edit of change %d by %s: %w", changeID, account, store.ErrEditNotFound)
	}
	return edit, nil
}

// EditRefPrefix is the ref namespace holding account's edit of changeID; the
// base patch-set number follows it.
func EditRefPrefix(account string, changeID int64) string {
	return fmt.Sprintf("refs/users/%s/%s/edit-%d/", userShard(account), account, changeID)
}

// EditRefName is the full ref of an edit based on patch-set basePatchSet.
func EditRefName(account string, changeID int64, basePatchSet int) plumbing.ReferenceName {
	return plumbing.ReferenceName(EditRefPrefix(account, changeID) + strconv.Itoa(basePatchSet))
}

func userShard(account string) string {
	switch len(account) {
	case 0:
		return "00"
	case 1:
		return "0" + account
	default:
		return account[len(account)-2:]
	}
}

func (s *Service) repoPath(project string) (string, error) {
	clean := filepath.Clean("/" + project)
	if project == "" || clean == "/" || strings.Contains(project, "..") {
		return "", fmt.Errorf("invalid project name %q: %w", project, store.ErrProjectNotFound)
	}
	return filepath.Join(s.baseDir, clean+".git"), nil
}

func (s *Service) open(project string) (*projectRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pr, ok := s.repos[project]; ok {
		return pr, nil
	}
	path, err := s.repoPath(project)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo %s: %w", project, store.ErrProjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", project, err)
	}
	pr := &projectRepo{repo: repo}
	s.repos[project] = pr
	return pr, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	parents := make([]string, 0, len(commitObj.ParentHashes))
	for _, p := range commitObj.ParentHashes {
		parents = append(parents, p.String())
	}
	return store.CommitInfo{
		Hash:    commitObj.Hash.String(),
		Parents: parents,
		Author: store.Person{
			Name:  commitObj.Author.Name,
			Email: commitObj.Author.Email,
			When:  commitObj.Author.When,
		},
		Subject: shortMessage(commitObj.Message),
	}
}

// shortMessage is the first paragraph of a commit message folded onto a
// single line.
func shortMessage(message string) string {
	message = strings.ReplaceAll(message, "\r\n", "\n")
	paragraph := message
	if idx := strings.Index(message, "\n\n"); idx >= 0 {
		paragraph = message[:idx]
	}
	lines := strings.Split(strings.TrimSpace(paragraph), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, " ")
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, store.ErrCommitNotFound)
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
