// Package history keeps the canonical records file under git.
//
// Every successful flush can be committed so that past states of the review
// can be inspected and restored with regular git tooling.
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is one entry of the history.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Repo is a git repository rooted at the data directory.
type Repo struct {
	dir   string
	name  string
	email string

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the repository in dir, initializing it when missing. name and
// email sign commits.
func Open(dir, name, email string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &Repo{dir: dir, name: name, email: email, repo: repo}, nil
}

// Commit stages file and commits it when its content changed. authors become
// the commit author; the repository identity is used when there are none. It
// returns the new commit hash, or "" when there was nothing to commit.
func (r *Repo) Commit(file string, authors []string, msg string, when time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel := file
	if filepath.IsAbs(file) {
		var err error
		if rel, err = filepath.Rel(r.dir, file); err != nil {
			return "", fmt.Errorf("file outside repository: %w", err)
		}
	}
	rel = filepath.ToSlash(rel)

	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(rel); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	// Other files of the data directory are never staged; only rel matters.
	switch status.File(rel).Staging {
	case gogit.Added, gogit.Modified, gogit.Deleted:
	default:
		return "", nil
	}

	author := &object.Signature{Name: r.name, Email: r.email, When: when}
	if len(authors) != 0 {
		author.Name = strings.Join(authors, ", ")
	}
	h, err := w.Commit(msg, &gogit.CommitOptions{
		Author:    author,
		Committer: &object.Signature{Name: r.name, Email: r.email, When: when},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// Log returns up to n commits, newest first.
func (r *Repo) Log(n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.repo.Head(); err != nil {
		// No commits yet.
		return []*Commit{}, nil
	}
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	commits := []*Commit{}
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}
