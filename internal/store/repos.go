package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/repomesh/repomesh/internal/models"
)

const repoColumns = `id, name, root_path, default_branch, created_at`

// InsertRepo persists a new repo.
func (s *Store) InsertRepo(ctx context.Context, repo *models.Repo) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO repos (`+repoColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), repo.ID, repo.Name, repo.RootPath, repo.DefaultBranch, repo.CreatedAt)
	return err
}

// GetRepo retrieves a repo by id.
func (s *Store) GetRepo(ctx context.Context, id string) (*models.Repo, error) {
	var repo models.Repo
	err := s.ro.GetContext(ctx, &repo, s.ro.Rebind(`
		SELECT `+repoColumns+` FROM repos WHERE id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// FindRepoByName returns the repo with the given name, or nil when none
// exists.
func (s *Store) FindRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	var repo models.Repo
	err := s.ro.GetContext(ctx, &repo, s.ro.Rebind(`
		SELECT `+repoColumns+` FROM repos WHERE name = ?
	`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListRepos returns all repos, newest first.
func (s *Store) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	var repos []*models.Repo
	err := s.ro.SelectContext(ctx, &repos, s.ro.Rebind(`
		SELECT `+repoColumns+` FROM repos ORDER BY created_at DESC
	`))
	return repos, err
}
