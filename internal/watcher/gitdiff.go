package watcher

import (
	git "github.com/go-git/go-git/v5"

	"github.com/dshills/bombe/internal/scanner"
	"github.com/dshills/bombe/pkg/types"
)

// GitChanges derives an incremental changeset from the repository's
// worktree status. Renames surface from git as delete+add pairs; the
// rename_file path is reserved for callers that track moves themselves.
func GitChanges(repoRoot string) ([]types.FileChange, error) {
	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return nil, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, err
	}

	var changes []types.FileChange
	for path, fileStatus := range status {
		if scanner.DetectLanguage(path) == "" {
			continue
		}
		code := fileStatus.Worktree
		if code == git.Unmodified {
			code = fileStatus.Staging
		}
		switch code {
		case git.Added, git.Untracked:
			changes = append(changes, types.FileChange{Status: "A", Path: path})
		case git.Modified:
			changes = append(changes, types.FileChange{Status: "M", Path: path})
		case git.Deleted:
			changes = append(changes, types.FileChange{Status: "D", Path: path})
		case git.Renamed:
			changes = append(changes, types.FileChange{
				Status:  "R",
				Path:    path,
				OldPath: fileStatus.Extra,
			})
		}
	}
	return changes, nil
}
