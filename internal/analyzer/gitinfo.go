package analyzer

import (
	git "github.com/go-git/go-git/v5"
)

// gitInfo returns the current branch and short commit hash for root,
// or empty strings when root is not inside a git repository.
func gitInfo(root string) (branch, commit string) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", ""
	}

	head, err := repo.Head()
	if err != nil {
		return "", ""
	}

	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}

	hash := head.Hash().String()
	if len(hash) >= 7 {
		commit = hash[:7]
	}
	return branch, commit
}
