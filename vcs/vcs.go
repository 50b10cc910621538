/*
Copyright © 2026 GIP Pix <https://pix.fr>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package vcs answers the git questions scope resolution needs: which
// branch is checked out, and which target branch shares the most recent
// common ancestor with the commit being built.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNoTargetBranch reports that no local or origin branch matches the
// configured target-branch pattern.
var ErrNoTargetBranch = errors.New("no branch matches the target branch pattern")

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
}

// Open opens the repository containing root, walking up to find .git.
func Open(root string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", root, err)
	}
	return &Repository{repo: repo}, nil
}

// New wraps an already opened go-git repository.
func New(repo *git.Repository) *Repository {
	return &Repository{repo: repo}
}

// CurrentBranch returns the short name of the checked-out branch. CI
// checkouts often leave HEAD detached; callers should prefer the branch
// name the CI environment provides and fall back to this.
func (r *Repository) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", head.Hash())
	}
	return head.Name().Short(), nil
}

// MergeBase is the common ancestor selected for diffing a feature branch
// against its most plausible integration branch.
type MergeBase struct {
	// Commit is the merge-base revision.
	Commit string
	// TargetBranch is the branch that produced it.
	TargetBranch string
}

// BestMergeBase computes the merge base of HEAD against every branch
// matching pattern (local heads and origin remote-tracking heads, the
// current branch excluded) and returns the one with the newest common
// ancestor. Ties go to the lexicographically first branch name.
func (r *Repository) BestMergeBase(ctx context.Context, current string, pattern *regexp.Regexp) (*MergeBase, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	headCommit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit %s: %w", head.Hash(), err)
	}

	heads, err := r.branchHeads()
	if err != nil {
		return nil, err
	}

	var names []string
	for name := range heads {
		if name == current || !pattern.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTargetBranch, pattern)
	}
	slices.Sort(names)

	var best *MergeBase
	var bestWhen time.Time
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate, err := r.repo.CommitObject(heads[name])
		if err != nil {
			return nil, fmt.Errorf("reading head of %s: %w", name, err)
		}
		bases, err := headCommit.MergeBase(candidate)
		if err != nil {
			return nil, fmt.Errorf("merge base against %s: %w", name, err)
		}
		if len(bases) == 0 {
			continue
		}
		base := bases[0]
		if best == nil || base.Committer.When.After(bestWhen) {
			best = &MergeBase{Commit: base.Hash.String(), TargetBranch: name}
			bestWhen = base.Committer.When
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no common ancestor between HEAD and target branches %s", strings.Join(names, ", "))
	}
	return best, nil
}

// branchHeads maps short branch names to head commits. Local branches win
// over their origin remote-tracking counterparts.
func (r *Repository) branchHeads() (map[string]plumbing.Hash, error) {
	local := make(map[string]plumbing.Hash)
	remote := make(map[string]plumbing.Hash)

	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer refs.Close()

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		switch {
		case name.IsBranch():
			local[name.Short()] = ref.Hash()
		case name.IsRemote():
			short, found := strings.CutPrefix(name.Short(), "origin/")
			if !found || short == "HEAD" {
				return nil
			}
			remote[short] = ref.Hash()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking references: %w", err)
	}

	for name, hash := range remote {
		if _, tracked := local[name]; !tracked {
			local[name] = hash
		}
	}
	return local, nil
}
