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

// Package scope decides which packages a build should trigger.
//
// Branches matching the target-branch pattern run everything, unless
// incremental target builds are enabled, in which case the diff baseline is
// the branch's last successful build. Feature branches diff against the
// merge base with the best-matching target branch. Either way the changed
// set is expanded by one declared dependency hop.
package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/1024pix/circletron/circleci"
	"github.com/1024pix/circletron/vcs"
	"github.com/1024pix/circletron/workspace"
)

// Set is a set of package names.
type Set map[string]struct{}

// NewSet creates a set holding the given names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, name := range names {
		s.Add(name)
	}
	return s
}

// Add inserts a name.
func (s Set) Add(name string) {
	s[name] = struct{}{}
}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted member names.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Scope is the resolution result for one build.
type Scope struct {
	// TriggerPackages are the packages whose jobs run for real.
	TriggerPackages Set
	// TargetBranch is the branch built (on a target branch) or diffed
	// against (on a feature branch).
	TargetBranch string
	// IsTargetBranch reports whether the built branch is itself a target.
	IsTargetBranch bool
}

// History answers which commit last built green on a branch.
type History interface {
	LastSuccessfulCommit(ctx context.Context, branch string) (string, error)
}

// MergeBaser picks the ancestor a feature branch diffs against.
type MergeBaser interface {
	BestMergeBase(ctx context.Context, current string, pattern *regexp.Regexp) (*vcs.MergeBase, error)
}

// ChangeLister names the packages changed since a git ref.
type ChangeLister interface {
	ChangedSince(ctx context.Context, ref string) ([]string, error)
}

// Options configures a Resolver.
type Options struct {
	// TargetBranches matches the branch names that integrate work.
	TargetBranches *regexp.Regexp
	// RunOnlyChanged enables incremental builds on target branches.
	RunOnlyChanged bool
	// History supplies the incremental baseline. Unused, and may be nil,
	// when RunOnlyChanged is false.
	History History
	// MergeBase picks the diff ancestor for feature branches.
	MergeBase MergeBaser
	// Changes lists packages changed since a ref.
	Changes ChangeLister
	// Logger defaults to discarding.
	Logger *slog.Logger
}

// Resolver computes build scopes.
type Resolver struct {
	opts Options
}

// NewResolver creates a resolver from options.
func NewResolver(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.New(discardHandler{})
	}
	return &Resolver{opts: opts}
}

// discardHandler is slog.DiscardHandler, which needs a Go 1.24 toolchain.
type discardHandler struct{}

func (dh discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (dh discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (dh discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return dh }
func (dh discardHandler) WithGroup(string) slog.Handler             { return dh }

// Resolve decides the scope for building branch with the given catalog.
func (r *Resolver) Resolve(ctx context.Context, packages []workspace.Package, branch string) (*Scope, error) {
	if r.opts.TargetBranches.MatchString(branch) {
		return r.resolveTargetBranch(ctx, packages, branch)
	}
	return r.resolveFeatureBranch(ctx, packages, branch)
}

func (r *Resolver) resolveTargetBranch(ctx context.Context, packages []workspace.Package, branch string) (*Scope, error) {
	scope := &Scope{TargetBranch: branch, IsTargetBranch: true}

	if !r.opts.RunOnlyChanged {
		r.opts.Logger.Debug("target branch runs all packages", "branch", branch)
		scope.TriggerPackages = NewSet(workspace.Names(packages)...)
		return scope, nil
	}

	baseline, err := r.opts.History.LastSuccessfulCommit(ctx, branch)
	if errors.Is(err, circleci.ErrNoBuildFound) {
		r.opts.Logger.Info("no baseline build, running all packages", "branch", branch)
		scope.TriggerPackages = NewSet(workspace.Names(packages)...)
		return scope, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding baseline build for %s: %w", branch, err)
	}

	r.opts.Logger.Debug("diffing against baseline build", "branch", branch, "commit", baseline)
	changed, err := r.opts.Changes.ChangedSince(ctx, baseline)
	if err != nil {
		return nil, fmt.Errorf("listing changes since baseline %s: %w", baseline, err)
	}
	scope.TriggerPackages = withDependents(packages, changed)
	return scope, nil
}

func (r *Resolver) resolveFeatureBranch(ctx context.Context, packages []workspace.Package, branch string) (*Scope, error) {
	base, err := r.opts.MergeBase.BestMergeBase(ctx, branch, r.opts.TargetBranches)
	if err != nil {
		return nil, fmt.Errorf("selecting merge base for %s: %w", branch, err)
	}

	r.opts.Logger.Debug("diffing against merge base",
		"branch", branch, "target", base.TargetBranch, "commit", base.Commit)
	changed, err := r.opts.Changes.ChangedSince(ctx, base.Commit)
	if err != nil {
		return nil, fmt.Errorf("listing changes since merge base %s: %w", base.Commit, err)
	}

	return &Scope{
		TriggerPackages: withDependents(packages, changed),
		TargetBranch:    base.TargetBranch,
	}, nil
}

// withDependents returns the changed packages plus every catalog package
// declaring a dependency on a changed name. The hop is not chained:
// dependents of dependents stay out unless they changed themselves.
// Changed names missing from the catalog still pull their dependents in,
// but are dropped from the result.
func withDependents(packages []workspace.Package, changed []string) Set {
	changedSet := NewSet(changed...)
	result := NewSet()
	for _, pkg := range packages {
		if changedSet.Has(pkg.Name) {
			result.Add(pkg.Name)
			continue
		}
		for _, dep := range pkg.Fragment.Dependencies {
			if changedSet.Has(dep) {
				result.Add(pkg.Name)
				break
			}
		}
	}
	return result
}
