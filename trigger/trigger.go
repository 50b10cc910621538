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

// Package trigger composes one setup-workflow run: load the package
// catalog, resolve the build scope, merge the fragments into a
// continuation configuration, and submit it.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/1024pix/circletron/circleci"
	"github.com/1024pix/circletron/pipeline"
	"github.com/1024pix/circletron/scope"
	"github.com/1024pix/circletron/workspace"
)

// discardHandler is slog.DiscardHandler, which needs a Go 1.24 toolchain.
type discardHandler struct{}

func (dh discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (dh discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (dh discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return dh }
func (dh discardHandler) WithGroup(string) slog.Handler             { return dh }

// CatalogLoader supplies the package catalog and the workspace fragment.
type CatalogLoader interface {
	Load(ctx context.Context) ([]workspace.Package, error)
	RootFragment() (*pipeline.Fragment, error)
}

// ScopeResolver decides which packages the build triggers.
type ScopeResolver interface {
	Resolve(ctx context.Context, packages []workspace.Package, branch string) (*scope.Scope, error)
}

// Continuer submits a configuration to the pipeline continuation endpoint.
type Continuer interface {
	Continue(ctx context.Context, key string, configuration []byte, parameters map[string]any) error
}

// Options configures a run.
type Options struct {
	// Branch is the branch being built.
	Branch string
	// ContinuationKey authenticates the continuation submit.
	ContinuationKey string
	// PassTargetBranch forwards {targetBranch, isTargetBranch} pipeline
	// parameters with the continuation.
	PassTargetBranch bool
	// DryRun skips the continuation submit.
	DryRun bool
	// Logger defaults to discarding.
	Logger *slog.Logger
}

// Run generates the continuation configuration for opts.Branch and submits
// it. It returns the merged configuration it submitted, or would have
// submitted on a dry run.
func Run(ctx context.Context, catalog CatalogLoader, resolver ScopeResolver, continuer Continuer, opts Options) ([]byte, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	packages, err := catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading package catalog: %w", err)
	}
	root, err := catalog.RootFragment()
	if err != nil {
		return nil, err
	}

	sc, err := resolver.Resolve(ctx, packages, opts.Branch)
	if err != nil {
		return nil, err
	}
	logger.Info("resolved build scope",
		"branch", opts.Branch,
		"targetBranch", sc.TargetBranch,
		"isTargetBranch", sc.IsTargetBranch,
		"packages", sc.TriggerPackages.Names())

	fragments := make([]pipeline.PackageFragment, 0, len(packages))
	for _, pkg := range packages {
		fragments = append(fragments, pipeline.PackageFragment{Package: pkg.Name, Fragment: pkg.Fragment})
	}
	doc, err := pipeline.Merge(root, fragments, sc.TriggerPackages.Has)
	if err != nil {
		return nil, err
	}
	encoded, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding configuration: %w", err)
	}

	var parameters map[string]any
	if opts.PassTargetBranch {
		parameters = map[string]any{
			"targetBranch":   sc.TargetBranch,
			"isTargetBranch": sc.IsTargetBranch,
		}
	}

	if opts.DryRun {
		logger.Debug("dry run, not continuing the pipeline", "parameters", parameters)
		return encoded, nil
	}

	if err := continuer.Continue(ctx, opts.ContinuationKey, encoded, parameters); err != nil {
		return nil, fmt.Errorf("continuing pipeline: %w", err)
	}
	logger.Info("pipeline continuation submitted", "bytes", len(encoded))
	return encoded, nil
}

// BuildHistory adapts the CircleCI client to scope.History for a fixed
// project.
type BuildHistory struct {
	Client  *circleci.Client
	Project circleci.Project
}

// LastSuccessfulCommit implements scope.History.
func (h BuildHistory) LastSuccessfulCommit(ctx context.Context, branch string) (string, error) {
	return h.Client.LastSuccessfulCommit(ctx, h.Project, branch)
}

// ProjectFromEnv reads the project coordinates CircleCI exposes to builds.
// The API needs a VCS provider segment, which the build environment does
// not carry; Pix repositories live on GitHub.
func ProjectFromEnv() circleci.Project {
	return circleci.Project{
		VCS:  "github",
		Org:  os.Getenv("CIRCLE_PROJECT_USERNAME"),
		Repo: os.Getenv("CIRCLE_PROJECT_REPONAME"),
	}
}
