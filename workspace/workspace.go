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

// Package workspace builds the catalog of monorepo packages that carry a
// pipeline fragment. Listing comes from the configured package manager;
// fragments are loaded in parallel. A package whose fragment is missing or
// malformed is excluded from the catalog rather than failing the run.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/1024pix/circletron/fs"
	"github.com/1024pix/circletron/packagemanager"
	"github.com/1024pix/circletron/pipeline"
)

const (
	// FragmentPath is the pipeline fragment location inside a package dir.
	FragmentPath = ".circleci/config.yml"
	// RootFragmentPath is the optional workspace-level fragment. The
	// workspace's own .circleci/config.yml is the setup pipeline that runs
	// this tool, so shared definitions live in a sibling file.
	RootFragmentPath = ".circleci/base.yml"
)

// Package is a workspace package together with its parsed fragment.
type Package struct {
	Name     string
	Dir      string
	Fragment *pipeline.Fragment
}

// Names returns the package names in catalog order.
func Names(packages []Package) []string {
	names := make([]string, 0, len(packages))
	for _, pkg := range packages {
		names = append(names, pkg.Name)
	}
	return names
}

// Catalog loads workspace packages and their pipeline fragments.
type Catalog struct {
	fsys     fs.FileSystem
	provider packagemanager.Provider
	root     string
	parallel int
	logger   *slog.Logger
}

// New creates a catalog over the workspace rooted at root.
func New(fsys fs.FileSystem, provider packagemanager.Provider, root string) *Catalog {
	return &Catalog{
		fsys:     fsys,
		provider: provider,
		root:     root,
		logger:   slog.New(discardHandler{}),
	}
}

// discardHandler is slog.DiscardHandler, which needs a Go 1.24 toolchain.
type discardHandler struct{}

func (dh discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (dh discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (dh discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return dh }
func (dh discardHandler) WithGroup(string) slog.Handler             { return dh }

// WithParallel returns a copy of the catalog with a fragment-loading
// worker count. Zero or negative means one worker per CPU.
func (c *Catalog) WithParallel(n int) *Catalog {
	d := *c
	d.parallel = n
	return &d
}

// WithLogger returns a copy of the catalog that logs skipped packages.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	d := *c
	d.logger = logger
	return &d
}

// Load lists every workspace package and loads their fragments.
func (c *Catalog) Load(ctx context.Context) ([]Package, error) {
	entries, err := c.provider.List(ctx, c.root)
	if err != nil {
		return nil, fmt.Errorf("listing workspace packages: %w", err)
	}
	return c.loadFragments(entries), nil
}

// ChangedSince returns the names of the packages the package manager
// reports as changed since the given git ref.
func (c *Catalog) ChangedSince(ctx context.Context, ref string) ([]string, error) {
	entries, err := c.provider.ChangedSince(ctx, c.root, ref)
	if err != nil {
		return nil, fmt.Errorf("listing changed packages: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

// RootFragment loads the workspace-level fragment. A missing file is not
// an error; a malformed one is, since the run would silently lose shared
// definitions otherwise.
func (c *Catalog) RootFragment() (*pipeline.Fragment, error) {
	fragPath := filepath.Join(c.root, RootFragmentPath)
	if !c.fsys.Exists(fragPath) {
		return nil, nil
	}
	frag, err := pipeline.ParseFile(c.fsys, fragPath)
	if err != nil {
		return nil, fmt.Errorf("root fragment %s: %w", fragPath, err)
	}
	return frag, nil
}

// loadFragments loads each entry's fragment with a worker pool, keeping
// the provider's package order.
func (c *Catalog) loadFragments(entries []packagemanager.Entry) []Package {
	parallel := c.parallel
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}

	loaded := make([]*pipeline.Fragment, len(entries))
	jobs := make(chan int, len(entries))

	var wg sync.WaitGroup
	for w := 0; w < parallel; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				loaded[i] = c.loadFragment(entries[i])
			}
		}()
	}

	for i := range entries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	packages := make([]Package, 0, len(entries))
	for i, entry := range entries {
		if loaded[i] == nil {
			continue
		}
		packages = append(packages, Package{Name: entry.Name, Dir: entry.Dir, Fragment: loaded[i]})
	}
	return packages
}

func (c *Catalog) loadFragment(entry packagemanager.Entry) *pipeline.Fragment {
	fragPath := filepath.Join(c.root, entry.Dir, FragmentPath)
	if !c.fsys.Exists(fragPath) {
		c.logger.Debug("package has no pipeline fragment",
			"package", entry.Name, "path", fragPath)
		return nil
	}
	frag, err := pipeline.ParseFile(c.fsys, fragPath)
	if err != nil {
		c.logger.Warn("skipping package with malformed fragment",
			"package", entry.Name, "path", fragPath, "error", err)
		return nil
	}
	return frag
}
