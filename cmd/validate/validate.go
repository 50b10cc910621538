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

// Package validate provides the validate command for circletron.
package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1024pix/circletron/fs"
	"github.com/1024pix/circletron/packagejson"
	"github.com/1024pix/circletron/pipeline"
	"github.com/1024pix/circletron/workspace"
)

// Cmd is the validate command.
var Cmd = &cobra.Command{
	Use:   "validate",
	Short: "Check workspace fragments for merge problems",
	Long: `Check the workspace's pipeline fragments for merge problems.

Parses every fragment, runs the merge with all packages in scope, and
reports what would break a real build: unparseable fragments and duplicate
definitions are errors, dependencies naming no workspace package are
warnings (they would silently never pull their dependents in).

Fragments are discovered through the workspace globs declared in
package.json or lerna.json; --glob overrides discovery.`,
	Example: `  # Validate all workspace fragments
  circletron validate

  # Validate an explicit set of fragment files
  circletron validate --glob "packages/*/.circleci/config.yml"`,
	RunE: run,
}

func init() {
	Cmd.Flags().String("glob", "", "Glob pattern matching fragment files (default: workspace discovery)")
}

func run(cmd *cobra.Command, args []string) error {
	osfs := fs.NewOSFileSystem()

	absRoot, err := filepath.Abs(viper.GetString("root"))
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}

	globPattern, _ := cmd.Flags().GetString("glob")
	paths, err := fragmentPaths(osfs, absRoot, globPattern)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Warning: no fragment files found")
		return nil
	}

	var errorCount, warningCount int

	fragments := make([]pipeline.PackageFragment, 0, len(paths))
	for _, path := range paths {
		fragment, err := pipeline.ParseFile(osfs, path)
		if err != nil {
			errorCount++
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fragments = append(fragments, pipeline.PackageFragment{
			Package:  packageName(osfs, absRoot, path),
			Fragment: fragment,
		})
	}

	// The root fragment joins the merge exactly as it would in a build.
	var root *pipeline.Fragment
	rootPath := filepath.Join(absRoot, workspace.RootFragmentPath)
	if osfs.Exists(rootPath) {
		root, err = pipeline.ParseFile(osfs, rootPath)
		if err != nil {
			errorCount++
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if _, err := pipeline.Merge(root, fragments, nil); err != nil {
		errorCount++
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	// A dependency naming no workspace package never pulls its dependent
	// into a build scope.
	declared := make(map[string]struct{}, len(fragments))
	for _, pf := range fragments {
		declared[pf.Package] = struct{}{}
	}
	for _, pf := range fragments {
		for _, dep := range pf.Fragment.Dependencies {
			if _, ok := declared[dep]; !ok {
				warningCount++
				fmt.Fprintf(os.Stderr, "Warning: %s: dependency %q does not match any workspace package\n", pf.Package, dep)
			}
		}
	}

	fmt.Printf("Validated %d fragment files: %d errors, %d warnings\n", len(paths), errorCount, warningCount)
	if errorCount > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// fragmentPaths lists the fragment files to validate: the --glob matches,
// or the fragments under every workspace glob the monorepo root declares.
func fragmentPaths(osfs fs.FileSystem, absRoot, globPattern string) ([]string, error) {
	var matches []string
	if globPattern != "" {
		m, err := doublestar.FilepathGlob(globPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern: %w", err)
		}
		matches = m
	} else {
		patterns, err := workspacePatterns(osfs, absRoot)
		if err != nil {
			return nil, err
		}
		for _, pattern := range patterns {
			m, err := doublestar.FilepathGlob(filepath.Join(absRoot, pattern, workspace.FragmentPath))
			if err != nil {
				return nil, fmt.Errorf("invalid workspace pattern %q: %w", pattern, err)
			}
			matches = append(matches, m...)
		}
	}

	// Deduplicate by absolute path
	seen := make(map[string]struct{})
	var files []string
	for _, match := range matches {
		absPath, err := filepath.Abs(match)
		if err != nil {
			return nil, fmt.Errorf("invalid file path %q: %w", match, err)
		}
		if _, exists := seen[absPath]; !exists {
			seen[absPath] = struct{}{}
			files = append(files, absPath)
		}
	}
	return files, nil
}

// workspacePatterns reads the workspace globs the monorepo declares, from
// package.json workspaces or lerna.json packages.
func workspacePatterns(osfs fs.FileSystem, absRoot string) ([]string, error) {
	if pkg, err := packagejson.ParseFile(osfs, filepath.Join(absRoot, "package.json")); err == nil && pkg.HasWorkspaces() {
		return pkg.WorkspacePatterns(), nil
	}

	lernaPath := filepath.Join(absRoot, "lerna.json")
	if data, err := osfs.ReadFile(lernaPath); err == nil {
		var lerna struct {
			Packages []string `json:"packages"`
		}
		if err := json.Unmarshal(data, &lerna); err != nil {
			return nil, fmt.Errorf("%s: %w", lernaPath, err)
		}
		if len(lerna.Packages) > 0 {
			return lerna.Packages, nil
		}
		// lerna defaults to packages/* when lerna.json doesn't say
		return []string{"packages/*"}, nil
	}

	return nil, fmt.Errorf("no workspace globs found in package.json or lerna.json: use --glob")
}

// packageName resolves a fragment's owner: the name in the package.json
// beside its .circleci directory, falling back to the package path relative
// to the workspace root.
func packageName(osfs fs.FileSystem, absRoot, fragmentPath string) string {
	dir := filepath.Dir(filepath.Dir(fragmentPath))
	if pkg, err := packagejson.ParseFile(osfs, filepath.Join(dir, "package.json")); err == nil && pkg.Name != "" {
		return pkg.Name
	}
	if rel, err := filepath.Rel(absRoot, dir); err == nil {
		return filepath.ToSlash(rel)
	}
	return dir
}
