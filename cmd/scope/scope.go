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

// Package scope provides the scope command for circletron.
package scope

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1024pix/circletron/circleci"
	"github.com/1024pix/circletron/config"
	"github.com/1024pix/circletron/fs"
	"github.com/1024pix/circletron/internal/output"
	"github.com/1024pix/circletron/packagemanager"
	"github.com/1024pix/circletron/scope"
	"github.com/1024pix/circletron/trigger"
	"github.com/1024pix/circletron/vcs"
	"github.com/1024pix/circletron/workspace"
)

// Cmd is the scope cobra command that prints which packages the current
// build would trigger, without merging or submitting anything.
var Cmd = &cobra.Command{
	Use:   "scope",
	Short: "Print the packages the current build would trigger",
	Long: `Print the packages the current build would trigger.

Resolves the build scope exactly as trigger does (changed packages plus
declared dependents) and prints it, so authors can check which jobs a branch
would run before pushing.`,
	Example: `  # Scope of the current branch
  circletron scope

  # Scope another branch would build, as JSON
  circletron scope --branch feat/checkout --format json`,
	RunE: run,
}

func init() {
	Cmd.Flags().String("branch", "", "Branch to resolve (default: $CIRCLE_BRANCH, then the checked-out branch)")
	Cmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
}

// report is the JSON shape of a resolved scope.
type report struct {
	Branch         string   `json:"branch"`
	TargetBranch   string   `json:"targetBranch,omitempty"`
	IsTargetBranch bool     `json:"isTargetBranch"`
	Packages       []string `json:"packages"`
}

func run(cmd *cobra.Command, args []string) error {
	osfs := fs.NewOSFileSystem()

	absRoot, err := filepath.Abs(viper.GetString("root"))
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format %q: must be 'text' or 'json'", format)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	provider, err := packagemanager.ByName(cfg.PackageManager, packagemanager.ExecRunner{})
	if err != nil {
		return err
	}

	logger := slog.Default()
	catalog := workspace.New(osfs, provider, absRoot).WithLogger(logger)

	repo, err := vcs.Open(absRoot)
	if err != nil {
		return err
	}

	branch, _ := cmd.Flags().GetString("branch")
	if branch == "" {
		branch = os.Getenv("CIRCLE_BRANCH")
	}
	if branch == "" {
		branch, err = repo.CurrentBranch()
		if err != nil {
			return fmt.Errorf("cannot determine the branch to resolve: %w", err)
		}
	}

	client := circleci.NewClient(os.Getenv("CIRCLE_TOKEN"))
	resolver := scope.NewResolver(scope.Options{
		TargetBranches: cfg.TargetBranches,
		RunOnlyChanged: cfg.RunOnlyChangedOnTargetBranches,
		History:        trigger.BuildHistory{Client: client, Project: trigger.ProjectFromEnv()},
		MergeBase:      repo,
		Changes:        catalog,
		Logger:         logger,
	})

	packages, err := catalog.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading package catalog: %w", err)
	}
	sc, err := resolver.Resolve(cmd.Context(), packages, branch)
	if err != nil {
		return err
	}

	names := sc.TriggerPackages.Names()
	if format == "json" {
		out, err := json.MarshalIndent(report{
			Branch:         branch,
			TargetBranch:   sc.TargetBranch,
			IsTargetBranch: sc.IsTargetBranch,
			Packages:       names,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling scope: %w", err)
		}
		return output.Document(osfs, append(out, '\n'))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "branch: %s\n", branch)
	if sc.TargetBranch != "" {
		fmt.Fprintf(&b, "target branch: %s\n", sc.TargetBranch)
	}
	fmt.Fprintf(&b, "is target branch: %t\n", sc.IsTargetBranch)
	fmt.Fprintf(&b, "packages (%d):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return output.Document(osfs, []byte(b.String()))
}
