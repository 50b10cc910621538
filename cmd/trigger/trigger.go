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

// Package trigger provides the trigger command for circletron.
package trigger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

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

// Cmd is the trigger cobra command that assembles the continuation
// configuration for the current build and submits it to CircleCI.
var Cmd = &cobra.Command{
	Use:   "trigger",
	Short: "Generate the continuation configuration and continue the pipeline",
	Long: `Generate the continuation configuration for the current build and continue the pipeline.

Packages are discovered through the configured package manager, their
.circleci/config.yml fragments merged into one configuration, and jobs of
packages outside the build scope replaced with skip placeholders. The result
is submitted to the CircleCI continuation endpoint.`,
	Example: `  # Inside a setup workflow job
  circletron trigger

  # Inspect the configuration a branch would submit
  circletron trigger --branch feat/checkout --dry-run

  # Write the merged configuration to a file instead of stdout
  circletron trigger --dry-run -o generated.yml`,
	RunE: run,
}

func init() {
	Cmd.Flags().String("branch", "", "Branch being built (default: $CIRCLE_BRANCH)")
	Cmd.Flags().Bool("dry-run", false, "Print the merged configuration without continuing the pipeline")
}

func run(cmd *cobra.Command, args []string) error {
	osfs := fs.NewOSFileSystem()

	absRoot, err := filepath.Abs(viper.GetString("root"))
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	key := os.Getenv("CIRCLE_CONTINUATION_KEY")
	if !dryRun && key == "" {
		return fmt.Errorf("CIRCLE_CONTINUATION_KEY is not set: run inside a setup workflow, or use --dry-run")
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
			return fmt.Errorf("cannot determine the branch being built: %w", err)
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

	doc, err := trigger.Run(cmd.Context(), catalog, resolver, client, trigger.Options{
		Branch:           branch,
		ContinuationKey:  key,
		PassTargetBranch: cfg.PassTargetBranch,
		DryRun:           dryRun,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if dryRun {
		return output.Document(osfs, doc)
	}
	return nil
}
