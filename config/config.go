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

// Package config resolves the run configuration from flags, CIRCLETRON_*
// environment variables, and the workspace's .circletron.yaml, in that
// precedence order.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/1024pix/circletron/packagemanager"
)

// Configuration keys.
const (
	KeyRunOnlyChanged   = "runOnlyChangedOnTargetBranches"
	KeyTargetBranches   = "targetBranches"
	KeyPassTargetBranch = "passTargetBranch"
	KeyPackageManager   = "packageManager"
)

// DefaultTargetBranches matches the branches whose builds integrate work.
const DefaultTargetBranches = `^(release/.*|develop|main|master)$`

// RunConfig is the validated configuration for one run.
type RunConfig struct {
	// RunOnlyChangedOnTargetBranches diffs target-branch builds against
	// their last successful build instead of running everything.
	RunOnlyChangedOnTargetBranches bool
	// TargetBranches matches target branch names.
	TargetBranches *regexp.Regexp
	// PassTargetBranch forwards {targetBranch, isTargetBranch} pipeline
	// parameters with the continuation.
	PassTargetBranch bool
	// PackageManager is the listing strategy, lerna or yarn.
	PackageManager string
}

// Init wires defaults, environment and the optional workspace config file
// into v. cfgFile, when non-empty, overrides file discovery and must exist.
func Init(v *viper.Viper, root, cfgFile string) error {
	v.SetDefault(KeyRunOnlyChanged, false)
	v.SetDefault(KeyTargetBranches, DefaultTargetBranches)
	v.SetDefault(KeyPassTargetBranch, false)
	v.SetDefault(KeyPackageManager, "lerna")

	v.SetEnvPrefix("CIRCLETRON")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".circletron")
		v.SetConfigType("yaml")
		v.AddConfigPath(root)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading configuration: %w", err)
	}
	return nil
}

// Load validates the resolved values and returns the run configuration.
func Load(v *viper.Viper) (*RunConfig, error) {
	pattern := v.GetString(KeyTargetBranches)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern %q: %w", KeyTargetBranches, pattern, err)
	}

	manager := v.GetString(KeyPackageManager)
	if !slices.Contains(packagemanager.Names(), manager) {
		return nil, fmt.Errorf("invalid %s %q (supported: %s)",
			KeyPackageManager, manager, strings.Join(packagemanager.Names(), ", "))
	}

	return &RunConfig{
		RunOnlyChangedOnTargetBranches: v.GetBool(KeyRunOnlyChanged),
		TargetBranches:                 re,
		PassTargetBranch:               v.GetBool(KeyPassTargetBranch),
		PackageManager:                 manager,
	}, nil
}
