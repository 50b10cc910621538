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

// Package packagemanager lists monorepo workspace packages by shelling out
// to the repo's package manager. Two strategies are supported: lerna and
// yarn (berry). Both report every package and, given a git ref, the subset
// the manager considers changed since that ref.
package packagemanager

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Entry is one workspace package as reported by the package manager.
type Entry struct {
	// Dir is the package directory relative to the workspace root.
	Dir string
	// Name is the package name from its manifest.
	Name string
}

// Provider lists workspace packages using one package-manager strategy.
type Provider interface {
	// Name returns the strategy name as used in configuration.
	Name() string
	// List returns every workspace package.
	List(ctx context.Context, root string) ([]Entry, error)
	// ChangedSince returns the packages the manager reports as changed
	// since the given git ref.
	ChangedSince(ctx context.Context, root, ref string) ([]Entry, error)
}

// Runner executes a package-manager command in a directory and returns
// its stdout.
type Runner interface {
	Run(ctx context.Context, dir, program string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes the command in dir, capturing stdout and stderr separately.
// A non-zero exit returns a CommandError carrying the captured stderr.
func (ExecRunner) Run(ctx context.Context, dir, program string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &CommandError{
			Command: strings.Join(append([]string{program}, args...), " "),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}

// Names returns the supported package manager names.
func Names() []string {
	return []string{"lerna", "yarn"}
}

// ByName returns the provider for a configured package manager name.
func ByName(name string, runner Runner) (Provider, error) {
	switch name {
	case "lerna":
		return NewLerna(runner), nil
	case "yarn":
		return NewYarn(runner), nil
	default:
		return nil, fmt.Errorf("unknown package manager %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
}
