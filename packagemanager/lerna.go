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

package packagemanager

import (
	"context"
	"path/filepath"
	"strings"
)

// Lerna lists packages with lerna's machine-readable --parseable output.
type Lerna struct {
	runner Runner
}

// NewLerna creates a lerna provider backed by the given runner.
func NewLerna(runner Runner) *Lerna {
	return &Lerna{runner: runner}
}

// Name returns "lerna".
func (l *Lerna) Name() string {
	return "lerna"
}

// List returns every package lerna knows about, private ones included.
func (l *Lerna) List(ctx context.Context, root string) ([]Entry, error) {
	out, err := l.runner.Run(ctx, root, "npx", "--no-install", "lerna", "la", "--all", "--parseable")
	if err != nil {
		return nil, err
	}
	return parseLernaLines(root, out)
}

// ChangedSince returns the packages lerna reports as changed since ref.
func (l *Lerna) ChangedSince(ctx context.Context, root, ref string) ([]Entry, error) {
	out, err := l.runner.Run(ctx, root, "npx", "--no-install", "lerna", "la", "--all", "--parseable", "--since", ref)
	if err != nil {
		return nil, err
	}
	return parseLernaLines(root, out)
}

// parseLernaLines parses --parseable output: one package per line, fields
// separated by colons. Long format is path:name:version[:PRIVATE]; anything
// past the second field is ignored. Empty output means no packages.
func parseLernaLines(root string, out []byte) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 2 {
			return nil, &LineError{Line: line, Reason: "expected at least path:name"}
		}
		if fields[1] == "" {
			return nil, &LineError{Line: line, Reason: "empty package name"}
		}
		dir, err := relativeDir(root, fields[0])
		if err != nil {
			return nil, &LineError{Line: line, Reason: err.Error()}
		}
		entries = append(entries, Entry{Dir: dir, Name: fields[1]})
	}
	return entries, nil
}

// relativeDir rewrites lerna's absolute package paths relative to the
// workspace root so fragment lookups stay root-relative.
func relativeDir(root, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return filepath.ToSlash(filepath.Clean(dir)), nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, dir)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
