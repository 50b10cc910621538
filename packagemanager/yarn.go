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
	"encoding/json"
	"path"
	"strings"
)

// Yarn lists packages with yarn berry's workspaces command.
type Yarn struct {
	runner Runner
}

// NewYarn creates a yarn provider backed by the given runner.
func NewYarn(runner Runner) *Yarn {
	return &Yarn{runner: runner}
}

// Name returns "yarn".
func (y *Yarn) Name() string {
	return "yarn"
}

// List returns every workspace except the root one.
func (y *Yarn) List(ctx context.Context, root string) ([]Entry, error) {
	out, err := y.runner.Run(ctx, root, "yarn", "workspaces", "list", "--json")
	if err != nil {
		return nil, err
	}
	return parseYarnLines(out)
}

// ChangedSince returns the workspaces yarn reports as changed since ref.
func (y *Yarn) ChangedSince(ctx context.Context, root, ref string) ([]Entry, error) {
	out, err := y.runner.Run(ctx, root, "yarn", "workspaces", "list", "--json", "--since="+ref)
	if err != nil {
		return nil, err
	}
	return parseYarnLines(out)
}

// workspaceLine is yarn's NDJSON record for one workspace.
type workspaceLine struct {
	Location string `json:"location"`
	Name     string `json:"name"`
}

func parseYarnLines(out []byte) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ws workspaceLine
		if err := json.Unmarshal([]byte(line), &ws); err != nil {
			return nil, &LineError{Line: line, Reason: err.Error()}
		}
		if ws.Location == "" || ws.Name == "" {
			return nil, &LineError{Line: line, Reason: "missing location or name"}
		}
		// The root workspace hosts the setup pipeline, not a package.
		if ws.Location == "." {
			continue
		}
		entries = append(entries, Entry{Dir: path.Clean(ws.Location), Name: ws.Name})
	}
	return entries, nil
}
