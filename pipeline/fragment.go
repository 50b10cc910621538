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
// Package pipeline provides types and operations for CircleCI pipeline
// configurations assembled from per-package fragments. Fragments and the
// merged document are manipulated as yaml.Node trees so that
// provider-specific fields circletron knows nothing about survive the merge
// byte-faithfully and key order stays deterministic.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/1024pix/circletron/fs"
)

// Section names with merge semantics. Any other top-level key is opaque.
const (
	SectionOrbs      = "orbs"
	SectionExecutors = "executors"
	SectionCommands  = "commands"
	SectionJobs      = "jobs"
	SectionWorkflows = "workflows"
)

// Entry is one named entry of a mapping section, in declaration order.
type Entry struct {
	Name string
	Node *yaml.Node
}

// Job is a job definition declared by a fragment. The circletron-specific
// `conditional` key is stripped from Node during parsing; it defaults to
// true and is recorded in Conditional.
type Job struct {
	Name string
	Node *yaml.Node

	// Conditional jobs are replaced with a skip placeholder when their
	// package is out of scope. Non-conditional jobs always run.
	Conditional bool

	// Parameters points at the job's `parameters` mapping inside Node, if
	// any. Placeholders preserve it so parameterized workflow invocations
	// keep resolving.
	Parameters *yaml.Node
}

// Fragment is one package's partial pipeline configuration (or the optional
// root fragment). All sections are optional.
type Fragment struct {
	Version   *yaml.Node
	Orbs      []Entry
	Executors []Entry
	Commands  []Entry
	Jobs      []Job
	Workflows []Entry

	// Dependencies lists package names whose changes put this package in
	// scope too.
	Dependencies []string

	// Extra holds top-level entries outside the merged sections (for
	// example pipeline `parameters`). Only the root fragment's extras are
	// emitted; see Merge.
	Extra []Entry
}

// Parse parses YAML data into a Fragment. An empty document is a valid,
// empty fragment. A non-mapping document is an error.
func Parse(data []byte) (*Fragment, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return &Fragment{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fragment must be a mapping document")
	}

	f := &Fragment{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "version":
			f.Version = value
		case "dependencies":
			if err := value.Decode(&f.Dependencies); err != nil {
				return nil, fmt.Errorf("dependencies must be a list of package names: %w", err)
			}
		case SectionOrbs:
			entries, err := sectionEntries(key.Value, value)
			if err != nil {
				return nil, err
			}
			f.Orbs = entries
		case SectionExecutors:
			entries, err := sectionEntries(key.Value, value)
			if err != nil {
				return nil, err
			}
			f.Executors = entries
		case SectionCommands:
			entries, err := sectionEntries(key.Value, value)
			if err != nil {
				return nil, err
			}
			f.Commands = entries
		case SectionWorkflows:
			entries, err := sectionEntries(key.Value, value)
			if err != nil {
				return nil, err
			}
			f.Workflows = entries
		case SectionJobs:
			jobs, err := jobEntries(value)
			if err != nil {
				return nil, err
			}
			f.Jobs = jobs
		default:
			f.Extra = append(f.Extra, Entry{Name: key.Value, Node: value})
		}
	}
	return f, nil
}

// ParseFile reads and parses a fragment file.
func ParseFile(fsys fs.FileSystem, path string) (*Fragment, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// sectionEntries projects a mapping section into ordered entries. An
// explicit null section is treated as empty.
func sectionEntries(section string, node *yaml.Node) ([]Entry, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("section %q must be a mapping", section)
	}
	entries := make([]Entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		entries = append(entries, Entry{Name: node.Content[i].Value, Node: node.Content[i+1]})
	}
	return entries, nil
}

// jobEntries projects the jobs section, extracting and stripping the
// `conditional` key and locating `parameters` in each job body.
func jobEntries(node *yaml.Node) ([]Job, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("section %q must be a mapping", SectionJobs)
	}
	jobs := make([]Job, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, body := node.Content[i].Value, node.Content[i+1]
		job := Job{Name: name, Node: body, Conditional: true}

		if body.Kind == yaml.MappingNode {
			kept := make([]*yaml.Node, 0, len(body.Content))
			for j := 0; j+1 < len(body.Content); j += 2 {
				key, value := body.Content[j], body.Content[j+1]
				if key.Value == "conditional" {
					if err := value.Decode(&job.Conditional); err != nil {
						return nil, fmt.Errorf("job %q: conditional must be a boolean: %w", name, err)
					}
					continue
				}
				if key.Value == "parameters" {
					job.Parameters = value
				}
				kept = append(kept, key, value)
			}
			body.Content = kept
		}

		jobs = append(jobs, job)
	}
	return jobs, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}
