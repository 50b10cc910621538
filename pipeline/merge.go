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
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rootOwner labels the root fragment in duplicate errors.
const rootOwner = "the root fragment"

// PackageFragment pairs a fragment with the package that declared it.
type PackageFragment struct {
	Package  string
	Fragment *Fragment
}

// DuplicateError reports two fragments declaring the same named entry under
// the same section. This is an authoring bug; the run aborts without
// emitting a document.
type DuplicateError struct {
	Section string
	Name    string
	Package string
	Prior   string
}

func (e *DuplicateError) Error() string {
	if e.Package == e.Prior {
		return fmt.Sprintf("duplicate %s entry %q: declared twice by %s", e.Section, e.Name, e.Package)
	}
	return fmt.Sprintf("duplicate %s entry %q: declared by %s, already declared by %s", e.Section, e.Name, e.Package, e.Prior)
}

// Merge combines the optional root fragment and every package fragment into
// one document.
//
// Section entries and job names must be unique across all fragments; a
// collision aborts with a DuplicateError. Jobs of packages outside the
// trigger scope are replaced with skip placeholders that preserve only the
// original job's parameters, so required status checks complete instead of
// hanging on a missing job. Jobs declared `conditional: false` and jobs of
// the root fragment always survive unmodified. A nil inScope treats every
// package as in scope.
func Merge(root *Fragment, fragments []PackageFragment, inScope func(pkg string) bool) (*Document, error) {
	doc := newDocument()

	if root != nil {
		doc.version = root.Version
		doc.extras = root.Extra
		if err := mergeSections(doc, rootOwner, root); err != nil {
			return nil, err
		}
		for _, job := range root.Jobs {
			if err := doc.insert(SectionJobs, job.Name, rootOwner, job.Node); err != nil {
				return nil, err
			}
		}
	}

	for _, pf := range fragments {
		owner := fmt.Sprintf("package %q", pf.Package)
		if err := mergeSections(doc, owner, pf.Fragment); err != nil {
			return nil, err
		}
		for _, job := range pf.Fragment.Jobs {
			node := job.Node
			if job.Conditional && inScope != nil && !inScope(pf.Package) {
				node = placeholderJob(pf.Package, job.Parameters)
			}
			if err := doc.insert(SectionJobs, job.Name, owner, node); err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}

func mergeSections(doc *Document, owner string, f *Fragment) error {
	for _, section := range []struct {
		name    string
		entries []Entry
	}{
		{SectionOrbs, f.Orbs},
		{SectionExecutors, f.Executors},
		{SectionCommands, f.Commands},
		{SectionWorkflows, f.Workflows},
	} {
		for _, entry := range section.entries {
			if err := doc.insert(section.name, entry.Name, owner, entry.Node); err != nil {
				return err
			}
		}
	}
	return nil
}

// placeholderJob builds the no-op job substituted for an out-of-scope job.
// CircleCI treats a missing required status check as permanently pending, so
// skipped jobs must still run and succeed. Only `parameters` is carried over
// from the original definition.
func placeholderJob(pkg string, parameters *yaml.Node) *yaml.Node {
	body := mappingNode()
	if parameters != nil {
		appendPair(body, scalarNode("parameters"), parameters)
	}
	appendPair(body, scalarNode("docker"), sequenceNode(
		mappingNode(scalarNode("image"), scalarNode("cimg/base:stable")),
	))
	appendPair(body, scalarNode("steps"), sequenceNode(
		mappingNode(scalarNode("run"), mappingNode(
			scalarNode("name"), scalarNode("Skip"),
			scalarNode("command"), scalarNode(fmt.Sprintf("echo 'No changes in %s since the reference build; job skipped.'", pkg)),
		)),
	))
	return body
}
