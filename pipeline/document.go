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
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultVersion is the config version emitted when no root fragment
// declares one. Continuation pipelines require 2.1 documents.
const DefaultVersion = "2.1"

// sectionOrder fixes the emission order of merged sections.
var sectionOrder = []string{
	SectionOrbs,
	SectionExecutors,
	SectionCommands,
	SectionJobs,
	SectionWorkflows,
}

// Document is the merged pipeline configuration. Build one with Merge;
// a Document is never mutated after it is returned.
type Document struct {
	version  *yaml.Node
	extras   []Entry
	sections map[string][]Entry
	owners   map[string]map[string]string
}

func newDocument() *Document {
	return &Document{
		sections: make(map[string][]Entry, len(sectionOrder)),
		owners:   make(map[string]map[string]string, len(sectionOrder)),
	}
}

// insert adds a named entry to a section, failing when the name is already
// taken by any fragment merged earlier.
func (d *Document) insert(section, name, owner string, node *yaml.Node) error {
	names := d.owners[section]
	if names == nil {
		names = make(map[string]string)
		d.owners[section] = names
	}
	if prior, exists := names[name]; exists {
		return &DuplicateError{Section: section, Name: name, Package: owner, Prior: prior}
	}
	names[name] = owner
	d.sections[section] = append(d.sections[section], Entry{Name: name, Node: node})
	return nil
}

// Section returns the merged entries of a named section in insertion order.
func (d *Document) Section(name string) []Entry {
	return d.sections[name]
}

// Jobs returns the merged jobs in insertion order.
func (d *Document) Jobs() []Entry {
	return d.sections[SectionJobs]
}

// Version returns the emitted version tag as a string.
func (d *Document) Version() string {
	if d.version == nil {
		return DefaultVersion
	}
	return d.version.Value
}

// Encode serializes the document to YAML with 2-space indentation. Sections
// appear in a fixed order; entries keep their insertion order.
func (d *Document) Encode() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	version := d.version
	if version == nil {
		version = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: DefaultVersion}
	}
	appendPair(root, scalarNode("version"), version)

	for _, extra := range d.extras {
		appendPair(root, scalarNode(extra.Name), extra.Node)
	}

	for _, section := range sectionOrder {
		entries := d.sections[section]
		if len(entries) == 0 {
			continue
		}
		mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, entry := range entries {
			appendPair(mapping, scalarNode(entry.Name), entry.Node)
		}
		appendPair(root, scalarNode(section), mapping)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding pipeline configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding pipeline configuration: %w", err)
	}
	return buf.Bytes(), nil
}

func appendPair(mapping *yaml.Node, key, value *yaml.Node) {
	mapping.Content = append(mapping.Content, key, value)
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func mappingNode(pairs ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Content: pairs}
}

func sequenceNode(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}
