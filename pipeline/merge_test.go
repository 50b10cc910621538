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
package pipeline_test

import (
	"bytes"
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/1024pix/circletron/pipeline"
)

func parseFragment(t *testing.T, source string) *pipeline.Fragment {
	t.Helper()
	f, err := pipeline.Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return f
}

func decodeDocument(t *testing.T, doc *pipeline.Document) map[string]any {
	t.Helper()
	out, err := doc.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(out, &m); err != nil {
		t.Fatalf("Re-parsing encoded document failed: %v\n%s", err, out)
	}
	return m
}

func documentJobs(t *testing.T, doc *pipeline.Document) map[string]any {
	t.Helper()
	jobs, ok := decodeDocument(t, doc)["jobs"].(map[string]any)
	if !ok {
		t.Fatalf("Expected a jobs mapping in the document")
	}
	return jobs
}

func inScope(names ...string) func(string) bool {
	return func(pkg string) bool { return slices.Contains(names, pkg) }
}

func TestMergeEmitsEveryDeclaredJobExactlyOnce(t *testing.T) {
	root := parseFragment(t, `
jobs:
  bootstrap:
    steps:
      - checkout
`)
	fragments := []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, `
jobs:
  api-build:
    steps: [checkout]
  api-test:
    steps: [checkout]
`)},
		{Package: "web", Fragment: parseFragment(t, `
jobs:
  web-build:
    steps: [checkout]
  web-test:
    steps: [checkout]
`)},
	}

	doc, err := pipeline.Merge(root, fragments, inScope("api"))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	jobs := documentJobs(t, doc)
	want := []string{"api-build", "api-test", "bootstrap", "web-build", "web-test"}
	got := make([]string, 0, len(jobs))
	for name := range jobs {
		got = append(got, name)
	}
	slices.Sort(got)
	if !slices.Equal(got, want) {
		t.Errorf("Expected jobs %v, got %v", want, got)
	}
}

func TestMergeInScopeJobUnmodified(t *testing.T) {
	source := `
jobs:
  build:
    executor: default
    environment:
      NODE_ENV: production
    steps:
      - checkout
      - run:
          name: Build
          command: npm run build
`
	doc, err := pipeline.Merge(nil, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, source)},
	}, inScope("api"))
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	var expected map[string]any
	if err := yaml.Unmarshal([]byte(source), &expected); err != nil {
		t.Fatalf("Failed to unmarshal source: %v", err)
	}
	expectedBody := expected["jobs"].(map[string]any)["build"]

	if got := documentJobs(t, doc)["build"]; !reflect.DeepEqual(got, expectedBody) {
		t.Errorf("In-scope job altered:\n  want: %#v\n  got:  %#v", expectedBody, got)
	}
}

func TestMergeNonConditionalJobSurvivesOutOfScope(t *testing.T) {
	doc, err := pipeline.Merge(nil, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, `
jobs:
  release:
    conditional: false
    machine: true
    steps:
      - run: ./release.sh
`)},
	}, inScope())
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	body, ok := documentJobs(t, doc)["release"].(map[string]any)
	if !ok {
		t.Fatalf("Expected release job mapping")
	}
	if _, isPlaceholder := body["docker"]; isPlaceholder {
		t.Errorf("Non-conditional job was replaced with a placeholder: %#v", body)
	}
	if body["machine"] != true {
		t.Errorf("Expected original job body, got %#v", body)
	}
	if _, leaked := body["conditional"]; leaked {
		t.Errorf("conditional key leaked into the document: %#v", body)
	}
}

func TestMergePlaceholderPreservesOnlyParameters(t *testing.T) {
	source := `
jobs:
  test:
    parameters:
      shard:
        type: integer
        default: 1
    executor: default
    steps:
      - run: npm test
`
	doc, err := pipeline.Merge(nil, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, source)},
	}, inScope())
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	body, ok := documentJobs(t, doc)["test"].(map[string]any)
	if !ok {
		t.Fatalf("Expected test job mapping")
	}

	keys := slices.Sorted(maps.Keys(body))
	if !slices.Equal(keys, []string{"docker", "parameters", "steps"}) {
		t.Fatalf("Placeholder carries unexpected fields: %v", keys)
	}

	var expected map[string]any
	if err := yaml.Unmarshal([]byte(source), &expected); err != nil {
		t.Fatalf("Failed to unmarshal source: %v", err)
	}
	wantParams := expected["jobs"].(map[string]any)["test"].(map[string]any)["parameters"]
	if !reflect.DeepEqual(body["parameters"], wantParams) {
		t.Errorf("Placeholder parameters differ:\n  want: %#v\n  got:  %#v", wantParams, body["parameters"])
	}
}

func TestMergePlaceholderWithoutParameters(t *testing.T) {
	doc, err := pipeline.Merge(nil, []pipeline.PackageFragment{
		{Package: "web", Fragment: parseFragment(t, `
jobs:
  web-build:
    executor: default
    steps:
      - run: npm run build
`)},
	}, inScope())
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	body, ok := documentJobs(t, doc)["web-build"].(map[string]any)
	if !ok {
		t.Fatalf("Expected web-build job mapping")
	}
	if _, exists := body["parameters"]; exists {
		t.Errorf("Placeholder invented a parameters field: %#v", body)
	}
	steps, ok := body["steps"].([]any)
	if !ok || len(steps) != 1 {
		t.Fatalf("Expected a single no-op step, got %#v", body["steps"])
	}
}

func TestMergeDuplicateJob(t *testing.T) {
	fragments := []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, "jobs:\n  build:\n    steps: [checkout]\n")},
		{Package: "web", Fragment: parseFragment(t, "jobs:\n  build:\n    steps: [checkout]\n")},
	}

	doc, err := pipeline.Merge(nil, fragments, nil)
	if doc != nil {
		t.Errorf("Expected no document on duplicate job")
	}

	var dup *pipeline.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateError, got %v", err)
	}
	if dup.Section != "jobs" || dup.Name != "build" {
		t.Errorf("Expected jobs/build in error, got %+v", dup)
	}
	for _, want := range []string{"jobs", "build", "api", "web"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error %q should mention %q", err.Error(), want)
		}
	}
}

func TestMergeDuplicateWorkflow(t *testing.T) {
	fragments := []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, "workflows:\n  release:\n    jobs: [api-build]\n")},
		{Package: "web", Fragment: parseFragment(t, "workflows:\n  release:\n    jobs: [web-build]\n")},
	}

	_, err := pipeline.Merge(nil, fragments, nil)
	var dup *pipeline.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateError, got %v", err)
	}
	if dup.Section != "workflows" || dup.Name != "release" {
		t.Errorf("Expected workflows/release, got %+v", dup)
	}
}

func TestMergeRootFragment(t *testing.T) {
	root := parseFragment(t, `
version: 2.1
parameters:
  targetBranch:
    type: string
    default: ""
  isTargetBranch:
    type: boolean
    default: false
orbs:
  slack: circleci/slack@4.12.5
jobs:
  notify:
    steps:
      - run: echo done
`)

	doc, err := pipeline.Merge(root, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, "jobs:\n  api-build:\n    steps: [checkout]\n")},
	}, inScope())
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	decoded := decodeDocument(t, doc)
	if _, exists := decoded["parameters"]; !exists {
		t.Errorf("Root fragment extras should pass through, got keys %v", decoded)
	}
	if orbs, ok := decoded["orbs"].(map[string]any); !ok || orbs["slack"] == nil {
		t.Errorf("Root orbs missing: %#v", decoded["orbs"])
	}

	jobs := documentJobs(t, doc)
	notify, ok := jobs["notify"].(map[string]any)
	if !ok {
		t.Fatalf("Expected root notify job")
	}
	if _, isPlaceholder := notify["docker"]; isPlaceholder {
		t.Errorf("Root job was replaced with a placeholder: %#v", notify)
	}
}

func TestMergePackageExtrasIgnored(t *testing.T) {
	doc, err := pipeline.Merge(nil, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, `
parameters:
  only-root-may: {type: string, default: ""}
jobs:
  api-build:
    steps: [checkout]
`)},
	}, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if _, exists := decodeDocument(t, doc)["parameters"]; exists {
		t.Errorf("Package fragment extras must not be emitted")
	}
}

func TestMergeJobCollidingWithRootJob(t *testing.T) {
	root := parseFragment(t, "jobs:\n  bootstrap:\n    steps: [checkout]\n")
	_, err := pipeline.Merge(root, []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, "jobs:\n  bootstrap:\n    steps: [checkout]\n")},
	}, nil)

	var dup *pipeline.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateError, got %v", err)
	}
	if !strings.Contains(err.Error(), "root fragment") {
		t.Errorf("Error should name the root fragment as prior owner: %v", err)
	}
}

func TestMergeDefaultVersion(t *testing.T) {
	doc, err := pipeline.Merge(nil, nil, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if doc.Version() != "2.1" {
		t.Errorf("Expected default version 2.1, got %q", doc.Version())
	}
	if decoded := decodeDocument(t, doc); decoded["version"] != 2.1 {
		t.Errorf("Expected version: 2.1 in output, got %#v", decoded["version"])
	}
}

func TestMergeRootVersionWins(t *testing.T) {
	root := parseFragment(t, "version: 2\n")
	doc, err := pipeline.Merge(root, nil, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if doc.Version() != "2" {
		t.Errorf("Expected version 2, got %q", doc.Version())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	fragments := []pipeline.PackageFragment{
		{Package: "api", Fragment: parseFragment(t, `
orbs:
  node: circleci/node@5
jobs:
  api-build:
    steps: [checkout]
workflows:
  api:
    jobs: [api-build]
`)},
	}

	first, err := pipeline.Merge(nil, fragments, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	second, err := pipeline.Merge(nil, fragments, nil)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	a, err := first.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, err := second.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("Encoding is not deterministic:\n%s\n---\n%s", a, b)
	}
	if !bytes.HasPrefix(a, []byte("version:")) {
		t.Errorf("Expected version tag first, got:\n%s", a)
	}
}
