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
package workspace_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/1024pix/circletron/internal/mapfs"
	"github.com/1024pix/circletron/packagemanager"
	"github.com/1024pix/circletron/workspace"
)

type fakeProvider struct {
	entries []packagemanager.Entry
	changed []packagemanager.Entry
	err     error
	gotRef  string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) List(ctx context.Context, root string) ([]packagemanager.Entry, error) {
	return f.entries, f.err
}

func (f *fakeProvider) ChangedSince(ctx context.Context, root, ref string) ([]packagemanager.Entry, error) {
	f.gotRef = ref
	return f.changed, f.err
}

const fragmentTemplate = `jobs:
  %s-build:
    steps: [checkout]
workflows:
  %s:
    jobs: [%s-build]
`

func fragmentFor(name string) string {
	return fmt.Sprintf(fragmentTemplate, name, name, name)
}

func TestLoadCatalog(t *testing.T) {
	fsys := mapfs.New()
	fsys.AddFile("packages/api/.circleci/config.yml", fragmentFor("api"), 0644)
	fsys.AddFile("packages/web/.circleci/config.yml", fragmentFor("web"), 0644)

	provider := &fakeProvider{entries: []packagemanager.Entry{
		{Dir: "packages/api", Name: "api"},
		{Dir: "packages/docs", Name: "docs"}, // no fragment
		{Dir: "packages/web", Name: "web"},
	}}

	packages, err := workspace.New(fsys, provider, ".").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []string{"api", "web"}
	if got := workspace.Names(packages); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected packages %v, got %v", want, got)
	}
	for _, pkg := range packages {
		if len(pkg.Fragment.Jobs) != 1 {
			t.Errorf("Package %s: expected one job in fragment, got %d", pkg.Name, len(pkg.Fragment.Jobs))
		}
	}
}

func TestLoadSkipsMalformedFragment(t *testing.T) {
	fsys := mapfs.New()
	fsys.AddFile("packages/api/.circleci/config.yml", fragmentFor("api"), 0644)
	fsys.AddFile("packages/web/.circleci/config.yml", "jobs: [not, a, mapping]\n", 0644)

	provider := &fakeProvider{entries: []packagemanager.Entry{
		{Dir: "packages/api", Name: "api"},
		{Dir: "packages/web", Name: "web"},
	}}

	packages, err := workspace.New(fsys, provider, ".").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := workspace.Names(packages); !reflect.DeepEqual(got, []string{"api"}) {
		t.Errorf("Expected the malformed package dropped, got %v", got)
	}
}

func TestLoadPreservesProviderOrder(t *testing.T) {
	fsys := mapfs.New()
	var entries []packagemanager.Entry
	var want []string
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("pkg-%02d", i)
		fsys.AddFile("packages/"+name+"/.circleci/config.yml", fragmentFor(name), 0644)
		entries = append(entries, packagemanager.Entry{Dir: "packages/" + name, Name: name})
		want = append(want, name)
	}

	catalog := workspace.New(fsys, &fakeProvider{entries: entries}, ".").WithParallel(4)
	packages, err := catalog.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := workspace.Names(packages); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected provider order preserved, got %v", got)
	}
}

func TestLoadProviderError(t *testing.T) {
	boom := errors.New("lerna exploded")
	_, err := workspace.New(mapfs.New(), &fakeProvider{err: boom}, ".").Load(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Expected the provider error, got %v", err)
	}
}

func TestChangedSince(t *testing.T) {
	provider := &fakeProvider{changed: []packagemanager.Entry{
		{Dir: "packages/api", Name: "api"},
		{Dir: "packages/web", Name: "web"},
	}}

	names, err := workspace.New(mapfs.New(), provider, ".").ChangedSince(context.Background(), "4fa2c1b")
	if err != nil {
		t.Fatalf("ChangedSince failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"api", "web"}) {
		t.Errorf("Expected changed names, got %v", names)
	}
	if provider.gotRef != "4fa2c1b" {
		t.Errorf("Expected ref passed to provider, got %q", provider.gotRef)
	}
}

func TestRootFragment(t *testing.T) {
	fsys := mapfs.New()
	fsys.AddFile(".circleci/base.yml", "version: 2.1\norbs:\n  node: circleci/node@5\n", 0644)

	frag, err := workspace.New(fsys, &fakeProvider{}, ".").RootFragment()
	if err != nil {
		t.Fatalf("RootFragment failed: %v", err)
	}
	if frag == nil || len(frag.Orbs) != 1 {
		t.Errorf("Expected the root fragment with one orb, got %+v", frag)
	}
}

func TestRootFragmentAbsent(t *testing.T) {
	frag, err := workspace.New(mapfs.New(), &fakeProvider{}, ".").RootFragment()
	if err != nil {
		t.Fatalf("RootFragment failed: %v", err)
	}
	if frag != nil {
		t.Errorf("Expected nil fragment without a base file, got %+v", frag)
	}
}

func TestRootFragmentMalformed(t *testing.T) {
	fsys := mapfs.New()
	fsys.AddFile(".circleci/base.yml", "- not\n- a\n- mapping\n", 0644)

	_, err := workspace.New(fsys, &fakeProvider{}, ".").RootFragment()
	if err == nil {
		t.Fatal("Expected an error for a malformed root fragment")
	}
	if !strings.Contains(err.Error(), ".circleci/base.yml") {
		t.Errorf("Expected the fragment path in the error, got %v", err)
	}
}
