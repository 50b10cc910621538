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
package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/1024pix/circletron/config"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	if err := config.Init(v, t.TempDir(), ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RunOnlyChangedOnTargetBranches {
		t.Error("Expected runOnlyChangedOnTargetBranches off by default")
	}
	if cfg.PassTargetBranch {
		t.Error("Expected passTargetBranch off by default")
	}
	if cfg.PackageManager != "lerna" {
		t.Errorf("Expected lerna by default, got %q", cfg.PackageManager)
	}
	for branch, want := range map[string]bool{
		"develop":         true,
		"main":            true,
		"master":          true,
		"release/2026-02": true,
		"pix-1234-thing":  false,
		"developer":       false,
	} {
		if got := cfg.TargetBranches.MatchString(branch); got != want {
			t.Errorf("TargetBranches.MatchString(%q) = %v, want %v", branch, got, want)
		}
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	root := t.TempDir()
	cfgYAML := strings.Join([]string{
		"runOnlyChangedOnTargetBranches: true",
		"passTargetBranch: true",
		"packageManager: yarn",
		`targetBranches: "^(main|integration)$"`,
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(root, ".circletron.yaml"), []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	if err := config.Init(v, root, ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.RunOnlyChangedOnTargetBranches || !cfg.PassTargetBranch {
		t.Errorf("Expected file values applied, got %+v", cfg)
	}
	if cfg.PackageManager != "yarn" {
		t.Errorf("Expected yarn, got %q", cfg.PackageManager)
	}
	if !cfg.TargetBranches.MatchString("integration") || cfg.TargetBranches.MatchString("develop") {
		t.Errorf("Expected the file's pattern, got %v", cfg.TargetBranches)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CIRCLETRON_PACKAGEMANAGER", "yarn")
	t.Setenv("CIRCLETRON_PASSTARGETBRANCH", "true")

	v := viper.New()
	if err := config.Init(v, t.TempDir(), ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.PackageManager != "yarn" {
		t.Errorf("Expected yarn from environment, got %q", cfg.PackageManager)
	}
	if !cfg.PassTargetBranch {
		t.Error("Expected passTargetBranch from environment")
	}
}

func TestInitExplicitFileMissing(t *testing.T) {
	v := viper.New()
	err := config.Init(v, t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected an error for a missing explicit config file")
	}
}

func TestLoadInvalidPattern(t *testing.T) {
	v := viper.New()
	if err := config.Init(v, t.TempDir(), ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	v.Set(config.KeyTargetBranches, "^(unclosed")

	_, err := config.Load(v)
	if err == nil || !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("Expected the offending pattern in the error, got %v", err)
	}
}

func TestLoadUnknownPackageManager(t *testing.T) {
	v := viper.New()
	if err := config.Init(v, t.TempDir(), ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	v.Set(config.KeyPackageManager, "pnpm")

	_, err := config.Load(v)
	if err == nil || !strings.Contains(err.Error(), "pnpm") {
		t.Errorf("Expected the offending manager in the error, got %v", err)
	}
}
