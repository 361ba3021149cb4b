package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeScript(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tool.toml"), `
name = "well_tops"
description = "formation tops for a well"
triggers = ["tops for (\\S+)", "formation tops"]
run = "sh run.sh"
argument = "well"
default = "all"
timeout = 10
`)

	sc, err := LoadScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Manifest.Name != "well_tops" {
		t.Errorf("name = %q, want well_tops", sc.Manifest.Name)
	}
	if sc.Manifest.Argument != "well" || sc.Manifest.Default != "all" {
		t.Errorf("argument = %q default = %q", sc.Manifest.Argument, sc.Manifest.Default)
	}
	if sc.Manifest.Timeout != 10 {
		t.Errorf("timeout = %d, want 10", sc.Manifest.Timeout)
	}
	if len(sc.Patterns) != 2 {
		t.Errorf("patterns = %d, want 2", len(sc.Patterns))
	}
	if !filepath.IsAbs(sc.Dir) {
		t.Errorf("dir %q is not absolute", sc.Dir)
	}
}

func TestLoadScriptDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tool.toml"), `
name = "minimal"
run = "echo ok"
`)
	sc, err := LoadScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Manifest.Argument != "input" {
		t.Errorf("argument = %q, want input", sc.Manifest.Argument)
	}
	if sc.Manifest.Timeout != 0 {
		t.Errorf("timeout = %d, want 0 (server default)", sc.Manifest.Timeout)
	}
}

func TestLoadScriptErrors(t *testing.T) {
	cases := map[string]string{
		"missing name": `run = "echo"`,
		"missing run":  `name = "x"`,
		"bad name":     "name = \"Bad-Name\"\nrun = \"echo\"",
		"bad trigger":  "name = \"x\"\nrun = \"echo\"\ntriggers = [\"(\"]",
		"neg timeout":  "name = \"x\"\nrun = \"echo\"\ntimeout = -1",
		"invalid toml": "name = ",
	}
	for label, body := range cases {
		t.Run(label, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "tool.toml"), body)
			if _, err := LoadScript(dir); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadScriptsSkipsDirsWithoutManifest(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "a", "tool.toml"), "name = \"a\"\nrun = \"echo a\"")
	writeFile(t, filepath.Join(base, "notes", "README.md"), "not a tool")
	writeFile(t, filepath.Join(base, "loose.toml"), "name = \"loose\"")

	scripts, err := LoadScripts(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 || scripts[0].Manifest.Name != "a" {
		t.Fatalf("scripts = %+v", scripts)
	}
}

func TestLoadScriptsMissingDir(t *testing.T) {
	scripts, err := LoadScripts(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if scripts != nil {
		t.Fatalf("expected nil, got %v", scripts)
	}
}
