package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

const manifestFile = "tool.toml"

// Manifest is the tool.toml schema for script tools.
type Manifest struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Triggers    []string `toml:"triggers"` // regex patterns matched against queries; group 1 becomes the argument
	Run         string   `toml:"run"`      // command to execute (e.g. "python3 run.py")
	Argument    string   `toml:"argument"` // name of the single string argument (default: "input")
	Default     string   `toml:"default"`  // argument used when a trigger has no capture
	Timeout     int      `toml:"timeout"`  // seconds; 0 uses the server's tool timeout
}

// Script is a loaded script tool.
type Script struct {
	Manifest Manifest
	Dir      string
	Patterns []*regexp.Regexp
}

// LoadScripts reads every subdirectory of baseDir that holds a tool.toml.
// A missing baseDir yields no scripts.
func LoadScripts(baseDir string) ([]*Script, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tools: read dir %s: %w", baseDir, err)
	}

	var scripts []*Script
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, manifestFile)); os.IsNotExist(err) {
			continue
		}
		sc, err := LoadScript(dir)
		if err != nil {
			return nil, fmt.Errorf("tools: load %s: %w", entry.Name(), err)
		}
		scripts = append(scripts, sc)
	}
	return scripts, nil
}

// LoadScript reads a single script tool from its directory.
func LoadScript(dir string) (*Script, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(abs, manifestFile), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestFile, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%s missing required field: name", manifestFile)
	}
	if !validName.MatchString(m.Name) {
		return nil, fmt.Errorf("invalid tool name %q", m.Name)
	}
	if m.Run == "" {
		return nil, fmt.Errorf("%s missing required field: run", manifestFile)
	}
	if m.Argument == "" {
		m.Argument = "input"
	}
	if m.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}

	patterns, err := compileTriggers(m.Triggers)
	if err != nil {
		return nil, err
	}
	return &Script{Manifest: m, Dir: abs, Patterns: patterns}, nil
}

var validName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func compileTriggers(triggers []string) ([]*regexp.Regexp, error) {
	var patterns []*regexp.Regexp
	for _, pat := range triggers {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger pattern %q: %w", pat, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
