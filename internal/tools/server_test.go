package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := dataDir(t)
	s, err := NewServer(Options{DataDir: root, ToolTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return s, root
}

func TestCallListFilesWildcard(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.CallTool(context.Background(), "list_files", "*")
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatal("unexpected tool error")
	}
	if len(res.Content) != 4 {
		t.Fatalf("content items = %d, want 4", len(res.Content))
	}
	if got := ResultText(res); !strings.Contains(got, "wells/a-1.las") {
		t.Errorf("result text = %q", got)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"content":[`) || !strings.Contains(string(raw), `"text":"readme.txt"`) {
		t.Errorf("json = %s", raw)
	}
}

func TestCallListFilesEmptyResultIsList(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.CallTool(context.Background(), "list_files", "*.none")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(res)
	if !strings.Contains(string(raw), `"content":[]`) {
		t.Errorf("json = %s, want empty content list", raw)
	}
}

func TestCallUnknownTool(t *testing.T) {
	s, _ := newTestServer(t)
	if _, err := s.CallTool(context.Background(), "drop_tables", "*"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestCallInvalidArgument(t *testing.T) {
	s, _ := newTestServer(t)
	if _, err := s.CallTool(context.Background(), "read_file", "../../etc/passwd"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestScriptTools(t *testing.T) {
	s, _ := newTestServer(t)
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "tops", "tool.toml"), `
name = "well_tops"
description = "formation tops"
triggers = ["tops for (\\S+)"]
run = "sh run.sh"
argument = "well"
`)
	writeScript(t, filepath.Join(base, "tops", "run.sh"), "#!/bin/sh\necho \"tops of $SUBSURFACE_TOOL_ARG\"\n")
	writeFile(t, filepath.Join(base, "broken", "tool.toml"), "name = \"broken\"\nrun = \"sh run.sh\"")
	writeScript(t, filepath.Join(base, "broken", "run.sh"), "#!/bin/sh\necho bad >&2\nexit 1\n")
	writeFile(t, filepath.Join(base, "dup", "tool.toml"), "name = \"list_files\"\nrun = \"echo\"")

	scripts, err := LoadScripts(base)
	if err != nil {
		t.Fatal(err)
	}
	if added := s.AddScripts(scripts); added != 2 {
		t.Fatalf("added = %d, want 2 (duplicate skipped)", added)
	}

	res, err := s.CallTool(context.Background(), "well_tops", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if got := ResultText(res); got != "tops of a-1" {
		t.Errorf("result = %q", got)
	}

	res, err = s.CallTool(context.Background(), "broken", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || ResultText(res) != "bad" {
		t.Errorf("broken result = %+v", res)
	}

	name, arg, ok := s.Match("what are the tops for a-1?")
	if !ok || name != "well_tops" || arg != "a-1" {
		t.Errorf("Match = %q %q %v", name, arg, ok)
	}
}

func TestMatchBuiltins(t *testing.T) {
	s, _ := newTestServer(t)
	cases := []struct {
		text, name, arg string
	}{
		{"list all files", "list_files", "*"},
		{"show me the files matching *.las", "list_files", "*.las"},
		{"describe details for wells/a-1.las", "file_info", "wells/a-1.las"},
		{"please read file wells/a-1.las", "read_file", "wells/a-1.las"},
	}
	for _, c := range cases {
		name, arg, ok := s.Match(c.text)
		if !ok || name != c.name || arg != c.arg {
			t.Errorf("Match(%q) = %q %q %v, want %q %q", c.text, name, arg, ok, c.name, c.arg)
		}
	}
	if _, _, ok := s.Match("what is the porosity trend?"); ok {
		t.Error("did not expect a match")
	}
}

func TestNamesAndDescribe(t *testing.T) {
	s, _ := newTestServer(t)
	names := strings.Join(s.Names(), ",")
	if names != "file_info,list_files,read_file" {
		t.Errorf("names = %s", names)
	}
	if d := s.Describe(); !strings.Contains(d, "list_files(pattern)") {
		t.Errorf("describe = %s", d)
	}
}

func TestMCPToolsList(t *testing.T) {
	s, _ := newTestServer(t)
	msg := s.mcp.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"list_files", "file_info", "read_file"} {
		if !strings.Contains(string(raw), `"`+name+`"`) {
			t.Errorf("tools/list missing %s: %s", name, raw)
		}
	}
}

func TestResultTextNil(t *testing.T) {
	if ResultText(nil) != "" {
		t.Fatal("expected empty text")
	}
	res := &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("a"), mcp.NewTextContent("b")}}
	if ResultText(res) != "a\nb" {
		t.Fatalf("text = %q", ResultText(res))
	}
}
