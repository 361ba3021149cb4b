package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/parquet-go/parquet-go"
)

const (
	readFileMaxLines = 200
	binarySniffBytes = 8192
)

// Files implements the built-in tools over a single data directory.
type Files struct {
	root string
}

func NewFiles(root string) *Files {
	return &Files{root: root}
}

// List returns the slash-separated paths, relative to the data directory,
// of every regular non-hidden file matching pattern. A pattern without "/"
// is matched against the base name; otherwise against the relative path.
func (f *Files) List(ctx context.Context, pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "*"
	}
	if err := checkRelative(pattern); err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q", ErrInvalidArgument, pattern)
	}
	if err := f.checkRoot(); err != nil {
		return nil, err
	}

	byPath := strings.Contains(pattern, "/")
	var out []string
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == f.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		subject := d.Name()
		if byPath {
			subject = rel
		}
		if ok, _ := path.Match(pattern, subject); ok {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// FileInfo describes one data file.
type FileInfo struct {
	Path      string
	Size      int64
	ModTime   string
	Ext       string
	Rows      int64
	Columns   []string
	IsParquet bool
}

func (f *Files) Info(p string) (*FileInfo, error) {
	full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, notFound(p, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidArgument, p)
	}

	info := &FileInfo{
		Path:    filepath.ToSlash(filepath.Clean(p)),
		Size:    st.Size(),
		ModTime: st.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		Ext:     strings.ToLower(filepath.Ext(full)),
	}
	if info.Ext == ".parquet" {
		rows, cols, err := parquetSummary(full, st.Size())
		if err != nil {
			return nil, fmt.Errorf("read parquet %s: %w", p, err)
		}
		info.IsParquet = true
		info.Rows = rows
		info.Columns = cols
	}
	return info, nil
}

func parquetSummary(full string, size int64) (int64, []string, error) {
	fh, err := os.Open(full)
	if err != nil {
		return 0, nil, err
	}
	defer fh.Close()

	pf, err := parquet.OpenFile(fh, size)
	if err != nil {
		return 0, nil, err
	}
	var cols []string
	for _, field := range pf.Schema().Fields() {
		cols = append(cols, field.Name())
	}
	return pf.NumRows(), cols, nil
}

// Head returns up to readFileMaxLines lines of a text file and whether the
// file was cut short.
func (f *Files) Head(p string) ([]string, bool, error) {
	full, err := f.resolve(p)
	if err != nil {
		return nil, false, err
	}
	fh, err := os.Open(full)
	if err != nil {
		return nil, false, notFound(p, err)
	}
	defer fh.Close()

	st, err := fh.Stat()
	if err != nil {
		return nil, false, err
	}
	if st.IsDir() {
		return nil, false, fmt.Errorf("%w: %s is a directory", ErrInvalidArgument, p)
	}

	br := bufio.NewReader(fh)
	sniff, err := br.Peek(binarySniffBytes)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, false, err
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return nil, false, fmt.Errorf("%w: %s is a binary file", ErrInvalidArgument, p)
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		if len(lines) == readFileMaxLines {
			return lines, true, nil
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("read %s: %w", p, err)
	}
	return lines, false, nil
}

func (f *Files) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidArgument)
	}
	if err := checkRelative(p); err != nil {
		return "", err
	}
	if err := f.checkRoot(); err != nil {
		return "", err
	}
	full := filepath.Join(f.root, filepath.FromSlash(p))

	// symlinks must not lead out of the data directory
	resolved, err := evalAbs(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return full, nil
		}
		return "", err
	}
	root, err := evalAbs(f.root)
	if err != nil {
		return "", fmt.Errorf("%w: data dir %s: %v", ErrDataUnavailable, f.root, err)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves outside the data directory", ErrInvalidArgument, p)
	}
	return resolved, nil
}

func evalAbs(p string) (string, error) {
	p, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(p)
}

func (f *Files) checkRoot() error {
	st, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("%w: data dir %s: %v", ErrDataUnavailable, f.root, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%w: data dir %s is not a directory", ErrDataUnavailable, f.root)
	}
	return nil
}

// checkRelative rejects absolute paths and any path that climbs out of the
// data directory.
func checkRelative(p string) error {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: absolute paths are not allowed", ErrInvalidArgument)
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return fmt.Errorf("%w: path must stay inside the data directory", ErrInvalidArgument)
		}
	}
	return nil
}

func notFound(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist", ErrInvalidArgument, p)
	}
	return err
}

// builtinTools returns the MCP definitions and handlers for the data tools.
func (f *Files) builtinTools() []*Tool {
	return []*Tool{
		{
			Definition: mcp.NewTool("list_files",
				mcp.WithDescription("List data files (well logs, seismic, tables) whose name matches a glob pattern. Use \"*\" for all files."),
				mcp.WithString("pattern", mcp.Description("glob matched against the file name, or the relative path when it contains '/'"), mcp.DefaultString("*")),
			),
			Argument: "pattern",
			Default:  "*",
			Triggers: []string{
				`\b(?:list|show|find)\b.*?\bfiles?\b.*?\b(?:matching|like|named)\s+(\S+)`,
				`\b(?:list|show|find)\b.*?\b(?:files?|data)\b`,
			},
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				files, err := f.List(ctx, stringArg(req, "pattern", "*"))
				if err != nil {
					return nil, err
				}
				content := make([]mcp.Content, 0, len(files))
				for _, p := range files {
					content = append(content, mcp.NewTextContent(p))
				}
				return &mcp.CallToolResult{Content: content}, nil
			},
		},
		{
			Definition: mcp.NewTool("file_info",
				mcp.WithDescription("Describe a data file: size, modification time and, for parquet tables, row count and columns."),
				mcp.WithString("path", mcp.Required(), mcp.Description("path relative to the data directory")),
			),
			Argument: "path",
			Triggers: []string{`\b(?:info|describe|details?|summary|summarize)\b.*?\b(?:of|for|about|on)\s+(\S+\.\w+)`},
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				info, err := f.Info(stringArg(req, "path", ""))
				if err != nil {
					return nil, err
				}
				return mcp.NewToolResultText(formatInfo(info)), nil
			},
		},
		{
			Definition: mcp.NewTool("read_file",
				mcp.WithDescription(fmt.Sprintf("Read the first %d lines of a text data file (LAS, CSV, headers).", readFileMaxLines)),
				mcp.WithString("path", mcp.Required(), mcp.Description("path relative to the data directory")),
			),
			Argument: "path",
			Triggers: []string{`\b(?:read|open|head|cat)\s+(?:the\s+)?(?:file\s+)?(\S+\.\w+)`},
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				lines, truncated, err := f.Head(stringArg(req, "path", ""))
				if err != nil {
					return nil, err
				}
				text := strings.Join(lines, "\n")
				if truncated {
					text += fmt.Sprintf("\n... (truncated after %d lines)", readFileMaxLines)
				}
				return mcp.NewToolResultText(text), nil
			},
		},
	}
}

func formatInfo(info *FileInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "path: %s\n", info.Path)
	fmt.Fprintf(&b, "size_bytes: %d\n", info.Size)
	fmt.Fprintf(&b, "modified: %s\n", info.ModTime)
	if info.Ext != "" {
		fmt.Fprintf(&b, "extension: %s\n", info.Ext)
	}
	if info.IsParquet {
		fmt.Fprintf(&b, "rows: %d\n", info.Rows)
		fmt.Fprintf(&b, "columns: %s\n", strings.Join(info.Columns, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
