// Package loader reads documentation files from disk into documents.
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

var (
	ErrNotDirectory = errors.New("path is not a directory")
	ErrNoDocuments  = errors.New("directory does not contain supported documents")
)

// DefaultExtensions are the file types loaded when Options.Extensions is empty
var DefaultExtensions = []string{".md", ".markdown", ".mdx", ".txt", ".rst"}

// DefaultMaxFileSize skips generated or vendored blobs
const DefaultMaxFileSize = 4 << 20

// skipDirs are never descended into
var skipDirs = map[string]struct{}{
	"node_modules": {},
	"vendor":       {},
	"build":        {},
	"dist":         {},
}

// Options controls which files become documents and how they are tagged
type Options struct {
	Product     string
	Version     string
	Extensions  []string // Lower case, with leading dot
	BaseURL     string   // When set, URL = BaseURL + "/" + relative path without extension
	MaxFileSize int64
}

// LoadDirectory walks root and returns one document per supported file
func LoadDirectory(root string, opts Options) ([]types.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	return LoadFS(os.DirFS(root), opts)
}

// LoadFS walks fsys from its root in lexical order. Hidden entries, the
// directories in skipDirs, empty files and files that are not valid UTF-8
// are skipped.
func LoadFS(fsys fs.FS, opts Options) ([]types.Document, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var docs []types.Document
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p == "." {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !hasExtension(name, exts) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxSize {
			return nil
		}

		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		if !utf8.Valid(raw) {
			return nil
		}

		doc, ok := newDocument(p, string(raw), opts)
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs, nil
}

func newDocument(rel, content string, opts Options) (types.Document, bool) {
	front, body := splitFrontMatter(content)
	if strings.TrimSpace(body) == "" {
		return types.Document{}, false
	}

	sourcePath := rel
	if opts.Product != "" {
		sourcePath = opts.Product + "/" + rel
	}

	meta := types.Metadata{
		SourcePath: sourcePath,
		Product:    opts.Product,
		Version:    opts.Version,
		Title:      front["title"],
	}
	if meta.Title == "" {
		meta.Title = Title(body, rel)
	}
	if opts.BaseURL != "" {
		meta.URL = strings.TrimSuffix(opts.BaseURL, "/") + "/" + strings.TrimSuffix(rel, path.Ext(rel))
	}
	for k, v := range front {
		if k == "title" {
			continue
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]string)
		}
		meta.Extra[k] = v
	}

	doc := types.Document{Content: body, Metadata: meta}
	doc.EnsureID()
	return doc, true
}

// Title returns the first markdown heading or reStructuredText title of
// content, falling back to a name derived from the file path
func Title(content, rel string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	prev := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(line, "#")); title != "" {
				return title
			}
		}
		// reST: a title line underlined with = or -
		if prev != "" && len(line) >= len(prev) && (isRun(line, '=') || isRun(line, '-')) {
			return prev
		}
		prev = line
	}

	base := filepath.Base(rel)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.NewReplacer("-", " ", "_", " ").Replace(base)
}

// splitFrontMatter separates a leading YAML front matter block of simple
// key: value lines from the document body
func splitFrontMatter(content string) (map[string]string, string) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return nil, content
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content
	}

	front := make(map[string]string)
	for _, line := range strings.Split(rest[:end], "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" && value != "" {
			front[key] = value
		}
	}

	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func isRun(s string, r rune) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c != r {
			return false
		}
	}
	return true
}
