package loader

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"index.md":                   {Data: []byte("# Welcome\n\nStart here.")},
		"guides/replication.md":      {Data: []byte("Intro line\n\n## Elections\n\nPrimaries step down.")},
		"guides/notes.txt":           {Data: []byte("plain text notes")},
		"guides/image.png":           {Data: []byte{0x89, 'P', 'N', 'G'}},
		"guides/empty.md":            {Data: []byte("  \n\n")},
		".hidden/secret.md":          {Data: []byte("# Hidden")},
		"node_modules/pkg/readme.md": {Data: []byte("# Vendored")},
		"binary.md":                  {Data: []byte{0xff, 0xfe, 0xfd}},
	}

	docs, err := LoadFS(fsys, Options{Product: "server", Version: "7.0"})
	require.NoError(t, err)

	var paths []string
	for _, d := range docs {
		paths = append(paths, d.Metadata.SourcePath)
		assert.Equal(t, "server", d.Metadata.Product)
		assert.Equal(t, "7.0", d.Metadata.Version)
		assert.NotEmpty(t, d.ID)
	}
	assert.Equal(t, []string{"server/guides/notes.txt", "server/guides/replication.md", "server/index.md"}, paths)

	assert.Equal(t, "notes", docs[0].Metadata.Title)
	assert.Equal(t, "Elections", docs[1].Metadata.Title)
	assert.Equal(t, "Welcome", docs[2].Metadata.Title)
}

func TestLoadFS_Deterministic(t *testing.T) {
	fsys := fstest.MapFS{
		"a.md": {Data: []byte("# A\n\ntext")},
		"b.md": {Data: []byte("# B\n\ntext")},
	}
	first, err := LoadFS(fsys, Options{})
	require.NoError(t, err)
	second, err := LoadFS(fsys, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "a.md", first[0].Metadata.SourcePath)
}

func TestLoadFS_ProductSeparatesIDs(t *testing.T) {
	fsys := fstest.MapFS{"index.md": {Data: []byte("# Index")}}

	server, err := LoadFS(fsys, Options{Product: "server"})
	require.NoError(t, err)
	atlas, err := LoadFS(fsys, Options{Product: "atlas"})
	require.NoError(t, err)
	assert.NotEqual(t, server[0].ID, atlas[0].ID)
}

func TestLoadFS_Options(t *testing.T) {
	fsys := fstest.MapFS{
		"docs/intro.md": {Data: []byte("# Intro\n\nHello.")},
		"docs/api.rst":  {Data: []byte("API\n===\n\nCalls.")},
		"docs/big.md":   {Data: make([]byte, 64)},
	}

	docs, err := LoadFS(fsys, Options{Extensions: []string{".rst"}, BaseURL: "https://docs.example.com/"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "API", docs[0].Metadata.Title)
	assert.Equal(t, "https://docs.example.com/docs/api", docs[0].Metadata.URL)

	docs, err = LoadFS(fsys, Options{Extensions: []string{".md"}, MaxFileSize: 32})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "docs/intro.md", docs[0].Metadata.SourcePath)
}

func TestLoadFS_FrontMatter(t *testing.T) {
	content := "---\ntitle: \"Write Concern\"\nslug: write-concern\n---\n# Heading\n\nBody text."
	docs, err := LoadFS(fstest.MapFS{"wc.md": {Data: []byte(content)}}, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d := docs[0]
	assert.Equal(t, "Write Concern", d.Metadata.Title)
	assert.Equal(t, map[string]string{"slug": "write-concern"}, d.Metadata.Extra)
	assert.Equal(t, "# Heading\n\nBody text.", d.Content)
}

func TestLoadFS_NoDocuments(t *testing.T) {
	_, err := LoadFS(fstest.MapFS{"image.png": {Data: []byte("x")}}, Options{})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "guides"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guides", "sharding.md"), []byte("# Sharding\n\nShard keys."), 0o644))

	docs, err := LoadDirectory(dir, Options{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "guides/sharding.md", docs[0].Metadata.SourcePath)
	assert.Equal(t, "Sharding", docs[0].Metadata.Title)

	file := filepath.Join(dir, "guides", "sharding.md")
	_, err = LoadDirectory(file, Options{})
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = LoadDirectory(filepath.Join(dir, "missing"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		path    string
		want    string
	}{
		{"atx heading", "text\n\n## Second Level\n", "a.md", "Second Level"},
		{"setext", "Overview\n========\n\nBody", "a.rst", "Overview"},
		{"empty heading skipped", "#\n# Real\n", "a.md", "Real"},
		{"from path", "no headings here", "guides/read-preference_modes.md", "read preference modes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.content, tt.path))
		})
	}
}
