package record_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LouisBoudreau/licensed/internal/record"
)

func texts(values ...string) []record.License {
	licenses := make([]record.License, 0, len(values))
	for _, v := range values {
		licenses = append(licenses, record.License{Text: v})
	}
	return licenses
}

func TestRecordActsLikeAHash(t *testing.T) {
	r := record.New(nil, nil, map[string]any{"name": "test"})
	assert.Equal(t, "test", r.Get("name"))

	require.NoError(t, r.Set("name", "changed"))
	assert.Equal(t, "changed", r.Get("name"))

	require.NoError(t, r.Set("licenses", []any{"license1", map[string]any{"text": "license2", "source": "LICENSE"}}))
	assert.Equal(t, []record.License{{Text: "license1"}, {Text: "license2", Sources: []string{"LICENSE"}}}, r.Get("licenses"))

	require.NoError(t, r.Set("notices", "notice"))
	assert.Equal(t, []string{"notice"}, r.Notices)

	assert.Error(t, r.Set("licenses", 42))
	assert.Error(t, r.Set("notices", []any{1}))
}

func TestReadLoadsDependencyInformation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dep.yml")
	content := "name: test\nlicenses:\n- license1\n- license2\nnotices:\n- notice\n- author\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	r, err := record.Read(path)
	require.NoError(t, err)

	assert.Equal(t, "test", r.Get("name"))
	assert.Equal(t, texts("license1", "license2"), r.Licenses)
	assert.Equal(t, []string{"notice", "author"}, r.Notices)
}

func TestReadAcceptsStructuredLicenses(t *testing.T) {
	content := `---
name: test
licenses:
- text: first
  source: LICENSE
- text: second
  sources:
  - COPYING
  - LICENSE.md
- sources: NOTICE
  text: third
notices: []
`
	r, err := record.Decode([]byte(content))
	require.NoError(t, err)

	assert.Equal(t, []record.License{
		{Text: "first", Sources: []string{"LICENSE"}},
		{Text: "second", Sources: []string{"COPYING", "LICENSE.md"}},
		{Text: "third", Sources: []string{"NOTICE"}},
	}, r.Licenses)
	assert.Empty(t, r.Notices)
}

func TestReadRejectsInvalidRecords(t *testing.T) {
	cases := map[string]string{
		"invalid yaml":     "name: [",
		"missing licenses": "name: test\nnotices: []\n",
		"missing notices":  "name: test\nlicenses: []\n",
		"null licenses":    "name: test\nlicenses:\nnotices: []\n",
		"not a mapping":    "- a\n- b\n",
		"empty":            "",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.dep.yml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))

			_, err := record.Read(path)
			var serr *record.SerializationError
			require.True(t, errors.As(err, &serr), "expected SerializationError, got %v", err)
			assert.Equal(t, path, serr.Path)
		})
	}
}

func TestReadMissingFileIsNotASerializationError(t *testing.T) {
	_, err := record.Read(filepath.Join(t.TempDir(), "missing.dep.yml"))
	require.Error(t, err)

	var serr *record.SerializationError
	assert.False(t, errors.As(err, &serr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSaveWritesTextAndMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.dep.yml")
	r := record.New(texts("license"), []string{"notice"}, map[string]any{"name": "test", "version": "1.0"})
	require.NoError(t, r.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, "---\nname: test\n"), out)
	assert.Less(t, strings.Index(out, "version:"), strings.Index(out, "licenses:"))
	assert.Less(t, strings.Index(out, "licenses:"), strings.Index(out, "notices:"))

	loaded, err := record.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", loaded.GetString("version"))
	assert.Equal(t, r.Licenses, loaded.Licenses)
	assert.Equal(t, r.Notices, loaded.Notices)
}

func TestSaveAlwaysContainsLicensesAndNotices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.dep.yml")
	require.NoError(t, record.New(nil, nil, map[string]any{"name": "test"}).Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "---\nname: test\nlicenses: []\nnotices: []\n", string(data))
}

func TestRoundTrip(t *testing.T) {
	original := record.New(
		[]record.License{
			{Text: "MIT License\n\n- item one\n- item two\n", Sources: []string{"LICENSE"}},
			{Text: "plain text"},
		},
		[]string{"Copyright (c) someone"},
		map[string]any{"name": "pkg", "type": "npm", "homepage": "https://example.com"},
	)

	data, err := original.Encode()
	require.NoError(t, err)

	decoded, err := record.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, original.Licenses, decoded.Licenses)
	assert.Equal(t, original.Notices, decoded.Notices)
	assert.Equal(t, original.Keys(), decoded.Keys())
	assert.True(t, original.Matches(decoded))
}

func TestContent(t *testing.T) {
	t.Run("nil when license text hasn't been set", func(t *testing.T) {
		_, ok := record.New(nil, nil, nil).Content()
		assert.False(t, ok)
	})

	t.Run("joined text sorted by text content", func(t *testing.T) {
		content, ok := record.New(texts("license2", "license1"), nil, nil).Content()
		require.True(t, ok)
		assert.Equal(t, "license1license2", content)
	})

	t.Run("sorted by sources when available", func(t *testing.T) {
		r := record.New([]record.License{
			{Sources: []string{"2"}, Text: "license1"},
			{Sources: []string{"1"}, Text: "license2"},
		}, nil, nil)
		content, ok := r.Content()
		require.True(t, ok)
		assert.Equal(t, "license2license1", content)
	})

	t.Run("strips bullets", func(t *testing.T) {
		content, ok := record.New(texts("- a\n  * b\n---\n"), nil, nil).Content()
		require.True(t, ok)
		assert.Equal(t, "a\n  b\n---\n", content)
	})
}

func TestContentIsOrderIndependent(t *testing.T) {
	entries := []record.License{
		{Text: "c", Sources: []string{"LICENSE-C"}},
		{Text: "a", Sources: []string{"LICENSE-A"}},
		{Text: "b", Sources: []string{"LICENSE-B"}},
		{Text: "dup", Sources: []string{"LICENSE-A"}},
	}

	expected, ok := record.New(entries, nil, nil).Content()
	require.True(t, ok)

	permute(entries, 0, func(p []record.License) {
		got, _ := record.New(p, nil, nil).Content()
		assert.Equal(t, expected, got)
	})
}

func permute(entries []record.License, k int, visit func([]record.License)) {
	if k == len(entries) {
		visit(append([]record.License(nil), entries...))
		return
	}
	for i := k; i < len(entries); i++ {
		entries[k], entries[i] = entries[i], entries[k]
		permute(entries, k+1, visit)
		entries[k], entries[i] = entries[i], entries[k]
	}
}

func TestMatches(t *testing.T) {
	t.Run("false for non record arguments", func(t *testing.T) {
		r := record.New(nil, nil, nil)
		assert.False(t, r.Matches(nil))
		assert.False(t, r.Matches(""))
		assert.False(t, r.Matches((*record.Record)(nil)))
		assert.False(t, r.Matches(*r))
	})

	t.Run("normalized content for strings", func(t *testing.T) {
		r := record.New(texts("- test content"), nil, nil)
		other := record.New(texts("* test content"), nil, nil)
		assert.True(t, r.Matches(other))
	})

	t.Run("normalized content for text and source data", func(t *testing.T) {
		r := record.New([]record.License{{Text: "- test content", Sources: []string{"LICENSE"}}}, nil, nil)
		other := record.New([]record.License{{Text: "* test content", Sources: []string{"LICENSE"}}}, nil, nil)
		assert.True(t, r.Matches(other))
	})

	t.Run("different ordered text only data", func(t *testing.T) {
		r := record.New(texts("license 1", "license 2"), nil, nil)
		other := record.New(texts("license 2", "license 1"), nil, nil)
		assert.True(t, r.Matches(other))
	})

	t.Run("different ordered text and source data", func(t *testing.T) {
		r := record.New([]record.License{
			{Text: "license 1", Sources: []string{"source 1"}},
			{Text: "license 2", Sources: []string{"source 2"}},
		}, nil, nil)
		other := record.New([]record.License{
			{Text: "license 2", Sources: []string{"source 2"}},
			{Text: "license 1", Sources: []string{"source 1"}},
		}, nil, nil)
		assert.True(t, r.Matches(other))
	})

	t.Run("textual changes are detected", func(t *testing.T) {
		r := record.New(texts("license A"), nil, nil)
		other := record.New(texts("license B"), nil, nil)
		assert.False(t, r.Matches(other))
	})

	t.Run("records without licenses match each other only", func(t *testing.T) {
		empty := record.New(nil, []string{"notice"}, nil)
		assert.True(t, empty.Matches(record.New(nil, nil, nil)))
		assert.False(t, empty.Matches(record.New(texts(""), nil, nil)))
	})
}
