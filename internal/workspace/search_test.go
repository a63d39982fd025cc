package workspace

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	fs, root := setupFS(t)
	writeTestFile(t, root, "docs/notes.txt", "Hello world\nsecond line\n")
	writeTestFile(t, root, "src/main.go", "func main() {\n\tfmt.Println(\"hello\")\n}\n")
	writeTestFile(t, root, ".git/config", "hello = hidden\n")
	writeTestFile(t, root, "blob.dat", "hello\x00world")

	t.Run("literal match is case-insensitive by default", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "hello"})
		require.NoError(t, err)
		require.Len(t, result.Matches, 2)

		assert.Equal(t, "docs/notes.txt", result.Matches[0].Path)
		assert.Equal(t, 1, result.Matches[0].LineNumber)
		assert.Equal(t, "Hello world", result.Matches[0].Line)
		assert.Equal(t, "src/main.go", result.Matches[1].Path)
		assert.Equal(t, 2, result.Matches[1].LineNumber)
		assert.False(t, result.Truncated)
	})

	t.Run("case-sensitive literal match", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "Hello", CaseSensitive: true})
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, "docs/notes.txt", result.Matches[0].Path)
	})

	t.Run("regex match", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: `func \w+\(`, Regex: true})
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, "src/main.go", result.Matches[0].Path)
		assert.Equal(t, 1, result.Matches[0].LineNumber)
	})

	t.Run("scopes to a subdirectory", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "hello", Path: "docs"})
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, "docs/notes.txt", result.Matches[0].Path)
	})

	t.Run("skips hidden entries and binary files", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "hidden"})
		require.NoError(t, err)
		assert.Empty(t, result.Matches)

		result, err = fs.Search(SearchOptions{Pattern: "world"})
		require.NoError(t, err)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, "docs/notes.txt", result.Matches[0].Path)
	})

	t.Run("rejects an empty pattern", func(t *testing.T) {
		_, err := fs.Search(SearchOptions{})
		require.Error(t, err)
	})

	t.Run("rejects a malformed regex", func(t *testing.T) {
		_, err := fs.Search(SearchOptions{Pattern: "(", Regex: true})
		require.ErrorContains(t, err, "invalid search pattern")
	})

	t.Run("rejects a scope outside the workspace", func(t *testing.T) {
		_, err := fs.Search(SearchOptions{Pattern: "x", Path: "../elsewhere"})
		require.Error(t, err)
	})
}

func TestSearchCaps(t *testing.T) {
	fs, root := setupFS(t)

	var noisy strings.Builder
	for i := 0; i < MaxMatchesPerFile+5; i++ {
		fmt.Fprintf(&noisy, "needle %d\n", i)
	}
	writeTestFile(t, root, "aa.txt", noisy.String())
	writeTestFile(t, root, "bb.txt", "one more needle\n")

	t.Run("caps matches per file without starving later files", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "needle"})
		require.NoError(t, err)
		assert.Equal(t, MaxMatchesPerFile+1, result.Count)
		assert.Equal(t, "bb.txt", result.Matches[len(result.Matches)-1].Path)
		assert.False(t, result.Truncated)
	})

	t.Run("stops at the total cap and flags truncation", func(t *testing.T) {
		result, err := fs.Search(SearchOptions{Pattern: "needle", MaxResults: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Count)
		assert.True(t, result.Truncated)
		for _, m := range result.Matches {
			assert.Equal(t, "aa.txt", m.Path)
		}
	})
}
