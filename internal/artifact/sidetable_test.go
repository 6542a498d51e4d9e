package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideTableMissingFileStartsEmpty(t *testing.T) {
	table := LoadSideTable(filepath.Join(t.TempDir(), "side.json"))
	assert.False(t, table.Complete())

	_, ok := table.Get(NameIndex)
	assert.False(t, ok)
}

func TestSideTableCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "side.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0o644))

	table := LoadSideTable(path)
	assert.False(t, table.Complete())
}

func TestSideTableReplacePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "side.json")
	table := LoadSideTable(path)

	ids := map[string]string{
		NameIndex:      "blob-1",
		NameVectorizer: "blob-2",
		NameMetadata:   "blob-3",
	}
	require.NoError(t, table.Replace(ids))
	assert.True(t, table.Complete())

	// 重新加载验证持久化
	reloaded := LoadSideTable(path)
	assert.True(t, reloaded.Complete())
	id, ok := reloaded.Get(NameVectorizer)
	assert.True(t, ok)
	assert.Equal(t, "blob-2", id)
}

func TestSideTableIncompleteSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "side.json")
	table := LoadSideTable(path)

	require.NoError(t, table.Replace(map[string]string{NameIndex: "blob-1"}))
	assert.False(t, table.Complete(), "a partial side table must not be treated as complete")
}
