package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatSearchOrdering(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{
		{0, 1},
		{1, 0},
		{0.6, 0.8},
	}))

	results, err := f.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Ordinal)
	assert.Equal(t, 2, results[1].Ordinal)
	assert.Equal(t, 0, results[2].Ordinal)
	// 距离按升序排列
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)
}

func TestFlatSearchTieBreaksByOrdinal(t *testing.T) {
	f := NewFlat(2)
	// 两个向量与零向量查询等距
	require.NoError(t, f.Add([][]float32{
		{0, 1},
		{1, 0},
	}))

	results, err := f.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Distance, results[1].Distance)
	assert.Equal(t, 0, results[0].Ordinal, "equal distances must rank the lower ordinal first")
	assert.Equal(t, 1, results[1].Ordinal)
}

func TestFlatSearchKLargerThanSize(t *testing.T) {
	f := NewFlat(1)
	require.NoError(t, f.Add([][]float32{{1}, {2}}))

	results, err := f.Search([]float32{0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFlatSearchEmptyIndex(t *testing.T) {
	f := NewFlat(3)
	results, err := f.Search([]float32{0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatDimensionMismatch(t *testing.T) {
	f := NewFlat(2)
	assert.Error(t, f.Add([][]float32{{1, 2, 3}}))

	_, err := f.Search([]float32{1}, 1)
	assert.Error(t, err)
}

func TestFlatGobRoundTrip(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{0, 1}, {1, 0}}))

	data, err := f.GobEncode()
	require.NoError(t, err)

	restored := &Flat{}
	require.NoError(t, restored.GobDecode(data))
	assert.Equal(t, f.Dimension(), restored.Dimension())
	assert.Equal(t, f.Size(), restored.Size())

	want, err := f.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	got, err := restored.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
