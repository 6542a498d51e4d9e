// Package index 实现了对固定维度 float32 向量的平坦（暴力）欧氏最近邻索引。
package index

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
)

// Result 是一次最近邻查询的单个命中。
type Result struct {
	// Ordinal 是向量加入索引时的序号位置。
	Ordinal int
	// Distance 是与查询向量的欧氏距离的平方，仅用于排序比较。
	Distance float32
}

// Flat 是暴力欧氏最近邻索引。预期语料规模为数百到数千篇文档，
// 不做近似索引调优。距离相等时按序号升序返回，保证结果稳定。
type Flat struct {
	dimension int
	vectors   [][]float32
}

// NewFlat 创建一个指定维度的空索引。
func NewFlat(dimension int) *Flat {
	return &Flat{dimension: dimension}
}

// Add 按顺序追加一批向量。向量的序号位置即其在元数据列表中的位置。
func (f *Flat) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dimension {
			return fmt.Errorf("vector dimension %d does not match index dimension %d", len(v), f.dimension)
		}
	}
	f.vectors = append(f.vectors, vectors...)
	return nil
}

// Search 返回与查询向量欧氏距离最近的 k 个向量，按距离升序排列。
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), f.dimension)
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}

	results := make([]Result, len(f.vectors))
	for i, v := range f.vectors {
		results[i] = Result{Ordinal: i, Distance: squaredL2(query, v)}
	}
	// 稳定排序：距离相等时低序号在前
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Distance < results[b].Distance
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Size 返回索引中的向量数量。
func (f *Flat) Size() int { return len(f.vectors) }

// Dimension 返回索引的向量维度。
func (f *Flat) Dimension() int { return f.dimension }

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// flatState 是 gob 序列化用的导出镜像。
type flatState struct {
	Dimension int
	Vectors   [][]float32
}

// GobEncode 实现 gob.GobEncoder。
func (f *Flat) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	state := flatState{Dimension: f.dimension, Vectors: f.vectors}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode 实现 gob.GobDecoder。
func (f *Flat) GobDecode(data []byte) error {
	var state flatState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	if state.Dimension <= 0 {
		return errors.New("flat index state has invalid dimension")
	}
	f.dimension = state.Dimension
	f.vectors = state.Vectors
	return nil
}
