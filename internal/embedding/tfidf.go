// Package embedding 实现了将文本映射到固定维度向量的 TF-IDF 向量器。
package embedding

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
)

// 词元为两个及以上的字母/数字/下划线，小写化后匹配。
var tokenPattern = regexp.MustCompile(`\b\w\w+\b`)

// Vectorizer 是一个基于语料全局拟合的 TF-IDF 文本向量器。
// 词表在拟合时按词项字典序固定，之后 Transform 产生的向量与拟合时
// 的向量处于同一空间；语料外的词项贡献为零。
type Vectorizer struct {
	vocabulary map[string]int
	idf        []float32
	fitted     bool
}

// NewVectorizer 创建一个未拟合的向量器。
func NewVectorizer() *Vectorizer {
	return &Vectorizer{vocabulary: make(map[string]int)}
}

// FitTransform 在整个语料上拟合词表与 IDF，并返回 n×d 的文档向量矩阵，
// 第 i 行对应语料中的第 i 篇文档。
func (v *Vectorizer) FitTransform(corpus []string) ([][]float32, error) {
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus for tf-idf fit")
	}

	// 统计文档频率
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return nil, errors.New("no tokens found in corpus")
	}

	// 词表按词项排序以保证拟合结果稳定
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	v.vocabulary = make(map[string]int, len(terms))
	v.idf = make([]float32, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		v.vocabulary[term] = i
		// 平滑 IDF
		v.idf[i] = float32(math.Log((1+n)/(1+float64(df[term]))) + 1.0)
	}
	v.fitted = true

	matrix := make([][]float32, len(corpus))
	for i, text := range corpus {
		vec, err := v.Transform(text)
		if err != nil {
			return nil, err
		}
		matrix[i] = vec
	}
	return matrix, nil
}

// Transform 把一段文本嵌入到拟合时确定的向量空间中。
// 未出现在词表中的词项贡献为零权重，这是加权方案本身的性质。
func (v *Vectorizer) Transform(text string) ([]float32, error) {
	if !v.fitted {
		return nil, errors.New("tf-idf vectorizer not fitted")
	}
	vec := make([]float32, len(v.idf))
	for _, tok := range tokenize(text) {
		if idx, ok := v.vocabulary[tok]; ok {
			vec[idx] += v.idf[idx]
		}
	}
	// L2 归一化
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Dimension 返回向量维度（拟合后的词表大小）。
func (v *Vectorizer) Dimension() int { return len(v.idf) }

// Fitted 报告向量器是否已拟合。
func (v *Vectorizer) Fitted() bool { return v.fitted }

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// vectorizerState 是 gob 序列化用的导出镜像。
type vectorizerState struct {
	Vocabulary map[string]int
	IDF        []float32
}

// GobEncode 实现 gob.GobEncoder。
func (v *Vectorizer) GobEncode() ([]byte, error) {
	if !v.fitted {
		return nil, errors.New("cannot encode unfitted vectorizer")
	}
	var buf bytes.Buffer
	state := vectorizerState{Vocabulary: v.vocabulary, IDF: v.idf}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode 实现 gob.GobDecoder。
func (v *Vectorizer) GobDecode(data []byte) error {
	var state vectorizerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	if len(state.Vocabulary) != len(state.IDF) {
		return errors.New("vectorizer state vocabulary/idf size mismatch")
	}
	v.vocabulary = state.Vocabulary
	v.idf = state.IDF
	v.fitted = len(state.IDF) > 0
	return nil
}
