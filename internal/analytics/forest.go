package analytics

import (
	"math"
	"math/rand"
)

// 单棵树的最大子采样数
const maxSubsample = 256

const eulerGamma = 0.5772156649015329

// isoTree 隔离树节点，left 为 nil 表示叶子
type isoTree struct {
	feature int
	split   float64
	left    *isoTree
	right   *isoTree
	size    int
}

// isolationForest 隔离森林异常检测器
//
// 固定随机种子训练，同一输入的打分结果可复现。
type isolationForest struct {
	trees   []*isoTree
	sampleN int
}

// fitIsolationForest 训练隔离森林
func fitIsolationForest(data [][]float64, estimators int, seed int64) *isolationForest {
	if estimators <= 0 {
		estimators = 100
	}

	rng := rand.New(rand.NewSource(seed))

	sampleN := maxSubsample
	if len(data) < sampleN {
		sampleN = len(data)
	}

	maxDepth := 0
	if sampleN > 1 {
		maxDepth = int(math.Ceil(math.Log2(float64(sampleN))))
	}

	forest := &isolationForest{
		trees:   make([]*isoTree, 0, estimators),
		sampleN: sampleN,
	}
	for t := 0; t < estimators; t++ {
		idx := rng.Perm(len(data))[:sampleN]
		sample := make([][]float64, sampleN)
		for i, j := range idx {
			sample[i] = data[j]
		}
		forest.trees = append(forest.trees, buildTree(sample, 0, maxDepth, rng))
	}

	return forest
}

func buildTree(sample [][]float64, depth, maxDepth int, rng *rand.Rand) *isoTree {
	if len(sample) <= 1 || depth >= maxDepth {
		return &isoTree{size: len(sample)}
	}

	dim := len(sample[0])
	for _, f := range rng.Perm(dim) {
		lo, hi := sample[0][f], sample[0][f]
		for _, row := range sample[1:] {
			if row[f] < lo {
				lo = row[f]
			}
			if row[f] > hi {
				hi = row[f]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range sample {
			if row[f] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}

		return &isoTree{
			feature: f,
			split:   split,
			left:    buildTree(left, depth+1, maxDepth, rng),
			right:   buildTree(right, depth+1, maxDepth, rng),
		}
	}

	// 所有特征均为常数，无法切分
	return &isoTree{size: len(sample)}
}

// pathLength 样本在树中的路径长度，叶子处加上 c(size) 修正
func (t *isoTree) pathLength(x []float64, depth float64) float64 {
	if t.left == nil {
		return depth + avgPathLength(t.size)
	}
	if x[t.feature] < t.split {
		return t.left.pathLength(x, depth+1)
	}
	return t.right.pathLength(x, depth+1)
}

// avgPathLength 失败查找的平均路径长度 c(n)
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Score 返回样本的异常得分，取值 [-1, 0)，越小越异常
func (f *isolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}

	sum := 0.0
	for _, t := range f.trees {
		sum += t.pathLength(x, 0)
	}
	avg := sum / float64(len(f.trees))

	c := avgPathLength(f.sampleN)
	if c <= 0 {
		c = 1
	}

	return -math.Pow(2, -avg/c)
}
