package analytics

import "math"

// 特征维度：原始值、滚动均值、滚动标准差、一阶差分
const featureDim = 4

// 滚动窗口大小
const rollingWindow = 10

// buildFeatures 为每个时序点构造特征向量
//
// 滚动统计量窗口为 10、最小窗口为 1。单点窗口的标准差与首点的
// 一阶差分为 NaN，按列先后向填充再前向填充修复。
func buildFeatures(values []float64) [][]float64 {
	n := len(values)
	features := make([][]float64, n)
	for i := range features {
		features[i] = make([]float64, featureDim)
	}

	for i := 0; i < n; i++ {
		lo := i - rollingWindow + 1
		if lo < 0 {
			lo = 0
		}
		window := values[lo : i+1]

		features[i][0] = values[i]
		features[i][1] = Mean(window)
		if len(window) < 2 {
			features[i][2] = math.NaN()
		} else {
			features[i][2] = StdDev(window, false)
		}
		if i == 0 {
			features[i][3] = math.NaN()
		} else {
			features[i][3] = values[i] - values[i-1]
		}
	}

	for col := 0; col < featureDim; col++ {
		fillColumn(features, col)
	}

	return features
}

// fillColumn 对单列做后向填充再前向填充
func fillColumn(features [][]float64, col int) {
	next := math.NaN()
	for i := len(features) - 1; i >= 0; i-- {
		if !math.IsNaN(features[i][col]) {
			next = features[i][col]
		} else if !math.IsNaN(next) {
			features[i][col] = next
		}
	}

	prev := math.NaN()
	for i := 0; i < len(features); i++ {
		if !math.IsNaN(features[i][col]) {
			prev = features[i][col]
		} else if !math.IsNaN(prev) {
			features[i][col] = prev
		}
	}
}
