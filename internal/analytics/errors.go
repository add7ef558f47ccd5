package analytics

import (
	"errors"
)

// ErrInsufficientData 趋势分析数据量不足
//
// 与空结果、基础设施错误区分开：调用方应映射为客户端类错误。
var ErrInsufficientData = errors.New("insufficient data for trend analysis")
