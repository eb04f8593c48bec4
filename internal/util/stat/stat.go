// Package stat 提供模型拟合所需的基础统计函数。
// 滑点与回归模型共享：均值、标准差、分位数、最小二乘。
package stat

import (
	"math"
	"sort"
)

// Mean 计算均值，空切片返回 0
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 计算样本标准差（n-1 分母），样本数不足 2 返回 0
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - avg
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// Percentile 计算线性插值分位数
// 参数 rank: [0, 1]；空切片返回 0。
func Percentile(values []float64, rank float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := rank * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	w := idx - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// Regression 一元最小二乘拟合结果
type Regression struct {
	// Slope 斜率
	Slope float64
	// Intercept 截距
	Intercept float64
	// RSquared 决定系数 R²
	RSquared float64
}

// LinearRegression 一元最小二乘拟合
// 输入长度不一致或为空时返回零值；x 方差为零时退化为水平线 y = mean(y)。
func LinearRegression(x, y []float64) Regression {
	if len(x) != len(y) || len(x) == 0 {
		return Regression{}
	}

	n := float64(len(x))
	var sumX, sumY, sumXY, sumX2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
	}

	xMean := sumX / n
	yMean := sumY / n

	numerator := sumXY - sumX*sumY/n
	denominator := sumX2 - sumX*sumX/n
	if denominator == 0 {
		return Regression{Slope: 0, Intercept: yMean}
	}

	slope := numerator / denominator
	intercept := yMean - slope*xMean

	var tss, rss float64
	for i := range x {
		predicted := slope*x[i] + intercept
		rss += (y[i] - predicted) * (y[i] - predicted)
		tss += (y[i] - yMean) * (y[i] - yMean)
	}

	r2 := 1.0
	if tss > 0 {
		r2 = 1.0 - rss/tss
	}

	return Regression{Slope: slope, Intercept: intercept, RSquared: r2}
}

// Predict 应用一元线性模型
func (r Regression) Predict(x float64) float64 {
	return r.Slope*x + r.Intercept
}
