// Package stat 统计工具测试
package stat

import (
	"math"
	"testing"
)

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Fatalf("空切片 Mean=%v, want 0", got)
	}
	if got := Mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Fatalf("Mean=%v, want 2.5", got)
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev([]float64{5}); got != 0 {
		t.Fatalf("单样本 StdDev=%v, want 0", got)
	}
	// 样本 {2,4,4,4,5,5,7,9}: 样本标准差 ≈ 2.138
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2.13809) > 1e-4 {
		t.Fatalf("StdDev=%v, want ≈2.138", got)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}

	if got := Percentile(nil, 0.5); got != 0 {
		t.Fatalf("空切片 Percentile=%v, want 0", got)
	}
	if got := Percentile(values, 0); got != 10 {
		t.Fatalf("P0=%v, want 10", got)
	}
	if got := Percentile(values, 1); got != 50 {
		t.Fatalf("P100=%v, want 50", got)
	}
	if got := Percentile(values, 0.5); got != 30 {
		t.Fatalf("P50=%v, want 30", got)
	}
	// 线性插值: 0.25 → idx 1.0 → 20
	if got := Percentile(values, 0.25); got != 20 {
		t.Fatalf("P25=%v, want 20", got)
	}
	// 0.1 → idx 0.4 → 10·0.6 + 20·0.4 = 14
	if got := Percentile(values, 0.1); math.Abs(got-14) > 1e-9 {
		t.Fatalf("P10=%v, want 14", got)
	}
}

func TestLinearRegression_ExactLine(t *testing.T) {
	// y = 2x + 1
	x := []float64{1, 2, 3, 4}
	y := []float64{3, 5, 7, 9}

	r := LinearRegression(x, y)
	if math.Abs(r.Slope-2) > 1e-9 || math.Abs(r.Intercept-1) > 1e-9 {
		t.Fatalf("拟合=%+v, want slope=2 intercept=1", r)
	}
	if math.Abs(r.RSquared-1) > 1e-9 {
		t.Fatalf("R²=%v, want 1", r.RSquared)
	}
	if got := r.Predict(10); math.Abs(got-21) > 1e-9 {
		t.Fatalf("Predict(10)=%v, want 21", got)
	}
}

func TestLinearRegression_DegenerateInputs(t *testing.T) {
	if r := LinearRegression(nil, nil); r != (Regression{}) {
		t.Fatalf("空输入应返回零值: %+v", r)
	}
	if r := LinearRegression([]float64{1, 2}, []float64{1}); r != (Regression{}) {
		t.Fatalf("长度不一致应返回零值: %+v", r)
	}

	// x 方差为零 → 水平线 y = mean(y)
	r := LinearRegression([]float64{3, 3, 3}, []float64{1, 2, 3})
	if r.Slope != 0 || r.Intercept != 2 {
		t.Fatalf("零方差拟合=%+v, want 水平线 y=2", r)
	}
}
