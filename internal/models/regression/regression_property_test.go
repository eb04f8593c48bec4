// Package regression 回归策略属性测试
package regression

import (
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// 属性：保存后再加载，模型类型、次数、分位数与系数逐位复原。
func TestModel_SaveLoad_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	dir := t.TempDir()

	properties.Property("持久化往返保持系数逐位一致", prop.ForAll(
		func(kindIdx int, degree int, quantile float64, coeffs []float64) bool {
			path := filepath.Join(dir, "model.json")

			m := New(Kind(kindIdx), zap.NewNop())
			m.SetPolynomialDegree(degree)
			m.SetQuantile(quantile)
			m.coefficients = coeffs

			if err := m.Save(path); err != nil {
				return false
			}

			loaded := New(KindLinear, zap.NewNop())
			if err := loaded.Load(path); err != nil {
				return false
			}

			if loaded.kind != Kind(kindIdx) || loaded.degree != degree || loaded.quantile != quantile {
				return false
			}
			if len(loaded.coefficients) != len(coeffs) {
				return false
			}
			for i := range coeffs {
				if loaded.coefficients[i] != coeffs[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 4),
		gen.IntRange(1, 6),
		gen.Float64Range(0, 1),
		gen.SliceOfN(4, gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}
