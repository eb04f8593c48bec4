// Package book 订单簿属性测试
package book

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// 属性：任意快照更新后，簿内价格与数量严格为正、两侧有序、
// 历史长度有界。
func TestBook_UpdateInvariants_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 80
	properties := gopter.NewProperties(parameters)

	properties.Property("更新后不变式成立", prop.ForAll(
		func(bidPrices []float64, bidQtys []float64, askPrices []float64, askQtys []float64) bool {
			b := New()
			b.Update("okx", "BTC-USDT",
				toLevels(bidPrices, bidQtys),
				toLevels(askPrices, askQtys),
				"2025-05-01T12:30:00Z")

			bids := b.Bids()
			asks := b.Asks()

			// I1: 簿内价格与数量严格为正
			for _, lvl := range bids {
				if lvl.Price <= 0 || lvl.Qty <= 0 {
					return false
				}
			}
			for _, lvl := range asks {
				if lvl.Price <= 0 || lvl.Qty <= 0 {
					return false
				}
			}

			// I3: 买侧降序、卖侧升序
			for i := 1; i < len(bids); i++ {
				if bids[i].Price >= bids[i-1].Price {
					return false
				}
			}
			for i := 1; i < len(asks); i++ {
				if asks[i].Price <= asks[i-1].Price {
					return false
				}
			}

			// I4: 更新历史有界
			if b.HistoryLen() > 100 {
				return false
			}

			// imbalance 始终落在 [0, 1]
			imb := b.Imbalance()
			return imb >= 0 && imb <= 1
		},
		gen.SliceOfN(20, gen.Float64Range(-10, 1000)),
		gen.SliceOfN(20, gen.Float64Range(-5, 50)),
		gen.SliceOfN(20, gen.Float64Range(-10, 1000)),
		gen.SliceOfN(20, gen.Float64Range(-5, 50)),
	))

	properties.TestingRun(t)
}

// 属性：冲击估计对任意正数量非负（买卖双向）。
// 参考价即最优价，逐档 VWAP 只会劣于或等于它。
func TestBook_ImpactNonNegative_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 80
	properties := gopter.NewProperties(parameters)

	properties.Property("逐档冲击估计非负", prop.ForAll(
		func(prices []float64, qtys []float64, orderQty float64, isBuy bool) bool {
			b := New()
			b.Update("okx", "BTC-USDT",
				toLevels(prices, qtys),
				toLevels(prices, qtys),
				"2025-05-01T12:30:00Z")

			impact := b.EstimateMarketImpact(orderQty, isBuy)
			return impact >= -1e-9
		},
		gen.SliceOfN(10, gen.Float64Range(1, 1000)),
		gen.SliceOfN(10, gen.Float64Range(0.001, 50)),
		gen.Float64Range(0.001, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// toLevels 将价格/数量切片转为字符串档位对
func toLevels(prices, qtys []float64) [][]string {
	n := len(prices)
	if len(qtys) < n {
		n = len(qtys)
	}
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, []string{
			strconv.FormatFloat(prices[i], 'f', -1, 64),
			strconv.FormatFloat(qtys[i], 'f', -1, 64),
		})
	}
	return out
}
