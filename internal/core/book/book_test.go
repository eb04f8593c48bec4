// Package book 订单簿测试
package book

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func mustUpdate(b *Book, bids, asks [][]string) {
	b.Update("okx", "BTC-USDT", bids, asks, "2025-05-01T12:30:00.500Z")
}

func TestBook_UpdateAndQueries(t *testing.T) {
	b := New()
	mustUpdate(b,
		[][]string{{"100", "1"}, {"99", "2"}},
		[][]string{{"101", "1"}, {"102", "2"}},
	)

	if got := b.BestBid(); got != 100 {
		t.Fatalf("BestBid=%v, want 100", got)
	}
	if got := b.BestAsk(); got != 101 {
		t.Fatalf("BestAsk=%v, want 101", got)
	}
	if got := b.Mid(); got != 100.5 {
		t.Fatalf("Mid=%v, want 100.5", got)
	}
	if got := b.Spread(); got != 1 {
		t.Fatalf("Spread=%v, want 1", got)
	}
	if got := b.TotalBidVolume(); got != 3 {
		t.Fatalf("TotalBidVolume=%v, want 3", got)
	}
	if got := b.TotalAskVolume(); got != 3 {
		t.Fatalf("TotalAskVolume=%v, want 3", got)
	}
	if got := b.Imbalance(); got != 0.5 {
		t.Fatalf("Imbalance=%v, want 0.5", got)
	}
	if got := b.DepthAt(99, true); got != 2 {
		t.Fatalf("DepthAt(99, bid)=%v, want 2", got)
	}
	if got := b.DepthAt(98, true); got != 0 {
		t.Fatalf("DepthAt(98, bid)=%v, want 0", got)
	}
	if got := b.LevelsCount(false); got != 2 {
		t.Fatalf("LevelsCount(ask)=%v, want 2", got)
	}
	if got := b.Exchange(); got != "okx" {
		t.Fatalf("Exchange=%s, want okx", got)
	}
}

func TestBook_EmptyQueriesReturnZero(t *testing.T) {
	b := New()

	if b.BestBid() != 0 || b.BestAsk() != 0 || b.Mid() != 0 || b.Spread() != 0 {
		t.Fatalf("空簿的价格查询应全部返回 0")
	}
	if b.Imbalance() != 0 {
		t.Fatalf("空簿 Imbalance 应为 0")
	}
	if b.EstimateMarketImpact(1, true) != 0 {
		t.Fatalf("空簿冲击估计应为 0")
	}
	if b.UpdateFrequency() != 0 {
		t.Fatalf("无更新历史时频率应为 0")
	}
}

func TestBook_OneSidedBook(t *testing.T) {
	b := New()
	mustUpdate(b, nil, [][]string{{"101", "1"}})

	// 只有卖侧时 mid/spread/imbalance 均为 0
	if b.Mid() != 0 || b.Spread() != 0 || b.Imbalance() != 0 {
		t.Fatalf("单侧簿的组合查询应返回 0")
	}
	if got := b.BestAsk(); got != 101 {
		t.Fatalf("BestAsk=%v, want 101", got)
	}
}

func TestBook_UpdateDiscardsInvalidLevels(t *testing.T) {
	b := New()
	mustUpdate(b,
		[][]string{{"100", "1"}, {"0", "5"}, {"99", "-1"}, {"abc", "1"}, {"98"}},
		[][]string{{"101", "2"}, {"102", "0"}},
	)

	if got := b.LevelsCount(true); got != 1 {
		t.Fatalf("买侧应只保留 1 个合法档位，got %d", got)
	}
	if got := b.LevelsCount(false); got != 1 {
		t.Fatalf("卖侧应只保留 1 个合法档位，got %d", got)
	}
	// 非法档位被跳过，合法档位仍然生效
	if got := b.DepthAt(101, false); got != 2 {
		t.Fatalf("DepthAt(101, ask)=%v, want 2", got)
	}
}

func TestBook_SnapshotReplace(t *testing.T) {
	b := New()
	mustUpdate(b, [][]string{{"100", "1"}}, [][]string{{"101", "1"}})
	mustUpdate(b, [][]string{{"95", "3"}}, [][]string{{"96", "4"}})

	// 快照替换：旧档位全部消失
	if got := b.DepthAt(100, true); got != 0 {
		t.Fatalf("旧买档应被替换掉，got %v", got)
	}
	if got := b.BestBid(); got != 95 {
		t.Fatalf("BestBid=%v, want 95", got)
	}
	if got := b.BestAsk(); got != 96 {
		t.Fatalf("BestAsk=%v, want 96", got)
	}
}

func TestBook_IterationOrder(t *testing.T) {
	b := New()
	mustUpdate(b,
		[][]string{{"99", "1"}, {"100", "1"}, {"98", "1"}},
		[][]string{{"103", "1"}, {"101", "1"}, {"102", "1"}},
	)

	bids := b.Bids()
	for i := 1; i < len(bids); i++ {
		if bids[i].Price >= bids[i-1].Price {
			t.Fatalf("买侧应严格降序: %v", bids)
		}
	}
	asks := b.Asks()
	for i := 1; i < len(asks); i++ {
		if asks[i].Price <= asks[i-1].Price {
			t.Fatalf("卖侧应严格升序: %v", asks)
		}
	}
}

func TestBook_EstimateMarketImpact_Walk(t *testing.T) {
	b := New()
	mustUpdate(b,
		[][]string{{"100", "1"}, {"99", "2"}},
		[][]string{{"101", "1"}, {"102", "2"}, {"103", "3"}},
	)

	// 买入 4：VWAP = (101·1 + 102·2 + 103·1) / 4 = 102，ref = 101
	got := b.EstimateMarketImpact(4, true)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("买入冲击=%v, want 1.0", got)
	}

	// 卖出 2：VWAP = (100·1 + 99·1) / 2 = 99.5，ref = 100
	got = b.EstimateMarketImpact(2, false)
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("卖出冲击=%v, want 0.5", got)
	}
}

func TestBook_EstimateMarketImpact_ExhaustedLiquidity(t *testing.T) {
	b := New()
	mustUpdate(b, [][]string{{"100", "1"}}, [][]string{{"101", "1"}})

	// 买入 3：深度只有 1，剩余 2 按最后一档 101 延展，VWAP = 101 → 冲击 0
	got := b.EstimateMarketImpact(3, true)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("深度耗尽延展后冲击=%v, want 0", got)
	}
}

func TestBook_UpdateFrequency(t *testing.T) {
	b := New()
	if b.UpdateFrequency() != 0 {
		t.Fatalf("无历史时频率应为 0")
	}

	mustUpdate(b, [][]string{{"100", "1"}}, [][]string{{"101", "1"}})
	if b.UpdateFrequency() != 0 {
		t.Fatalf("单条历史时频率应为 0")
	}

	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		mustUpdate(b, [][]string{{"100", "1"}}, [][]string{{"101", "1"}})
	}
	if got := b.UpdateFrequency(); got <= 0 {
		t.Fatalf("多条历史时频率应为正数，got %v", got)
	}
}

func TestBook_HistoryBounded(t *testing.T) {
	b := New()
	for i := 0; i < 150; i++ {
		mustUpdate(b, [][]string{{"100", "1"}}, [][]string{{"101", "1"}})
	}
	if got := b.HistoryLen(); got != historyLimit {
		t.Fatalf("更新历史应被截断到 %d，got %d", historyLimit, got)
	}
}

func TestBook_FeedTimestampFallback(t *testing.T) {
	b := New()
	before := time.Now()
	b.Update("okx", "BTC-USDT", [][]string{{"100", "1"}}, [][]string{{"101", "1"}}, "not-a-timestamp")

	// 解析失败回退当前壁钟时间
	if b.FeedTime().Before(before.Add(-time.Second)) {
		t.Fatalf("非法时间戳应回退为当前时间，got %v", b.FeedTime())
	}

	b.Update("okx", "BTC-USDT", [][]string{{"100", "1"}}, [][]string{{"101", "1"}}, "2025-05-01T12:30:00.500Z")
	want := time.Date(2025, 5, 1, 12, 30, 0, 500_000_000, time.UTC)
	if !b.FeedTime().Equal(want) {
		t.Fatalf("FeedTime=%v, want %v", b.FeedTime(), want)
	}
}

// TestBook_ConcurrentReadersNeverSeeTornUpdate 一写多读：
// 写者持续替换快照，读者不应观测到违反排序/一致性的中间状态。
func TestBook_ConcurrentReadersNeverSeeTornUpdate(t *testing.T) {
	b := New()
	stop := make(chan struct{})
	errCh := make(chan string, 16)

	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			base := 100 + i%10
			b.Update("okx", "BTC-USDT",
				[][]string{
					{fmt.Sprintf("%d", base), "1"},
					{fmt.Sprintf("%d", base-1), "2"},
				},
				[][]string{
					{fmt.Sprintf("%d", base+1), "1"},
					{fmt.Sprintf("%d", base+2), "2"},
				},
				"2025-05-01T12:30:00Z")
		}
	}()

	const readers = 4
	readerDone := make(chan struct{}, readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer func() { readerDone <- struct{}{} }()
			for i := 0; i < 2000; i++ {
				bids := b.Bids()
				asks := b.Asks()
				for j := 1; j < len(bids); j++ {
					if bids[j].Price >= bids[j-1].Price {
						errCh <- "买侧乱序"
						return
					}
				}
				for j := 1; j < len(asks); j++ {
					if asks[j].Price <= asks[j-1].Price {
						errCh <- "卖侧乱序"
						return
					}
				}
				// Bids() 与 Asks() 各自是一次独立快照，写者可能在两次调用之间
				// 替换整簿；两侧的交叉关系要在同一把读锁内观测，用 Spread()
				if len(bids) > 0 && len(asks) > 0 && b.Spread() <= 0 {
					errCh <- "best_bid >= best_ask"
					return
				}
				for _, lvl := range bids {
					if lvl.Price <= 0 || lvl.Qty <= 0 {
						errCh <- "买侧出现非正档位"
						return
					}
				}
			}
		}()
	}

	for r := 0; r < readers; r++ {
		<-readerDone
	}
	close(stop)

	select {
	case msg := <-errCh:
		t.Fatalf("并发读检测到不变式破坏: %s", msg)
	default:
	}
}
