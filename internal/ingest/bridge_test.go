// Package ingest 解码桥测试
package ingest

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/config"
	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/sim"
)

func newTestSimulator() *sim.Simulator {
	cfg := &config.Config{
		Exchanges: []config.ExchangeConfig{
			{
				Name: "OKX",
				FeeTiers: []config.FeeTierConfig{
					{Tier: "VIP0", Maker: 0.0008, Taker: 0.001},
				},
			},
		},
		Simulator: config.SimulatorConfig{
			DefaultExchange:    "OKX",
			DefaultAsset:       "BTC-USDT",
			DefaultOrderType:   "MARKET",
			DefaultQuantityUSD: 100,
			DefaultVolatility:  0.2,
			DefaultFeeTier:     "VIP0",
			UpdateIntervalMs:   1000,
		},
	}
	return sim.New(cfg, zap.NewNop())
}

const validFrame = `{
	"exchange": "OKX",
	"symbol": "BTC-USDT",
	"timestamp": "2025-05-01T12:30:00.123Z",
	"bids": [["100.0", "1.5"], ["99.5", "2.0"]],
	"asks": [["100.5", "1.0"], ["101.0", "3.0"]]
}`

func TestBridge_Poll_ProcessesFrame(t *testing.T) {
	q := NewQueue(16)
	b := book.New()
	br := NewBridge(q, b, newTestSimulator(), 100, zap.NewNop())

	var bookCalls int
	var resultCalls int
	var lastResult model.SimulationResult
	br.SetBookCallback(func(bids, asks []model.PriceLevel) {
		bookCalls++
		if len(bids) != 2 || len(asks) != 2 {
			t.Errorf("回调档位数不符: bids=%d asks=%d", len(bids), len(asks))
		}
	})
	br.SetResultCallback(func(r model.SimulationResult) {
		resultCalls++
		lastResult = r
	})

	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})
	if !br.Poll() {
		t.Fatalf("有帧时 Poll 应返回 true")
	}

	if b.BestBid() != 100.0 || b.BestAsk() != 100.5 {
		t.Fatalf("订单簿未按帧更新: bid=%v ask=%v", b.BestBid(), b.BestAsk())
	}
	if b.Exchange() != "OKX" || b.Symbol() != "BTC-USDT" {
		t.Fatalf("簿标识未更新: %s %s", b.Exchange(), b.Symbol())
	}
	if bookCalls != 1 || resultCalls != 1 {
		t.Fatalf("回调次数不符: book=%d result=%d", bookCalls, resultCalls)
	}
	if lastResult.InternalLatencyUs <= 0 {
		t.Fatalf("模拟结果应带内部延迟")
	}
	if got := br.ProcessedCount(); got != 1 {
		t.Fatalf("ProcessedCount=%d, want 1", got)
	}
}

func TestBridge_Poll_EmptyQueue(t *testing.T) {
	br := NewBridge(NewQueue(16), book.New(), newTestSimulator(), 100, zap.NewNop())
	if br.Poll() {
		t.Fatalf("空队列 Poll 应返回 false")
	}
}

func TestBridge_Poll_MalformedFrameLeavesBookUntouched(t *testing.T) {
	q := NewQueue(16)
	b := book.New()
	br := NewBridge(q, b, newTestSimulator(), 100, zap.NewNop())

	// 先喂一帧合法数据
	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})
	br.Poll()

	// 再喂一帧损坏的 JSON
	q.Enqueue(model.RawMessage{Data: []byte(`{"exchange": "OKX", "bids": [[`)})
	br.Poll()

	// 簿保持上一帧状态
	if b.BestBid() != 100.0 || b.BestAsk() != 100.5 {
		t.Fatalf("非法帧不应改动订单簿: bid=%v ask=%v", b.BestBid(), b.BestAsk())
	}
	if got := br.ParseErrorCount(); got != 1 {
		t.Fatalf("ParseErrorCount=%d, want 1", got)
	}
	if got := br.ProcessedCount(); got != 1 {
		t.Fatalf("ProcessedCount=%d, want 1", got)
	}
}

func TestBridge_Poll_EmptySnapshotIsValidFrame(t *testing.T) {
	q := NewQueue(16)
	b := book.New()
	br := NewBridge(q, b, newTestSimulator(), 100, zap.NewNop())

	var results []model.SimulationResult
	var bookCalls int
	br.SetBookCallback(func(bids, asks []model.PriceLevel) { bookCalls++ })
	br.SetResultCallback(func(r model.SimulationResult) { results = append(results, r) })

	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})
	br.Poll()

	// 两侧深度为空的帧是合法快照：照常替换（清空）订单簿并发出两个通知
	q.Enqueue(model.RawMessage{Data: []byte(`{"exchange": "OKX", "symbol": "BTC-USDT", "timestamp": "2025-05-01T12:31:00Z", "bids": [], "asks": []}`)})
	br.Poll()

	if b.BestBid() != 0 || b.BestAsk() != 0 {
		t.Fatalf("空快照应清空订单簿: bid=%v ask=%v", b.BestBid(), b.BestAsk())
	}
	if got := br.ParseErrorCount(); got != 0 {
		t.Fatalf("空快照不是解析错误，ParseErrorCount=%d, want 0", got)
	}
	if got := br.ProcessedCount(); got != 2 {
		t.Fatalf("ProcessedCount=%d, want 2", got)
	}
	if bookCalls != 2 || len(results) != 2 {
		t.Fatalf("空快照也应发出通知: book=%d result=%d", bookCalls, len(results))
	}

	// 空簿模拟产出零值结果
	last := results[1]
	if last.NetCost != 0 || last.ExpectedFees != 0 || last.MakerRatio != 0 {
		t.Fatalf("空簿模拟应为零值结果: %+v", last)
	}
	if last.InternalLatencyUs <= 0 {
		t.Fatalf("零值结果仍应记录内部延迟")
	}
}

func TestBridge_Poll_SimulationUsesUpdatedBook(t *testing.T) {
	q := NewQueue(16)
	b := book.New()
	br := NewBridge(q, b, newTestSimulator(), 100, zap.NewNop())

	var result model.SimulationResult
	br.SetResultCallback(func(r model.SimulationResult) { result = r })

	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})
	br.Poll()

	// update → simulate → emit 按序执行：结果时间戳即该帧更新后的
	// local_timestamp
	if !result.Timestamp.Equal(b.LastUpdateTime()) {
		t.Fatalf("结果时间戳应等于簿更新时间")
	}
	if result.ExpectedFees <= 0 {
		t.Fatalf("合法簿上的手续费应为正，got %v", result.ExpectedFees)
	}
	if math.IsNaN(result.NetCost) {
		t.Fatalf("净成本不应为 NaN")
	}
}

func TestBridge_Poll_OneFramePerTick(t *testing.T) {
	q := NewQueue(16)
	br := NewBridge(q, book.New(), newTestSimulator(), 100, zap.NewNop())

	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})
	q.Enqueue(model.RawMessage{Data: []byte(validFrame)})

	br.Poll()
	if got := q.Len(); got != 1 {
		t.Fatalf("每个 tick 只应消费一帧，剩余 %d", got)
	}
}
