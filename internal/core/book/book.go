// Package book 维护价格有序的 L2 订单簿。
// 买卖两侧各用一棵 btree 按价格排序（买侧降序、卖侧升序），
// 整簿由一把读写锁保护：快照替换取写锁，查询取读锁，
// 读者拿到的是拷贝，绝不跨锁暴露内部迭代器。
package book

import (
	"sync"
	"time"

	"github.com/google/btree"

	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/util/fastparse"
	"trade-cost-simulator/internal/util/timeutil"
)

// historyLimit update_history 保留的最近本地时间戳条数
const historyLimit = 100

// treeDegree btree 度数
const treeDegree = 32

// bidItem 买侧档位，价格降序排列（最优买价在最前）
type bidItem struct {
	level model.PriceLevel
}

// Less 买侧比较器：价格高者在前
func (b bidItem) Less(than btree.Item) bool {
	return b.level.Price > than.(bidItem).level.Price
}

// askItem 卖侧档位，价格升序排列（最优卖价在最前）
type askItem struct {
	level model.PriceLevel
}

// Less 卖侧比较器：价格低者在前
func (a askItem) Less(than btree.Item) bool {
	return a.level.Price < than.(askItem).level.Price
}

// Book 快照式 L2 订单簿
// 写者唯一（bridge），读者多个（模拟器、UI、指标采集）。
// 不变式：簿内价格与数量严格为正；两侧同时非空时 best_bid < best_ask
// 由行情源保证，簿本身只负责原子替换与有序迭代。
type Book struct {
	mu sync.RWMutex

	// exchange 行情来源交易所
	exchange string
	// symbol 交易对
	symbol string

	// feedTime 交易所为快照标注的时间
	feedTime time.Time
	// localTime 本地应用快照的壁钟时间
	localTime time.Time

	// bids 买侧档位（价格降序）
	bids *btree.BTree
	// asks 卖侧档位（价格升序）
	asks *btree.BTree

	// updateTimes 最近 historyLimit 次更新的本地纳秒时间戳
	// 条目单调不减，用于计算更新频率。
	updateTimes []int64
}

// New 创建空订单簿
func New() *Book {
	return &Book{
		bids: btree.New(treeDegree),
		asks: btree.New(treeDegree),
	}
}

// Update 用一帧完整快照原子替换两侧深度
// 参数 bids/asks: [price, qty] 字符串对数组；价格或数量非正、
// 解析失败的档位被丢弃，不影响其余档位。
// 参数 timestamp: ISO-8601 字符串，解析失败时回退为当前壁钟时间。
// 新树在锁外构建，独占区只做指针交换与时间戳登记。
func (b *Book) Update(exchange, symbol string, bids, asks [][]string, timestamp string) {
	newBids := btree.New(treeDegree)
	for _, pair := range bids {
		if lvl, ok := parseLevel(pair); ok {
			newBids.ReplaceOrInsert(bidItem{level: lvl})
		}
	}
	newAsks := btree.New(treeDegree)
	for _, pair := range asks {
		if lvl, ok := parseLevel(pair); ok {
			newAsks.ReplaceOrInsert(askItem{level: lvl})
		}
	}

	feedTime := timeutil.ParseISOTimestamp(timestamp)
	nowNs := timeutil.NowNano()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.exchange = exchange
	b.symbol = symbol
	b.feedTime = feedTime
	b.localTime = timeutil.NanoToTime(nowNs)
	b.bids = newBids
	b.asks = newAsks

	b.updateTimes = append(b.updateTimes, nowNs)
	if len(b.updateTimes) > historyLimit {
		b.updateTimes = b.updateTimes[len(b.updateTimes)-historyLimit:]
	}
}

// parseLevel 解析一个 [price, qty] 字符串对
// 任一字段非正或解析失败时丢弃该档位。
func parseLevel(pair []string) (model.PriceLevel, bool) {
	if len(pair) < 2 {
		return model.PriceLevel{}, false
	}
	price, ok := fastparse.ParsePositiveFloat(pair[0])
	if !ok {
		return model.PriceLevel{}, false
	}
	qty, ok := fastparse.ParsePositiveFloat(pair[1])
	if !ok {
		return model.PriceLevel{}, false
	}
	return model.PriceLevel{Price: price, Qty: qty}, true
}

// Bids 获取买侧快照（价格降序）
func (b *Book) Bids() []model.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.PriceLevel, 0, b.bids.Len())
	b.bids.Ascend(func(item btree.Item) bool {
		out = append(out, item.(bidItem).level)
		return true
	})
	return out
}

// Asks 获取卖侧快照（价格升序）
func (b *Book) Asks() []model.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.PriceLevel, 0, b.asks.Len())
	b.asks.Ascend(func(item btree.Item) bool {
		out = append(out, item.(askItem).level)
		return true
	})
	return out
}

// BestBid 最优买价，买侧为空返回 0
func (b *Book) BestBid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

// BestAsk 最优卖价，卖侧为空返回 0
func (b *Book) BestAsk() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestBidLocked() float64 {
	if b.bids.Len() == 0 {
		return 0
	}
	return b.bids.Min().(bidItem).level.Price
}

func (b *Book) bestAskLocked() float64 {
	if b.asks.Len() == 0 {
		return 0
	}
	return b.asks.Min().(askItem).level.Price
}

// Mid 中间价 = (best_bid + best_ask) / 2
// 任一侧为空返回 0。组合查询在同一把读锁内完成，避免读到半更新状态。
func (b *Book) Mid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread 价差 = best_ask - best_bid，任一侧为空返回 0
func (b *Book) Spread() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}

// DepthAt 查询指定价格档位的数量，不存在返回 0
func (b *Book) DepthAt(price float64, isBid bool) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if isBid {
		if item := b.bids.Get(bidItem{level: model.PriceLevel{Price: price}}); item != nil {
			return item.(bidItem).level.Qty
		}
		return 0
	}
	if item := b.asks.Get(askItem{level: model.PriceLevel{Price: price}}); item != nil {
		return item.(askItem).level.Qty
	}
	return 0
}

// TotalBidVolume 买侧数量合计
func (b *Book) TotalBidVolume() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalBidVolumeLocked()
}

// TotalAskVolume 卖侧数量合计
func (b *Book) TotalAskVolume() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalAskVolumeLocked()
}

func (b *Book) totalBidVolumeLocked() float64 {
	var total float64
	b.bids.Ascend(func(item btree.Item) bool {
		total += item.(bidItem).level.Qty
		return true
	})
	return total
}

func (b *Book) totalAskVolumeLocked() float64 {
	var total float64
	b.asks.Ascend(func(item btree.Item) bool {
		total += item.(askItem).level.Qty
		return true
	})
	return total
}

// Imbalance 深度失衡 = bid_vol / (bid_vol + ask_vol)
// 任一侧为空返回 0；两侧等量时为 0.5。
func (b *Book) Imbalance() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidVol := b.totalBidVolumeLocked()
	askVol := b.totalAskVolumeLocked()
	if bidVol <= 0 || askVol <= 0 {
		return 0
	}
	return bidVol / (bidVol + askVol)
}

// EstimateMarketImpact 估算市价吃单的即时冲击
// 参考价取被吃一侧的最优价（买单为 best_ask，卖单为 best_bid）。
// 按自然顺序逐档吃量累计成交额；深度耗尽时用最后一档价格吞掉剩余量。
// 返回带方向的 VWAP 偏离：买单为 vwap - ref，卖单为 ref - vwap。
// 被吃一侧无任何流动性或 qty 非正时返回 0。
func (b *Book) EstimateMarketImpact(qty float64, isBuy bool) float64 {
	if qty <= 0 {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var ref float64
	var tree *btree.BTree
	if isBuy {
		ref = b.bestAskLocked()
		tree = b.asks
	} else {
		ref = b.bestBidLocked()
		tree = b.bids
	}
	if ref <= 0 || tree.Len() == 0 {
		return 0
	}

	remaining := qty
	var totalCost float64
	var lastPrice float64
	tree.Ascend(func(item btree.Item) bool {
		var lvl model.PriceLevel
		if isBuy {
			lvl = item.(askItem).level
		} else {
			lvl = item.(bidItem).level
		}
		take := remaining
		if lvl.Qty < take {
			take = lvl.Qty
		}
		totalCost += lvl.Price * take
		remaining -= take
		lastPrice = lvl.Price
		return remaining > 0
	})

	// 深度耗尽：最后观测到的价格延展到剩余量
	if remaining > 0 {
		totalCost += lastPrice * remaining
	}

	vwap := totalCost / qty
	if isBuy {
		return vwap - ref
	}
	return ref - vwap
}

// LevelsCount 档位数量（诊断用）
func (b *Book) LevelsCount(isBid bool) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if isBid {
		return b.bids.Len()
	}
	return b.asks.Len()
}

// UpdateFrequency 基于 update_history 计算更新频率（次/秒）
// 公式: (count - 1) × 1000 / (last_ms - first_ms)
// 历史不足两条或时间跨度为零时返回 0。
func (b *Book) UpdateFrequency() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.updateTimes)
	if n < 2 {
		return 0
	}
	durMs := timeutil.DurationMs(b.updateTimes[0], b.updateTimes[n-1])
	if durMs <= 0 {
		return 0
	}
	return float64(n-1) * 1000.0 / durMs
}

// Exchange 行情来源交易所
func (b *Book) Exchange() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exchange
}

// Symbol 交易对
func (b *Book) Symbol() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.symbol
}

// FeedTime 交易所标注的快照时间
func (b *Book) FeedTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.feedTime
}

// LastUpdateTime 最近一次本地更新时间
func (b *Book) LastUpdateTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.localTime
}

// HistoryLen 当前保留的更新历史条数（诊断用）
func (b *Book) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.updateTimes)
}
