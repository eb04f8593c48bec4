package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/sim"
	"trade-cost-simulator/internal/util/timeutil"
)

// Frame 行情帧的 JSON 结构
// 每帧是一份完整的可见深度快照，价格与数量为十进制字符串。
type Frame struct {
	// Exchange 交易所名称
	Exchange string `json:"exchange"`
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Timestamp ISO-8601 时间戳（Z 后缀，小数秒可选）
	Timestamp string `json:"timestamp"`
	// Bids 买侧档位（期望降序，簿内会重排，不强制）
	Bids [][]string `json:"bids"`
	// Asks 卖侧档位（期望升序）
	Asks [][]string `json:"asks"`
}

// BookCallback 订单簿更新通知
type BookCallback func(bids, asks []model.PriceLevel)

// ResultCallback 模拟结果更新通知
type ResultCallback func(model.SimulationResult)

// Bridge 解码桥
// 每个轮询 tick 出队一帧：解析 → 替换订单簿 → 运行模拟器 → 发出
// order_book_updated 与 simulation_updated 两个通知。对任一给定帧，
// update → simulate → emit 在单协程上按序执行，不允许重排。
// 解析失败只记日志并丢帧，订单簿不会被改动。
type Bridge struct {
	// logger 日志记录器
	logger *zap.Logger
	// queue 帧来源
	queue *Queue
	// book 目标订单簿（桥是唯一写者）
	book *book.Book
	// simulator 每帧驱动的模拟器
	simulator *sim.Simulator
	// pollInterval 轮询间隔
	pollInterval time.Duration

	// cbMu 回调槽锁
	cbMu sync.Mutex
	// onBook 订单簿更新回调
	onBook BookCallback
	// onResult 模拟结果回调
	onResult ResultCallback

	// processedCount 已处理帧数
	processedCount int64
	// parseErrCount 解析失败帧数
	parseErrCount int64
	// lastParseErrLogNs 上次解析错误日志时间（采样用）
	lastParseErrLogNs int64
}

// NewBridge 创建解码桥
// 参数 pollIntervalMs: 轮询间隔（毫秒），非正时取 100。
func NewBridge(queue *Queue, b *book.Book, simulator *sim.Simulator, pollIntervalMs int, logger *zap.Logger) *Bridge {
	if pollIntervalMs <= 0 {
		pollIntervalMs = 100
	}
	return &Bridge{
		logger:       logger.Named("bridge"),
		queue:        queue,
		book:         b,
		simulator:    simulator,
		pollInterval: time.Duration(pollIntervalMs) * time.Millisecond,
	}
}

// SetBookCallback 注册订单簿更新回调
func (br *Bridge) SetBookCallback(cb BookCallback) {
	br.cbMu.Lock()
	defer br.cbMu.Unlock()
	br.onBook = cb
}

// SetResultCallback 注册模拟结果回调
func (br *Bridge) SetResultCallback(cb ResultCallback) {
	br.cbMu.Lock()
	defer br.cbMu.Unlock()
	br.onResult = cb
}

// Poll 执行一个轮询 tick
// 出队一帧并处理；队列为空时返回 false。
func (br *Bridge) Poll() bool {
	msg, ok := br.queue.Dequeue()
	if !ok {
		return false
	}

	frame, err := parseFrame(msg.Data)
	if err != nil {
		atomic.AddInt64(&br.parseErrCount, 1)
		br.maybeLogParseError(err, msg.Data)
		return true
	}

	br.book.Update(frame.Exchange, frame.Symbol, frame.Bids, frame.Asks, frame.Timestamp)
	result := br.simulator.Simulate(br.book)
	atomic.AddInt64(&br.processedCount, 1)

	br.cbMu.Lock()
	onBook, onResult := br.onBook, br.onResult
	br.cbMu.Unlock()

	if onBook != nil {
		onBook(br.book.Bids(), br.book.Asks())
	}
	if onResult != nil {
		onResult(result)
	}
	return true
}

// Run 以固定节奏轮询队列直到 ctx 取消
func (br *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(br.pollInterval)
	defer ticker.Stop()

	br.logger.Info("解码桥启动", zap.Duration("poll_interval", br.pollInterval))
	for {
		select {
		case <-ctx.Done():
			br.logger.Info("解码桥退出",
				zap.Int64("processed", atomic.LoadInt64(&br.processedCount)),
				zap.Int64("parse_errors", atomic.LoadInt64(&br.parseErrCount)))
			return
		case <-ticker.C:
			br.Poll()
		}
	}
}

// ProcessedCount 已处理帧数
func (br *Bridge) ProcessedCount() int64 {
	return atomic.LoadInt64(&br.processedCount)
}

// ParseErrorCount 解析失败帧数
func (br *Bridge) ParseErrorCount() int64 {
	return atomic.LoadInt64(&br.parseErrCount)
}

// parseFrame 解析一帧行情 JSON
// 只有 JSON 本身损坏才算解析失败；两侧深度为空是合法快照，
// 照常替换订单簿，空簿由模拟器按零值结果处理。
func parseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("解析行情帧失败: %w", err)
	}
	return &frame, nil
}

// maybeLogParseError 采样记录解析错误，避免坏流刷盘
// 同类日志至少间隔 1 分钟。
func (br *Bridge) maybeLogParseError(err error, data []byte) {
	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&br.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&br.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	br.logger.Warn("丢弃非法行情帧（采样）", zap.Error(err), zap.ByteString("data", sample))
}
