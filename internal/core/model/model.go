// Package model 定义模拟器使用的核心数据结构。
// 包含订单簿档位、原始行情帧、模拟输入与输出等核心类型。
package model

import (
	"math"
	"time"
)

// OrderType 订单类型
type OrderType string

const (
	// OrderTypeMarket 市价单
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit 限价单
	OrderTypeLimit OrderType = "LIMIT"
)

// SizeUnit 订单数量的计价单位
type SizeUnit string

const (
	// SizeUnitUSD 以 USD 名义价值计
	// 模拟时按中间价折算为基础资产数量。
	SizeUnitUSD SizeUnit = "USD"
	// SizeUnitBase 以基础资产数量计
	SizeUnitBase SizeUnit = "BASE"
)

// PriceLevel 订单簿深度档位
// 价格与数量在簿内均严格为正；数量为 0 的档位表示删除，不会入簿。
type PriceLevel struct {
	// Price 价格
	Price float64 `json:"price"`
	// Qty 数量
	Qty float64 `json:"qty"`
}

// RawMessage 一帧未解析的行情数据
// 由传输层创建，入队后由 bridge 一次性消费，无共享所有权。
type RawMessage struct {
	// Data 原始消息字节
	Data []byte
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64
}

// SimulationInputs 模拟器的输入参数
// 由 UI 回调修改，模拟循环持锁读取。
type SimulationInputs struct {
	// Exchange 交易所名称
	Exchange string
	// Asset 现货交易对，如 BTC-USDT
	Asset string
	// OrderType 订单类型: MARKET 或 LIMIT
	OrderType OrderType
	// Size 带符号的订单数量，符号即方向（size ≥ 0 为买入）
	Size float64
	// SizeUnit 数量单位: USD 名义价值或基础资产数量
	SizeUnit SizeUnit
	// Volatility 年化波动率（正数）
	Volatility float64
	// FeeTier 费率等级名称
	FeeTier string
}

// IsBuy 判断方向
// size ≥ 0 为买入。
func (in *SimulationInputs) IsBuy() bool {
	return in.Size >= 0
}

// AbsSize 获取数量绝对值
func (in *SimulationInputs) AbsSize() float64 {
	return math.Abs(in.Size)
}

// SimulationResult 单次模拟的输出
// 六个数值加一个时间戳；每个 tick 产出一条，保留最新值，
// 至多投递给一个已注册的回调，其余场景不可变。
type SimulationResult struct {
	// ExpectedSlippagePct 期望滑点（参考价的百分比）
	ExpectedSlippagePct float64 `json:"expected_slippage_pct"`
	// ExpectedMarketImpactPct 期望市场冲击（参考价的百分比）
	ExpectedMarketImpactPct float64 `json:"expected_market_impact_pct"`
	// ExpectedFees 期望手续费（名义价值的绝对额）
	ExpectedFees float64 `json:"expected_fees"`
	// MakerRatio maker 占比，区间 [0, 1]
	MakerRatio float64 `json:"maker_ratio"`
	// NetCost 净成本 = 滑点 + 冲击 + 手续费（计价货币）
	NetCost float64 `json:"net_cost"`
	// InternalLatencyUs simulate 内部耗时（微秒）
	InternalLatencyUs int64 `json:"internal_latency_us"`
	// Timestamp 模拟时刻订单簿的 local_timestamp
	Timestamp time.Time `json:"timestamp"`
}
