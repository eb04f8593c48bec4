// Package fee 实现分级手续费模型。
// 费率按 (交易所, 等级) 从配置查表，maker/taker 两部分按 maker 占比
// 加权：fee = notional × (maker_rate × r + taker_rate × (1 − r))。
package fee

import (
	"go.uber.org/zap"

	"trade-cost-simulator/internal/config"
)

// Model 手续费模型
// 配置加载后只读，可被多个 goroutine 并发查询。
type Model struct {
	// cfg 费率配置来源
	cfg *config.Config
	// logger 日志记录器
	logger *zap.Logger
}

// New 创建手续费模型
func New(cfg *config.Config, logger *zap.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.Named("fee"),
	}
}

// Calculate 计算综合手续费
// 参数 makerRatio: maker 占比，应在 [0, 1]；越界输入记录警告并按 0
// （全 taker，保守估计）处理。数量或价格非正返回 0。
// 费率查不到的 (exchange, tier) 组合按零费率处理。
func (m *Model) Calculate(exchange, feeTier string, quantity, price, makerRatio float64) float64 {
	if quantity <= 0 || price <= 0 {
		m.logger.Warn("手续费计算输入非法",
			zap.Float64("quantity", quantity), zap.Float64("price", price))
		return 0
	}

	if makerRatio < 0 || makerRatio > 1 {
		m.logger.Warn("maker 占比越界，按全 taker 处理", zap.Float64("maker_ratio", makerRatio))
		makerRatio = 0
	}

	notional := quantity * price
	makerRate := m.cfg.MakerFee(exchange, feeTier)
	takerRate := m.cfg.TakerFee(exchange, feeTier)

	return notional*makerRate*makerRatio + notional*takerRate*(1.0-makerRatio)
}

// MakerFee 计算纯 maker 成交的手续费
func (m *Model) MakerFee(exchange, feeTier string, quantity, price float64) float64 {
	if quantity <= 0 || price <= 0 {
		return 0
	}
	return quantity * price * m.cfg.MakerFee(exchange, feeTier)
}

// TakerFee 计算纯 taker 成交的手续费
func (m *Model) TakerFee(exchange, feeTier string, quantity, price float64) float64 {
	if quantity <= 0 || price <= 0 {
		return 0
	}
	return quantity * price * m.cfg.TakerFee(exchange, feeTier)
}

// Tiers 列出交易所的费率等级名称
func (m *Model) Tiers(exchange string) []string {
	tiers := m.cfg.FeeTiers(exchange)
	names := make([]string, 0, len(tiers))
	for _, t := range tiers {
		names = append(names, t.Tier)
	}
	return names
}
