// Package impact 实现 Almgren–Chriss 市场冲击模型。
// 单笔冲击 = 临时冲击（平方根模型，价差修正）+ 永久冲击（线性）；
// 另提供风险厌恶下的最优执行调度（sinh 轨迹）。
package impact

import (
	"math"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/core/book"
)

// 默认模型参数
const (
	// defaultVolatility 默认年化波动率 σ
	defaultVolatility = 0.3
	// defaultImpactFactor 默认临时冲击因子 η
	defaultImpactFactor = 0.1
	// defaultRiskAversion 默认风险厌恶系数 λ
	defaultRiskAversion = 1.0
	// permanentFraction 永久冲击因子与临时因子之比: γ = 0.1 × η
	permanentFraction = 0.1
)

// Schedule 最优执行调度结果
type Schedule struct {
	// Quantities 各时点的剩余数量，长度 N+1，q_0 = Q，q_N = 0
	Quantities []float64 `json:"quantities"`
	// Times 各时点时刻，长度 N+1，首尾为 0 与 T
	Times []float64 `json:"times"`
	// TotalCost 调度的总冲击成本
	TotalCost float64 `json:"total_cost"`
}

// AlmgrenChriss 市场冲击模型
// 参数仅在配置阶段（连续模拟启动前）由单线程写入。
type AlmgrenChriss struct {
	// logger 日志记录器
	logger *zap.Logger
	// volatility 年化波动率 σ（> 0）
	volatility float64
	// impactFactor 临时冲击因子 η（> 0）
	impactFactor float64
	// riskAversion 风险厌恶系数 λ（≥ 0）
	riskAversion float64
}

// New 创建冲击模型，使用默认参数 σ=0.3, η=0.1, λ=1.0
func New(logger *zap.Logger) *AlmgrenChriss {
	return &AlmgrenChriss{
		logger:       logger.Named("impact"),
		volatility:   defaultVolatility,
		impactFactor: defaultImpactFactor,
		riskAversion: defaultRiskAversion,
	}
}

// SetVolatility 设置波动率
// 非正值记录警告并保留旧值，调用正常返回。
func (m *AlmgrenChriss) SetVolatility(volatility float64) {
	if volatility <= 0 {
		m.logger.Warn("无效波动率，保留旧值", zap.Float64("volatility", volatility))
		return
	}
	m.volatility = volatility
}

// SetImpactFactor 设置临时冲击因子 η
// 非正值记录警告并保留旧值。
func (m *AlmgrenChriss) SetImpactFactor(factor float64) {
	if factor <= 0 {
		m.logger.Warn("无效冲击因子，保留旧值", zap.Float64("factor", factor))
		return
	}
	m.impactFactor = factor
}

// SetRiskAversion 设置风险厌恶系数 λ
// 负值记录警告并保留旧值。
func (m *AlmgrenChriss) SetRiskAversion(riskAversion float64) {
	if riskAversion < 0 {
		m.logger.Warn("无效风险厌恶系数，保留旧值", zap.Float64("risk_aversion", riskAversion))
		return
	}
	m.riskAversion = riskAversion
}

// Volatility 当前波动率
func (m *AlmgrenChriss) Volatility() float64 { return m.volatility }

// ImpactFactor 当前临时冲击因子
func (m *AlmgrenChriss) ImpactFactor() float64 { return m.impactFactor }

// RiskAversion 当前风险厌恶系数
func (m *AlmgrenChriss) RiskAversion() float64 { return m.riskAversion }

// Calculate 计算单笔订单的市场冲击（绝对价格单位）
// ref 取中间价，V 为被吃一侧总量，u = qty / V：
//
//	I_temp = η × (1 + 10 × spread/ref) × ref × √u
//	I_perm = γ × ref × qty / (total_bid_volume + total_ask_volume)
//
// 任一输入非正或参考价/深度为零时返回 0。
func (m *AlmgrenChriss) Calculate(b *book.Book, qty float64, isBuy bool) float64 {
	if b == nil || qty <= 0 {
		return 0
	}

	ref := b.Mid()
	if ref <= 0 {
		return 0
	}

	var sideVolume float64
	if isBuy {
		sideVolume = b.TotalAskVolume()
	} else {
		sideVolume = b.TotalBidVolume()
	}
	if sideVolume <= 0 {
		return 0
	}

	rate := qty / sideVolume
	return m.temporaryImpact(rate, ref, b.Spread()) + m.permanentImpact(qty, ref, b)
}

// temporaryImpact 临时冲击: 平方根模型，价差越宽冲击越大
func (m *AlmgrenChriss) temporaryImpact(rate, ref, spread float64) float64 {
	relativeSpread := spread / ref
	adjustedFactor := m.impactFactor * (1.0 + 10.0*relativeSpread)
	return adjustedFactor * ref * math.Sqrt(rate)
}

// permanentImpact 永久冲击: 相对全簿深度的线性模型
func (m *AlmgrenChriss) permanentImpact(qty, ref float64, b *book.Book) float64 {
	totalVolume := b.TotalBidVolume() + b.TotalAskVolume()
	if totalVolume <= 0 {
		return 0
	}
	gamma := m.impactFactor * permanentFraction
	return gamma * ref * qty / totalVolume
}

// OptimalExecution 计算 Almgren–Chriss 最优执行调度
// 参数 totalQuantity: 总量 Q；numSteps: 步数 N；timeHorizon: 时间跨度 T。
// κ = √(λσ²/η)（σ、η 均换算到绝对价格单位），剩余量轨迹
// q_i = Q × sinh(κ(T−t_i)) / sinh(κT)；sinh(κT) 为零时退化为线性调度。
// 任一输入非法或参考价为零时返回空调度。
func (m *AlmgrenChriss) OptimalExecution(b *book.Book, totalQuantity float64, numSteps int, timeHorizon float64) Schedule {
	var schedule Schedule
	if b == nil || totalQuantity <= 0 || numSteps <= 0 || timeHorizon <= 0 {
		return schedule
	}

	ref := b.Mid()
	if ref <= 0 {
		return schedule
	}

	// 换算到绝对价格单位
	sigma := m.volatility * ref
	eta := m.impactFactor * ref
	gamma := m.impactFactor * permanentFraction * ref

	tau := timeHorizon / float64(numSteps)
	kappa := math.Sqrt(m.riskAversion * sigma * sigma / eta)
	sinhKT := math.Sinh(kappa * timeHorizon)

	schedule.Quantities = make([]float64, numSteps+1)
	schedule.Times = make([]float64, numSteps+1)
	schedule.Quantities[0] = totalQuantity

	for i := 1; i <= numSteps; i++ {
		t := float64(i) * tau
		schedule.Times[i] = t

		var remainingRatio float64
		if sinhKT != 0 {
			remainingRatio = math.Sinh(kappa*(timeHorizon-t)) / sinhKT
		} else {
			remainingRatio = float64(numSteps-i) / float64(numSteps)
		}
		schedule.Quantities[i] = totalQuantity * remainingRatio
	}

	var totalCost float64
	for i := 0; i < numSteps; i++ {
		tradeSize := schedule.Quantities[i] - schedule.Quantities[i+1]
		tempImpact := eta * math.Sqrt(tradeSize/tau)
		permImpact := gamma * tradeSize
		totalCost += tradeSize * (tempImpact + permImpact/2.0)
	}
	schedule.TotalCost = totalCost

	return schedule
}
