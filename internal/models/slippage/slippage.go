// Package slippage 实现滑点估计模型。
// 三种可互换模式：订单簿逐档模拟（默认、权威）、一元线性回归、
// 特征化分位数回归。线性模式对 (数量, 滑点) 对做普通最小二乘拟合，
// 分位数模式对特征样本做 pinball 损失梯度下降；两者各有训练数据，
// 都经 Train 按当前模式训练。
package slippage

import (
	"math"
	"time"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/util/stat"
	"trade-cost-simulator/internal/util/timeutil"
)

// Mode 滑点模型模式
type Mode int

const (
	// ModeLinearRegression 一元线性回归: slippage = slope × qty + intercept
	ModeLinearRegression Mode = iota
	// ModeQuantileRegression 特征化分位数回归（pinball 损失梯度下降）
	ModeQuantileRegression
	// ModeOrderBookBased 订单簿逐档模拟（默认）
	ModeOrderBookBased
)

// 分位数回归的训练超参数
const (
	// quantileMaxIterations 梯度下降最大迭代次数
	quantileMaxIterations = 1000
	// quantileLearningRate 步长
	quantileLearningRate = 0.01
	// quantileConvergence 收敛阈值: ‖β_new − β‖ < 1e-6
	quantileConvergence = 1e-6
)

// trainedQuantiles 预先拟合的分位数集合
var trainedQuantiles = []float64{0.10, 0.25, 0.50, 0.75, 0.90}

// featureWeights 特征固定缩放权重: volume, spread, volatility, time_of_day
var featureWeights = [4]float64{0.4, 0.3, 0.2, 0.1}

// Features 分位数模型的特征向量
type Features struct {
	// Volume 订单数量
	Volume float64
	// Spread 订单簿价差
	Spread float64
	// Volatility 年化波动率
	Volatility float64
	// TimeOfDay 当日时间占比，区间 [0, 1]
	TimeOfDay float64
}

// Sample 一条分位数模型训练样本
type Sample struct {
	Features
	// Slippage 观测到的滑点（目标值）
	Slippage float64
}

// Model 滑点模型
// 非并发安全：训练与换模式在连续模拟启动前的配置阶段完成。
type Model struct {
	// logger 日志记录器
	logger *zap.Logger
	// mode 当前模式
	mode Mode

	// volatility 预测分位数滑点时使用的波动率特征
	volatility float64

	// qtyData/slipData 线性模式训练数据: (数量, 滑点) 对
	qtyData  []float64
	slipData []float64
	// linear 线性拟合结果
	linear stat.Regression
	// linearTrained 是否已完成线性训练
	linearTrained bool

	// samples 分位数模式训练样本
	samples []Sample
	// quantCoeffs 每个分位数对应的系数 [β₀, β_vol, β_spr, β_σ, β_tod]
	quantCoeffs map[float64][]float64
}

// New 创建滑点模型，默认订单簿模式
func New(logger *zap.Logger) *Model {
	return &Model{
		logger:      logger.Named("slippage"),
		mode:        ModeOrderBookBased,
		quantCoeffs: make(map[float64][]float64),
	}
}

// SetMode 切换模型模式
func (m *Model) SetMode(mode Mode) {
	m.mode = mode
}

// Mode 当前模式
func (m *Model) Mode() Mode {
	return m.mode
}

// SetVolatility 设置预测用波动率特征
// 非正值记录警告并保留旧值。
func (m *Model) SetVolatility(vol float64) {
	if vol <= 0 {
		m.logger.Warn("无效波动率，保留旧值", zap.Float64("volatility", vol))
		return
	}
	m.volatility = vol
}

// SetDataPoints 设置线性模式训练数据
// 两切片长度必须一致，否则忽略并记录错误。
func (m *Model) SetDataPoints(quantities, slippages []float64) {
	if len(quantities) != len(slippages) {
		m.logger.Error("训练数据长度不一致",
			zap.Int("quantities", len(quantities)), zap.Int("slippages", len(slippages)))
		return
	}
	m.qtyData = quantities
	m.slipData = slippages
}

// SetSamples 设置分位数模式训练样本
func (m *Model) SetSamples(samples []Sample) {
	m.samples = samples
}

// Train 按当前模式训练
// 订单簿模式无需训练，直接返回 true。
func (m *Model) Train() bool {
	switch m.mode {
	case ModeLinearRegression:
		return m.trainLinear()
	case ModeQuantileRegression:
		return m.trainQuantile()
	default:
		m.logger.Info("订单簿滑点模式无需训练")
		return true
	}
}

func (m *Model) trainLinear() bool {
	if len(m.qtyData) == 0 {
		m.logger.Warn("线性滑点模型缺少训练数据")
		return false
	}
	m.linear = stat.LinearRegression(m.qtyData, m.slipData)
	m.linearTrained = true
	m.logger.Info("线性滑点模型训练完成",
		zap.Float64("slope", m.linear.Slope),
		zap.Float64("intercept", m.linear.Intercept),
		zap.Float64("r2", m.linear.RSquared))
	return true
}

// trainQuantile 对每个预设分位数做 pinball 损失的梯度下降
// 特征先按固定权重缩放；收敛判据为系数向量变化的欧氏范数。
func (m *Model) trainQuantile() bool {
	if len(m.samples) == 0 {
		m.logger.Warn("分位数滑点模型缺少训练样本")
		return false
	}

	xs := make([][5]float64, len(m.samples))
	ys := make([]float64, len(m.samples))
	for i, s := range m.samples {
		xs[i] = scaledFeatures(s.Features)
		ys[i] = s.Slippage
	}

	for _, q := range trainedQuantiles {
		m.quantCoeffs[q] = fitPinball(xs, ys, q)
	}

	m.logger.Info("分位数滑点模型训练完成",
		zap.Int("samples", len(m.samples)), zap.Int("quantiles", len(trainedQuantiles)))
	return true
}

// scaledFeatures 构造带截距项的缩放特征向量
func scaledFeatures(f Features) [5]float64 {
	return [5]float64{
		1,
		featureWeights[0] * f.Volume,
		featureWeights[1] * f.Spread,
		featureWeights[2] * f.Volatility,
		featureWeights[3] * f.TimeOfDay,
	}
}

// fitPinball 以 pinball 损失拟合单个分位数的系数
// L_q(r) = q·r (r ≥ 0)，否则 (q−1)·r，r = y − x·β。
func fitPinball(xs [][5]float64, ys []float64, q float64) []float64 {
	beta := make([]float64, 5)
	n := float64(len(xs))

	for iter := 0; iter < quantileMaxIterations; iter++ {
		var grad [5]float64
		for i, x := range xs {
			r := ys[i] - dot(beta, x)
			// r ≥ 0 时次梯度为 -q·x，否则为 (1−q)·x
			if r >= 0 {
				for j := range grad {
					grad[j] -= q * x[j]
				}
			} else {
				for j := range grad {
					grad[j] += (1 - q) * x[j]
				}
			}
		}

		var deltaNorm float64
		for j := range beta {
			step := quantileLearningRate * grad[j] / n
			beta[j] -= step
			deltaNorm += step * step
		}
		if math.Sqrt(deltaNorm) < quantileConvergence {
			break
		}
	}
	return beta
}

func dot(beta []float64, x [5]float64) float64 {
	var sum float64
	for j := range x {
		sum += beta[j] * x[j]
	}
	return sum
}

// Calculate 计算订单簿滑点（权威路径，模拟器每个 tick 调用）
// 无论当前模式为何，始终走订单簿逐档模拟。
func (m *Model) Calculate(b *book.Book, qty float64, isBuy bool) float64 {
	return orderBookSlippage(b, qty, isBuy)
}

// Predict 按当前模式预测滑点
func (m *Model) Predict(b *book.Book, qty float64, isBuy bool) float64 {
	switch m.mode {
	case ModeLinearRegression:
		return m.predictLinear(qty)
	case ModeQuantileRegression:
		return m.PredictQuantile(m.featuresFor(b, qty), 0.5)
	default:
		return orderBookSlippage(b, qty, isBuy)
	}
}

// featuresFor 由订单簿与配置波动率构造预测特征
func (m *Model) featuresFor(b *book.Book, qty float64) Features {
	var spread float64
	if b != nil {
		spread = b.Spread()
	}
	return Features{
		Volume:     qty,
		Spread:     spread,
		Volatility: m.volatility,
		TimeOfDay:  timeutil.TimeOfDayFraction(time.Now()),
	}
}

func (m *Model) predictLinear(qty float64) float64 {
	if !m.linearTrained {
		return 0
	}
	return m.linear.Predict(qty)
}

// PredictQuantile 预测指定分位数的滑点
// 使用与请求分位数最接近的已拟合分位数的系数；未训练返回 0。
func (m *Model) PredictQuantile(f Features, quantile float64) float64 {
	if len(m.quantCoeffs) == 0 {
		return 0
	}

	nearest := trainedQuantiles[0]
	for _, q := range trainedQuantiles {
		if math.Abs(q-quantile) < math.Abs(nearest-quantile) {
			nearest = q
		}
	}
	beta, ok := m.quantCoeffs[nearest]
	if !ok {
		return 0
	}
	return dot(beta, scaledFeatures(f))
}

// Profile 计算滑点曲线
// 返回 qty_i → slippage_i，qty_i = maxQty × i / steps（i = 1..steps）。
// 订单簿为空、maxQty 或 steps 非正时返回空映射。
func (m *Model) Profile(b *book.Book, maxQty float64, isBuy bool, steps int) map[float64]float64 {
	profile := make(map[float64]float64)
	if b == nil || maxQty <= 0 || steps <= 0 {
		return profile
	}
	for i := 1; i <= steps; i++ {
		qty := maxQty * float64(i) / float64(steps)
		profile[qty] = m.Predict(b, qty, isBuy)
	}
	return profile
}

// orderBookSlippage 逐档模拟市价单成交并计算相对滑点
// 参考价为被吃一侧的最优价。按自然顺序吃量求 VWAP，深度耗尽时
// 以最后一档价格延展剩余量。买单返回 (vwap − ref)/ref，
// 卖单返回 (ref − vwap)/ref；健康簿上恒非负。
func orderBookSlippage(b *book.Book, qty float64, isBuy bool) float64 {
	if b == nil || qty <= 0 {
		return 0
	}

	var ref float64
	var levels []model.PriceLevel
	if isBuy {
		ref = b.BestAsk()
		levels = b.Asks()
	} else {
		ref = b.BestBid()
		levels = b.Bids()
	}
	if ref <= 0 || len(levels) == 0 {
		return 0
	}

	remaining := qty
	var totalCost float64
	for _, lvl := range levels {
		take := math.Min(remaining, lvl.Qty)
		totalCost += lvl.Price * take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}

	// 深度不足：最后一档价格延展
	if remaining > 0 {
		totalCost += levels[len(levels)-1].Price * remaining
	}

	vwap := totalCost / qty
	if isBuy {
		return (vwap - ref) / ref
	}
	return (ref - vwap) / ref
}
