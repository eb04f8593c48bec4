// Package makertaker 实现 maker/taker 占比的逻辑回归模型。
// 对归一化特征 (数量, 价差, 波动率) 做逻辑激活，输出 (0, 1) 内的
// maker 占比。训练目标是连续占比，按原始设计沿用均方误差目标
// 而非对数损失——占比本身是连续量，这一选择是有意保留的。
package makertaker

import (
	"math"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/util/stat"
)

// 训练超参数
const (
	// learningRate 梯度下降步长
	learningRate = 0.01
	// maxIterations 最大迭代次数
	maxIterations = 1000
	// convergenceThreshold 收敛阈值: |cost_prev − cost| < 1e-4
	convergenceThreshold = 1e-4
	// quantityScale 预测时数量的归一化基准（视 100 个基础单位为大单）
	quantityScale = 100.0
)

// defaultCoefficients 未训练时的默认系数 [截距, 数量, 价差, 波动率]
var defaultCoefficients = [4]float64{0.0, -0.5, 2.0, -0.3}

// Model maker/taker 占比模型
// 训练仅在配置阶段由单线程执行，预测可并发。
type Model struct {
	// logger 日志记录器
	logger *zap.Logger
	// coefficients 回归系数 [β₀, β_q, β_s, β_v]
	coefficients [4]float64

	// 训练数据（逐列）
	quantityData   []float64
	spreadData     []float64
	volatilityData []float64
	makerRatioData []float64
}

// New 创建模型并装入默认系数
func New(logger *zap.Logger) *Model {
	return &Model{
		logger:       logger.Named("makertaker"),
		coefficients: defaultCoefficients,
	}
}

// SetTrainingData 设置训练数据
// 四列长度必须一致，否则忽略并记录错误。
func (m *Model) SetTrainingData(quantities, spreads, volatilities, makerRatios []float64) {
	n := len(quantities)
	if len(spreads) != n || len(volatilities) != n || len(makerRatios) != n {
		m.logger.Error("训练数据维度不一致")
		return
	}

	m.quantityData = quantities
	m.spreadData = spreads
	m.volatilityData = volatilities
	m.makerRatioData = makerRatios

	m.logger.Info("训练数据已设置", zap.Int("samples", n))
}

// Train 以均方误差目标做梯度下降训练
// 特征按训练集各自的最大值归一化；收敛判据为代价变化量。
// 无训练数据返回 false。
func (m *Model) Train() bool {
	n := len(m.quantityData)
	if n == 0 {
		m.logger.Warn("缺少训练数据，无法训练")
		return false
	}

	maxQty := maxOf(m.quantityData)
	maxSpread := maxOf(m.spreadData)
	maxVol := maxOf(m.volatilityData)

	normQty := normalize(m.quantityData, maxQty)
	normSpread := normalize(m.spreadData, maxSpread)
	normVol := normalize(m.volatilityData, maxVol)

	m.coefficients = [4]float64{}

	prevCost := m.cost(normQty, normSpread, normVol)
	for iteration := 0; iteration < maxIterations; iteration++ {
		var gradients [4]float64
		for i := 0; i < n; i++ {
			prediction := m.predict(normQty[i], normSpread[i], normVol[i])
			err := prediction - m.makerRatioData[i]

			gradients[0] += err
			gradients[1] += err * normQty[i]
			gradients[2] += err * normSpread[i]
			gradients[3] += err * normVol[i]
		}

		for j := range gradients {
			m.coefficients[j] -= learningRate * gradients[j] / float64(n)
		}

		cost := m.cost(normQty, normSpread, normVol)
		if math.Abs(prevCost-cost) < convergenceThreshold {
			m.logger.Info("模型收敛", zap.Int("iterations", iteration+1))
			break
		}
		prevCost = cost
	}

	m.logger.Info("maker/taker 模型训练完成",
		zap.Float64("b0", m.coefficients[0]),
		zap.Float64("b_qty", m.coefficients[1]),
		zap.Float64("b_spread", m.coefficients[2]),
		zap.Float64("b_vol", m.coefficients[3]))
	return true
}

// cost 当前系数在归一化训练集上的均方误差
func (m *Model) cost(normQty, normSpread, normVol []float64) float64 {
	n := len(normQty)
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		err := m.predict(normQty[i], normSpread[i], normVol[i]) - m.makerRatioData[i]
		sum += err * err
	}
	return sum / float64(n)
}

// PredictMakerRatio 预测 maker 占比
// 特征: q̂ = qty/100，ŝ = spread/mid（mid 为零时取 0），v̂ = vol。
// 订单簿为空或数量非正时返回 0（全 taker）。
func (m *Model) PredictMakerRatio(b *book.Book, quantity, volatility float64) float64 {
	if b == nil || quantity <= 0 {
		return 0
	}

	mid := b.Mid()
	var normSpread float64
	if mid > 0 {
		normSpread = b.Spread() / mid
	}

	return m.predict(quantity/quantityScale, normSpread, volatility)
}

// ProbabilityCurve 计算数量-maker 概率曲线
// 返回 steps+1 个 (qty, probability) 点；输入非法时返回空切片。
func (m *Model) ProbabilityCurve(b *book.Book, maxQuantity, volatility float64, steps int) [][2]float64 {
	if b == nil || maxQuantity <= 0 || steps <= 0 {
		return nil
	}

	curve := make([][2]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		qty := maxQuantity * float64(i) / float64(steps)
		curve = append(curve, [2]float64{qty, m.PredictMakerRatio(b, qty, volatility)})
	}
	return curve
}

// Accuracy 在训练集上计算拟合度: 1 − SSE / SST
// 无训练数据或目标方差为零时返回 0。
func (m *Model) Accuracy() float64 {
	if len(m.quantityData) == 0 || len(m.makerRatioData) == 0 {
		return 0
	}

	meanRatio := stat.Mean(m.makerRatioData)
	var sse, sst float64
	for i := range m.quantityData {
		prediction := m.predict(m.quantityData[i]/quantityScale, m.spreadData[i], m.volatilityData[i])
		err := prediction - m.makerRatioData[i]
		sse += err * err
		dev := m.makerRatioData[i] - meanRatio
		sst += dev * dev
	}

	if sst == 0 {
		return 0
	}
	return 1.0 - sse/sst
}

// Coefficients 当前系数
func (m *Model) Coefficients() [4]float64 {
	return m.coefficients
}

// predict 线性组合后过逻辑函数
func (m *Model) predict(quantity, spread, volatility float64) float64 {
	z := m.coefficients[0] +
		m.coefficients[1]*quantity +
		m.coefficients[2]*spread +
		m.coefficients[3]*volatility
	return logistic(z)
}

// logistic 逻辑函数: 1 / (1 + e^(−z))
func logistic(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func maxOf(values []float64) float64 {
	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// normalize 按最大值归一化；最大值为零时返回原值拷贝
func normalize(values []float64, max float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if max > 0 {
			out[i] = v / max
		} else {
			out[i] = v
		}
	}
	return out
}
