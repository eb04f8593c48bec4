// Package regression 实现可持久化的回归策略集合。
// 线性 / 多项式 / 指数 / 逻辑 / 分位数五种策略收在一个带标签的
// 模型里，共享 Predict(x) 入口与系数载荷，避免深层虚函数层次。
package regression

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/util/stat"
)

// Kind 回归策略标签
// 数值与持久化格式的 model_type 字段一一对应，不可重排。
type Kind int

const (
	// KindLinear 线性: y = c₀ + c₁x
	KindLinear Kind = iota
	// KindPolynomial 多项式: y = Σ cᵢxⁱ
	KindPolynomial
	// KindExponential 指数: y = c₀·e^(c₁x)
	KindExponential
	// KindLogistic 三参数逻辑: y = a / (1 + e^(−b(x−c)))
	KindLogistic
	// KindQuantile 分箱分位数的线性拟合
	KindQuantile
)

// 逻辑策略的梯度下降超参数
const (
	logisticLearningRate = 0.01
	logisticMaxIter      = 1000
	logisticConvergence  = 1e-4
)

// persistedModel 持久化 JSON 格式
// 与历史模型文件保持二进制兼容，字段名不可改。
type persistedModel struct {
	ModelType        int       `json:"model_type"`
	PolynomialDegree int       `json:"polynomial_degree"`
	Quantile         float64   `json:"quantile"`
	Coefficients     []float64 `json:"coefficients"`
}

// Model 带标签的回归模型
type Model struct {
	// logger 日志记录器
	logger *zap.Logger
	// kind 当前策略
	kind Kind
	// degree 多项式次数（≥ 1）
	degree int
	// quantile 分位数（[0, 1]）
	quantile float64
	// coefficients 策略系数载荷
	coefficients []float64

	// xData/yData 训练数据
	xData []float64
	yData []float64
}

// New 创建回归模型
// 默认多项式次数 2、分位数 0.5。
func New(kind Kind, logger *zap.Logger) *Model {
	return &Model{
		logger:   logger.Named("regression"),
		kind:     kind,
		degree:   2,
		quantile: 0.5,
	}
}

// SetKind 切换策略
func (m *Model) SetKind(kind Kind) {
	m.kind = kind
}

// Kind 当前策略
func (m *Model) Kind() Kind {
	return m.kind
}

// SetPolynomialDegree 设置多项式次数
// 小于 1 记录警告并保留旧值。
func (m *Model) SetPolynomialDegree(degree int) {
	if degree < 1 {
		m.logger.Warn("无效多项式次数，保留旧值", zap.Int("degree", degree))
		return
	}
	m.degree = degree
}

// SetQuantile 设置分位数
// 越界记录警告并保留旧值。
func (m *Model) SetQuantile(quantile float64) {
	if quantile < 0 || quantile > 1 {
		m.logger.Warn("无效分位数，保留旧值", zap.Float64("quantile", quantile))
		return
	}
	m.quantile = quantile
}

// AddPoint 追加一个训练点
func (m *Model) AddPoint(x, y float64) {
	m.xData = append(m.xData, x)
	m.yData = append(m.yData, y)
}

// SetTrainingData 设置训练数据
// 两切片长度必须一致，否则忽略并记录错误。
func (m *Model) SetTrainingData(x, y []float64) {
	if len(x) != len(y) {
		m.logger.Error("训练数据长度不一致", zap.Int("x", len(x)), zap.Int("y", len(y)))
		return
	}
	m.xData = x
	m.yData = y
}

// ClearTrainingData 清空训练数据
func (m *Model) ClearTrainingData() {
	m.xData = nil
	m.yData = nil
}

// Train 按当前策略拟合系数
// 无训练数据返回 false。
func (m *Model) Train() bool {
	if len(m.xData) == 0 || len(m.yData) == 0 {
		m.logger.Warn("缺少训练数据，无法训练")
		return false
	}

	var ok bool
	switch m.kind {
	case KindLinear:
		ok = m.trainLinear()
	case KindPolynomial:
		ok = m.trainPolynomial()
	case KindExponential:
		ok = m.trainExponential()
	case KindLogistic:
		ok = m.trainLogistic()
	case KindQuantile:
		ok = m.trainQuantile()
	}

	if ok {
		m.logger.Info("回归模型训练完成",
			zap.Int("kind", int(m.kind)), zap.Int("points", len(m.xData)))
	} else {
		m.logger.Error("回归模型训练失败", zap.Int("kind", int(m.kind)))
	}
	return ok
}

// Predict 按当前策略预测
// 系数不足时返回 0。
func (m *Model) Predict(x float64) float64 {
	switch m.kind {
	case KindLinear:
		return m.predictLinear(x)
	case KindPolynomial:
		return m.predictPolynomial(x)
	case KindExponential:
		return m.predictExponential(x)
	case KindLogistic:
		return m.predictLogistic(x)
	case KindQuantile:
		// 分位数策略的载荷即线性系数
		return m.predictLinear(x)
	default:
		return 0
	}
}

// PredictBatch 批量预测
func (m *Model) PredictBatch(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = m.Predict(x)
	}
	return out
}

// RSquared 在训练集上计算决定系数
func (m *Model) RSquared() float64 {
	if len(m.xData) == 0 || len(m.coefficients) == 0 {
		return 0
	}

	meanY := stat.Mean(m.yData)
	var tss, rss float64
	for i, x := range m.xData {
		prediction := m.Predict(x)
		rss += (m.yData[i] - prediction) * (m.yData[i] - prediction)
		tss += (m.yData[i] - meanY) * (m.yData[i] - meanY)
	}
	if tss == 0 {
		return 0
	}
	return 1.0 - rss/tss
}

// MSE 在训练集上计算均方误差
func (m *Model) MSE() float64 {
	if len(m.xData) == 0 || len(m.coefficients) == 0 {
		return 0
	}
	var sum float64
	for i, x := range m.xData {
		err := m.yData[i] - m.Predict(x)
		sum += err * err
	}
	return sum / float64(len(m.xData))
}

// MAE 在训练集上计算平均绝对误差
func (m *Model) MAE() float64 {
	if len(m.xData) == 0 || len(m.coefficients) == 0 {
		return 0
	}
	var sum float64
	for i, x := range m.xData {
		sum += math.Abs(m.yData[i] - m.Predict(x))
	}
	return sum / float64(len(m.xData))
}

// Coefficients 当前系数拷贝
func (m *Model) Coefficients() []float64 {
	out := make([]float64, len(m.coefficients))
	copy(out, m.coefficients)
	return out
}

// Save 将模型持久化为 JSON 文件
// 读回后系数按双精度逐位一致。
func (m *Model) Save(filepath string) error {
	payload := persistedModel{
		ModelType:        int(m.kind),
		PolynomialDegree: m.degree,
		Quantile:         m.quantile,
		Coefficients:     m.coefficients,
	}

	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化模型失败: %w", err)
	}
	if err := os.WriteFile(filepath, data, 0o644); err != nil {
		return fmt.Errorf("写入模型文件失败: %w", err)
	}
	return nil
}

// Load 从 JSON 文件恢复模型
func (m *Model) Load(filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("读取模型文件失败: %w", err)
	}

	var payload persistedModel
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("解析模型文件失败: %w", err)
	}

	m.kind = Kind(payload.ModelType)
	m.degree = payload.PolynomialDegree
	m.quantile = payload.Quantile
	m.coefficients = payload.Coefficients
	return nil
}

func (m *Model) trainLinear() bool {
	result := stat.LinearRegression(m.xData, m.yData)
	m.coefficients = []float64{result.Intercept, result.Slope}
	return true
}

// trainPolynomial 范德蒙德设计矩阵 + 正规方程，高斯消元求解
func (m *Model) trainPolynomial() bool {
	n := len(m.xData)
	degree := m.degree

	// X^T X 与 X^T y
	size := degree + 1
	xtx := make([][]float64, size)
	xty := make([]float64, size)
	for i := range xtx {
		xtx[i] = make([]float64, size)
	}
	for k := 0; k < n; k++ {
		powers := make([]float64, size)
		p := 1.0
		for j := 0; j < size; j++ {
			powers[j] = p
			p *= m.xData[k]
		}
		for i := 0; i < size; i++ {
			for j := 0; j < size; j++ {
				xtx[i][j] += powers[i] * powers[j]
			}
			xty[i] += powers[i] * m.yData[k]
		}
	}

	coeffs, ok := solveGaussian(xtx, xty)
	if !ok {
		return false
	}
	m.coefficients = coeffs
	return true
}

// solveGaussian 列主元高斯消元解线性方程组 A·x = b
// 主元为零（奇异矩阵）时返回 false。
func solveGaussian(a [][]float64, b []float64) ([]float64, bool) {
	size := len(b)
	aug := make([][]float64, size)
	for i := range aug {
		aug[i] = make([]float64, size+1)
		copy(aug[i], a[i])
		aug[i][size] = b[i]
	}

	for i := 0; i < size; i++ {
		maxRow := i
		maxVal := math.Abs(aug[i][i])
		for k := i + 1; k < size; k++ {
			if math.Abs(aug[k][i]) > maxVal {
				maxVal = math.Abs(aug[k][i])
				maxRow = k
			}
		}
		if maxVal == 0 {
			return nil, false
		}
		aug[i], aug[maxRow] = aug[maxRow], aug[i]

		for k := i + 1; k < size; k++ {
			factor := aug[k][i] / aug[i][i]
			for j := i; j <= size; j++ {
				aug[k][j] -= factor * aug[i][j]
			}
		}
	}

	x := make([]float64, size)
	for i := size - 1; i >= 0; i-- {
		sum := 0.0
		for j := i + 1; j < size; j++ {
			sum += aug[i][j] * x[j]
		}
		x[i] = (aug[i][size] - sum) / aug[i][i]
	}
	return x, true
}

// trainExponential 对数变换后线性拟合: ln(y) = ln(c₀) + c₁x
// 要求所有 y 严格为正。
func (m *Model) trainExponential() bool {
	for _, y := range m.yData {
		if y <= 0 {
			m.logger.Error("指数回归要求 y 全部为正")
			return false
		}
	}

	lnY := make([]float64, len(m.yData))
	for i, y := range m.yData {
		lnY[i] = math.Log(y)
	}

	result := stat.LinearRegression(m.xData, lnY)
	m.coefficients = []float64{math.Exp(result.Intercept), result.Slope}
	return true
}

// trainLogistic 三参数逻辑曲线的梯度下降拟合
// 初值: a = max(y)−min(y)，b = 1，c = mean(x)。
func (m *Model) trainLogistic() bool {
	maxY, minY := m.yData[0], m.yData[0]
	for _, y := range m.yData {
		maxY = math.Max(maxY, y)
		minY = math.Min(minY, y)
	}
	m.coefficients = []float64{maxY - minY, 1.0, stat.Mean(m.xData)}

	n := float64(len(m.xData))
	prevCost := m.logisticCost()
	for iteration := 0; iteration < logisticMaxIter; iteration++ {
		var gradA, gradB, gradC float64
		a, bb, c := m.coefficients[0], m.coefficients[1], m.coefficients[2]

		for i, x := range m.xData {
			expTerm := math.Exp(-bb * (x - c))
			denom := 1.0 + expTerm
			err := a/denom - m.yData[i]

			gradA += err / denom
			gradB += err * a * expTerm * (x - c) / (denom * denom)
			gradC += -err * a * expTerm * bb / (denom * denom)
		}

		m.coefficients[0] -= logisticLearningRate * gradA / n
		m.coefficients[1] -= logisticLearningRate * gradB / n
		m.coefficients[2] -= logisticLearningRate * gradC / n

		cost := m.logisticCost()
		if math.Abs(prevCost-cost) < logisticConvergence {
			break
		}
		prevCost = cost
	}
	return true
}

func (m *Model) logisticCost() float64 {
	var sum float64
	for i, x := range m.xData {
		err := m.yData[i] - m.predictLogistic(x)
		sum += err * err
	}
	return sum / float64(len(m.xData))
}

// trainQuantile 分箱分位数回归
// 数据按 x 排序后分箱，每箱取 x 均值与 y 的目标分位数，
// 再对箱代表点做线性拟合。
func (m *Model) trainQuantile() bool {
	type pair struct{ x, y float64 }
	data := make([]pair, len(m.xData))
	for i := range m.xData {
		data[i] = pair{m.xData[i], m.yData[i]}
	}
	sort.Slice(data, func(i, j int) bool { return data[i].x < data[j].x })

	numBins := len(data) / 5
	if numBins > 20 {
		numBins = 20
	}
	if numBins < 2 {
		numBins = 2
	}

	binX := make([]float64, 0, numBins)
	binY := make([]float64, 0, numBins)
	for i := 0; i < numBins; i++ {
		start := i * len(data) / numBins
		end := (i + 1) * len(data) / numBins
		if i == numBins-1 {
			end = len(data)
		}
		if end <= start {
			continue
		}

		var sumX float64
		ys := make([]float64, 0, end-start)
		for j := start; j < end; j++ {
			sumX += data[j].x
			ys = append(ys, data[j].y)
		}
		binX = append(binX, sumX/float64(end-start))
		binY = append(binY, stat.Percentile(ys, m.quantile))
	}

	result := stat.LinearRegression(binX, binY)
	m.coefficients = []float64{result.Intercept, result.Slope}
	return true
}

func (m *Model) predictLinear(x float64) float64 {
	if len(m.coefficients) < 2 {
		return 0
	}
	return m.coefficients[0] + m.coefficients[1]*x
}

func (m *Model) predictPolynomial(x float64) float64 {
	if len(m.coefficients) == 0 {
		return 0
	}
	var result float64
	p := 1.0
	for _, c := range m.coefficients {
		result += c * p
		p *= x
	}
	return result
}

func (m *Model) predictExponential(x float64) float64 {
	if len(m.coefficients) < 2 {
		return 0
	}
	return m.coefficients[0] * math.Exp(m.coefficients[1]*x)
}

func (m *Model) predictLogistic(x float64) float64 {
	if len(m.coefficients) < 3 {
		return 0
	}
	a, b, c := m.coefficients[0], m.coefficients[1], m.coefficients[2]
	return a / (1.0 + math.Exp(-b*(x-c)))
}
