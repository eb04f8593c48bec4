// Package sim 实现交易成本模拟器。
// 每个 tick 将四个子模型（滑点、冲击、手续费、maker/taker）组合成
// 一条 SimulationResult；支持无行情时的连续模拟工作协程。
package sim

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trade-cost-simulator/internal/config"
	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/models/fee"
	"trade-cost-simulator/internal/models/impact"
	"trade-cost-simulator/internal/models/makertaker"
	"trade-cost-simulator/internal/models/slippage"
	"trade-cost-simulator/internal/util/timeutil"
)

// Callback 模拟结果订阅回调
// 在回调锁内调用，回调内严禁再调用模拟器本身。
type Callback func(model.SimulationResult)

// 连续模拟状态机: Idle → Running → Stopping → Idle
const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
)

// closeGrace 关闭时等待工作协程退出的宽限时间
const closeGrace = 5 * time.Second

// Simulator 交易成本模拟器
// 持有配置输入与各子模型各一个实例。simulate 是全函数：
// 任何失败路径都返回零值填充的结果，错误绝不跨回调边界传播。
type Simulator struct {
	// logger 日志记录器
	logger *zap.Logger
	// updateIntervalMs 连续模拟间隔（毫秒）
	updateIntervalMs int

	// inputsMu 输入锁；UI 回调写、模拟循环读
	inputsMu sync.Mutex
	// inputs 当前模拟输入
	inputs model.SimulationInputs

	// impactModel 市场冲击模型
	impactModel *impact.AlmgrenChriss
	// slippageModel 滑点模型
	slippageModel *slippage.Model
	// feeModel 手续费模型
	feeModel *fee.Model
	// makerTakerModel maker/taker 占比模型
	makerTakerModel *makertaker.Model

	// resultMu 最新结果锁
	resultMu sync.Mutex
	// latest 最近一次模拟结果
	latest model.SimulationResult

	// callbackMu 回调槽锁
	callbackMu sync.Mutex
	// callback 已注册的订阅回调（至多一个）
	callback Callback

	// state 连续模拟状态
	state int32
	// workerMu 保护 stopCh/workerDone
	workerMu sync.Mutex
	// stopCh 通知工作协程退出
	stopCh chan struct{}
	// workerDone 工作协程退出后关闭
	workerDone chan struct{}
}

// New 创建模拟器
// 输入参数取配置的默认值；数量默认以 USD 名义价值计。
func New(cfg *config.Config, logger *zap.Logger) *Simulator {
	s := &Simulator{
		logger:           logger.Named("simulator"),
		updateIntervalMs: cfg.Simulator.UpdateIntervalMs,
		inputs: model.SimulationInputs{
			Exchange:   cfg.Simulator.DefaultExchange,
			Asset:      cfg.Simulator.DefaultAsset,
			OrderType:  model.OrderType(strings.ToUpper(cfg.Simulator.DefaultOrderType)),
			Size:       cfg.Simulator.DefaultQuantityUSD,
			SizeUnit:   model.SizeUnitUSD,
			Volatility: cfg.Simulator.DefaultVolatility,
			FeeTier:    cfg.Simulator.DefaultFeeTier,
		},
		impactModel:     impact.New(logger),
		slippageModel:   slippage.New(logger),
		feeModel:        fee.New(cfg, logger),
		makerTakerModel: makertaker.New(logger),
	}

	s.impactModel.SetVolatility(cfg.Simulator.DefaultVolatility)
	s.slippageModel.SetVolatility(cfg.Simulator.DefaultVolatility)

	s.logger.Info("模拟器初始化完成",
		zap.String("exchange", s.inputs.Exchange),
		zap.String("asset", s.inputs.Asset))
	return s
}

// SetExchange 设置交易所
func (s *Simulator) SetExchange(exchange string) {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.Exchange = exchange
}

// SetAsset 设置交易对
func (s *Simulator) SetAsset(asset string) {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.Asset = asset
}

// SetOrderType 设置订单类型
// 非法类型记录警告并保留旧值。
func (s *Simulator) SetOrderType(orderType model.OrderType) {
	if orderType != model.OrderTypeMarket && orderType != model.OrderTypeLimit {
		s.logger.Warn("无效订单类型，保留旧值", zap.String("order_type", string(orderType)))
		return
	}
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.OrderType = orderType
}

// SetSize 设置带符号的订单数量
// 符号即方向（≥ 0 买入）；零记录警告并保留旧值。
func (s *Simulator) SetSize(size float64) {
	if size == 0 {
		s.logger.Warn("订单数量不能为零，保留旧值")
		return
	}
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.Size = size
}

// SetSizeUnit 设置数量单位
func (s *Simulator) SetSizeUnit(unit model.SizeUnit) {
	if unit != model.SizeUnitUSD && unit != model.SizeUnitBase {
		s.logger.Warn("无效数量单位，保留旧值", zap.String("unit", string(unit)))
		return
	}
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.SizeUnit = unit
}

// SetVolatility 设置波动率
// 非正值记录警告并保留旧值；合法值同步传给冲击与滑点模型。
func (s *Simulator) SetVolatility(volatility float64) {
	if volatility <= 0 {
		s.logger.Warn("无效波动率，保留旧值", zap.Float64("volatility", volatility))
		return
	}
	s.inputsMu.Lock()
	s.inputs.Volatility = volatility
	s.inputsMu.Unlock()

	s.impactModel.SetVolatility(volatility)
	s.slippageModel.SetVolatility(volatility)
}

// SetFeeTier 设置费率等级
func (s *Simulator) SetFeeTier(feeTier string) {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	s.inputs.FeeTier = feeTier
}

// Inputs 获取当前输入快照
func (s *Simulator) Inputs() model.SimulationInputs {
	s.inputsMu.Lock()
	defer s.inputsMu.Unlock()
	return s.inputs
}

// ImpactModel 冲击模型（配置阶段调参用）
func (s *Simulator) ImpactModel() *impact.AlmgrenChriss { return s.impactModel }

// SlippageModel 滑点模型（配置阶段调参用）
func (s *Simulator) SlippageModel() *slippage.Model { return s.slippageModel }

// MakerTakerModel maker/taker 模型（配置阶段调参用）
func (s *Simulator) MakerTakerModel() *makertaker.Model { return s.makerTakerModel }

// Simulate 对当前订单簿执行一次成本模拟
// 步骤：中间价 → 方向与数量折算 → maker 占比 → 滑点 → 冲击 →
// 手续费 → 净成本。簿为空或中间价非正时返回零值结果
// （internal_latency_us 仍然记录），且不更新最新结果、不触发回调。
func (s *Simulator) Simulate(b *book.Book) model.SimulationResult {
	startNs := timeutil.NowNano()

	var result model.SimulationResult
	result.Timestamp = time.Now()

	if b == nil {
		s.logger.Warn("订单簿为空，跳过模拟")
		result.InternalLatencyUs = latencyUsSince(startNs)
		return result
	}

	price := b.Mid()
	if price <= 0 {
		result.InternalLatencyUs = latencyUsSince(startNs)
		return result
	}

	in := s.Inputs()

	isBuy := in.IsBuy()
	absQty := in.AbsSize()

	// USD 名义价值按中间价折算为基础资产数量
	assetQty := absQty
	if in.SizeUnit == model.SizeUnitUSD {
		assetQty = absQty / price
	}

	makerRatio := s.makerTakerModel.PredictMakerRatio(b, assetQty, in.Volatility)
	slippagePct := s.slippageModel.Calculate(b, assetQty, isBuy)
	marketImpactPct := s.impactModel.Calculate(b, assetQty, isBuy) / price
	fees := s.feeModel.Calculate(in.Exchange, in.FeeTier, assetQty, price, makerRatio)

	netCost := price*assetQty*(slippagePct+marketImpactPct) + fees

	result.ExpectedSlippagePct = slippagePct * 100.0
	result.ExpectedMarketImpactPct = marketImpactPct * 100.0
	result.ExpectedFees = fees
	result.MakerRatio = makerRatio
	result.NetCost = netCost
	result.Timestamp = b.LastUpdateTime()
	result.InternalLatencyUs = latencyUsSince(startNs)

	s.resultMu.Lock()
	s.latest = result
	s.resultMu.Unlock()

	s.callbackMu.Lock()
	if s.callback != nil {
		s.callback(result)
	}
	s.callbackMu.Unlock()

	return result
}

// latencyUsSince 折算内部延迟（微秒）
// 不足 1 微秒按 1 计，保证延迟始终可观测。
func latencyUsSince(startNs int64) int64 {
	us := (timeutil.NowNano() - startNs) / 1_000
	if us <= 0 {
		return 1
	}
	return us
}

// RegisterCallback 注册结果订阅回调（至多一个，后注册者覆盖）
func (s *Simulator) RegisterCallback(cb Callback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callback = cb
}

// UnregisterCallback 注销结果订阅回调
func (s *Simulator) UnregisterCallback() {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callback = nil
}

// LatestResult 获取最近一次模拟结果
func (s *Simulator) LatestResult() model.SimulationResult {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	return s.latest
}

// StartContinuous 启动连续模拟工作协程
// 已在运行时为空操作；上一个工作协程仍在退出（Stopping）时先等待其结束。
// 退出协作式：工作协程在每轮循环顶部观察停止信号。
func (s *Simulator) StartContinuous(b *book.Book) {
	if b == nil {
		s.logger.Error("订单簿为空，无法启动连续模拟")
		return
	}
	if atomic.LoadInt32(&s.state) == stateStopping {
		s.workerMu.Lock()
		prevDone := s.workerDone
		s.workerMu.Unlock()
		if prevDone != nil {
			<-prevDone
		}
	}
	if !atomic.CompareAndSwapInt32(&s.state, stateIdle, stateRunning) {
		s.logger.Info("连续模拟已在运行")
		return
	}

	s.workerMu.Lock()
	s.stopCh = make(chan struct{})
	s.workerDone = make(chan struct{})
	stopCh, done := s.stopCh, s.workerDone
	s.workerMu.Unlock()

	s.logger.Info("连续模拟启动", zap.Int("interval_ms", s.updateIntervalMs))
	go s.runLoop(b, stopCh, done)
}

func (s *Simulator) runLoop(b *book.Book, stopCh <-chan struct{}, done chan<- struct{}) {
	defer func() {
		atomic.StoreInt32(&s.state, stateIdle)
		close(done)
		s.logger.Info("连续模拟停止")
	}()

	interval := time.Duration(s.updateIntervalMs) * time.Millisecond
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.Simulate(b)

		select {
		case <-stopCh:
			return
		case <-time.After(interval):
		}
	}
}

// StopContinuous 请求停止连续模拟
// Running → Stopping；工作协程观察到信号后回到 Idle。
func (s *Simulator) StopContinuous() {
	if !atomic.CompareAndSwapInt32(&s.state, stateRunning, stateStopping) {
		return
	}

	s.workerMu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.workerMu.Unlock()
}

// IsRunning 连续模拟是否在运行
func (s *Simulator) IsRunning() bool {
	return atomic.LoadInt32(&s.state) == stateRunning
}

// Close 停止连续模拟并等待工作协程退出
// 超过宽限时间未退出则放弃等待并记录警告。
func (s *Simulator) Close() {
	s.StopContinuous()

	s.workerMu.Lock()
	done := s.workerDone
	s.workerMu.Unlock()

	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(closeGrace):
		s.logger.Warn("等待连续模拟退出超时")
	}
}
