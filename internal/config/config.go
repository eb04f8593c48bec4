// Package config 负责加载和验证配置文件。
// 使用 yaml.v3 解析，YAML 与 JSON 配置均可接受（JSON 是 YAML 的子集）。
// 提供 WebSocket 连接、交易所费率表、模拟器默认值、日志与性能等配置项。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// WebSocket 行情连接配置
	WebSocket WebSocketConfig `yaml:"websocket"`
	// Exchanges 交易所列表（费率表、现货资产）
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	// Simulator 模拟器默认参数
	Simulator SimulatorConfig `yaml:"simulator"`
	// Bridge 解码桥配置
	Bridge BridgeConfig `yaml:"bridge"`
	// Logging 日志配置
	Logging LoggingConfig `yaml:"logging"`
	// Performance 性能配置
	Performance PerformanceConfig `yaml:"performance"`
	// Output 结果输出配置
	Output OutputConfig `yaml:"output"`
}

// WebSocketConfig 行情 WebSocket 连接配置
type WebSocketConfig struct {
	// Endpoint 连接地址（wss://...）
	Endpoint string `yaml:"endpoint"`
	// SubscribePayload 建连后发送的订阅消息原文（可选）
	// 为空表示该行情流无需订阅请求，连上即推送。
	SubscribePayload string `yaml:"subscribe_payload"`
	// ReconnectIntervalMs 重连基础间隔（毫秒），指数退避的底数
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
}

// ExchangeConfig 单个交易所配置
// 加载后只读。
type ExchangeConfig struct {
	// Name 交易所名称
	Name string `yaml:"name"`
	// FeeTiers 有序费率等级表
	FeeTiers []FeeTierConfig `yaml:"fee_tiers"`
	// SpotAssets 可交易现货资产列表
	SpotAssets []string `yaml:"spot_assets"`
}

// FeeTierConfig 费率等级
type FeeTierConfig struct {
	// Tier 等级名称，如 VIP0
	Tier string `yaml:"tier"`
	// Maker maker 费率（名义价值的比例）
	Maker float64 `yaml:"maker"`
	// Taker taker 费率（名义价值的比例）
	Taker float64 `yaml:"taker"`
}

// SimulatorConfig 模拟器默认参数
type SimulatorConfig struct {
	// DefaultExchange 默认交易所
	DefaultExchange string `yaml:"default_exchange"`
	// DefaultAsset 默认现货交易对
	DefaultAsset string `yaml:"default_asset"`
	// DefaultOrderType 默认订单类型: MARKET 或 LIMIT
	DefaultOrderType string `yaml:"default_order_type"`
	// DefaultQuantityUSD 默认订单数量（USD 名义价值，带符号）
	DefaultQuantityUSD float64 `yaml:"default_quantity_usd"`
	// DefaultVolatility 默认年化波动率
	DefaultVolatility float64 `yaml:"default_volatility"`
	// DefaultFeeTier 默认费率等级
	DefaultFeeTier string `yaml:"default_fee_tier"`
	// UpdateIntervalMs 连续模拟间隔（毫秒）
	UpdateIntervalMs int `yaml:"update_interval_ms"`
}

// BridgeConfig 解码桥配置
type BridgeConfig struct {
	// PollIntervalMs 队列轮询间隔（毫秒）
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// ConsoleOutput 是否输出到控制台
	ConsoleOutput bool `yaml:"console_output"`
	// FileOutput 是否输出到文件
	FileOutput bool `yaml:"file_output"`
	// FilePath 日志文件路径
	FilePath string `yaml:"file_path"`
	// MaxFileSizeMb 单个日志文件大小上限（MB），超过后轮转
	MaxFileSizeMb int `yaml:"max_file_size_mb"`
	// MaxFiles 保留的轮转文件数
	MaxFiles int `yaml:"max_files"`
}

// PerformanceConfig 性能配置
type PerformanceConfig struct {
	// MeasureLatency 是否统计内部延迟分位数
	MeasureLatency bool `yaml:"measure_latency"`
	// BufferSize 摄入队列容量
	BufferSize int `yaml:"buffer_size"`
	// ProcessingThreads 处理线程数（预留，当前解码为单消费者）
	ProcessingThreads int `yaml:"processing_threads"`
}

// OutputConfig 结果输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// ResultsEnabled 是否输出模拟结果 JSONL
	ResultsEnabled bool `yaml:"results_enabled"`
	// MetricsEnabled 是否输出指标 JSONL
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
	// Kafka 可选的结果发布配置
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig Kafka 结果发布配置
// Brokers 为空时禁用。
type KafkaConfig struct {
	// Brokers broker 地址列表
	Brokers []string `yaml:"brokers"`
	// Topic 发布主题
	Topic string `yaml:"topic"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径（.yaml 或 .json 均可）
// 返回: 解析后的配置对象，失败返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.WebSocket.ReconnectIntervalMs == 0 {
		c.WebSocket.ReconnectIntervalMs = 1000 // 1 秒
	}
	if c.WebSocket.PingIntervalMs == 0 {
		c.WebSocket.PingIntervalMs = 15000 // 15 秒
	}

	if c.Simulator.DefaultOrderType == "" {
		c.Simulator.DefaultOrderType = "MARKET"
	}
	if c.Simulator.DefaultQuantityUSD == 0 {
		c.Simulator.DefaultQuantityUSD = 100
	}
	if c.Simulator.DefaultVolatility == 0 {
		c.Simulator.DefaultVolatility = 0.2
	}
	if c.Simulator.UpdateIntervalMs == 0 {
		c.Simulator.UpdateIntervalMs = 1000 // 1 秒
	}

	if c.Bridge.PollIntervalMs == 0 {
		c.Bridge.PollIntervalMs = 100 // 100 毫秒
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxFileSizeMb == 0 {
		c.Logging.MaxFileSizeMb = 100
	}
	if c.Logging.MaxFiles == 0 {
		c.Logging.MaxFiles = 5
	}

	if c.Performance.BufferSize == 0 {
		c.Performance.BufferSize = 100000
	}
	if c.Performance.ProcessingThreads == 0 {
		c.Performance.ProcessingThreads = 1
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围，返回聚合后的描述性错误。
func (c *Config) Validate() error {
	var errs []string

	if c.WebSocket.Endpoint == "" {
		errs = append(errs, "websocket.endpoint: 行情地址不能为空")
	}
	if c.WebSocket.ReconnectIntervalMs < 0 {
		errs = append(errs, "websocket.reconnect_interval_ms: 重连间隔不能为负数")
	}

	if len(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: 至少需要配置一个交易所")
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Sprintf("exchanges[%d].name: 交易所名称不能为空", i))
		}
		for j, tier := range ex.FeeTiers {
			if tier.Tier == "" {
				errs = append(errs, fmt.Sprintf("exchanges[%d].fee_tiers[%d].tier: 等级名称不能为空", i, j))
			}
			if err := validateFeeRate(tier.Maker, fmt.Sprintf("exchanges[%d].fee_tiers[%d].maker", i, j)); err != nil {
				errs = append(errs, err.Error())
			}
			if err := validateFeeRate(tier.Taker, fmt.Sprintf("exchanges[%d].fee_tiers[%d].taker", i, j)); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if c.Simulator.DefaultVolatility <= 0 {
		errs = append(errs, "simulator.default_volatility: 波动率必须为正数")
	}
	if ot := strings.ToUpper(c.Simulator.DefaultOrderType); ot != "MARKET" && ot != "LIMIT" {
		errs = append(errs, fmt.Sprintf("simulator.default_order_type: 无效订单类型 '%s'，有效值: MARKET, LIMIT", c.Simulator.DefaultOrderType))
	}
	if c.Simulator.UpdateIntervalMs <= 0 {
		errs = append(errs, "simulator.update_interval_ms: 模拟间隔必须为正数")
	}

	if c.Bridge.PollIntervalMs <= 0 {
		errs = append(errs, "bridge.poll_interval_ms: 轮询间隔必须为正数")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.Logging.Level))
	}
	if c.Logging.FileOutput && c.Logging.FilePath == "" {
		errs = append(errs, "logging.file_path: 启用文件输出时路径不能为空")
	}

	if c.Performance.BufferSize <= 0 {
		errs = append(errs, "performance.buffer_size: 队列容量必须为正数")
	}

	if len(c.Output.Kafka.Brokers) > 0 && c.Output.Kafka.Topic == "" {
		errs = append(errs, "output.kafka.topic: 配置 broker 时主题不能为空")
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateFeeRate 验证费率范围（0-1）
func validateFeeRate(rate float64, field string) error {
	if rate < 0 || rate > 1 {
		return fmt.Errorf("%s: 费率必须在 0-1 之间，当前值: %f", field, rate)
	}
	return nil
}

// Exchange 按名称查找交易所配置
// 返回值为只读视图；未找到返回 (nil, false)。
func (c *Config) Exchange(name string) (*ExchangeConfig, bool) {
	for i := range c.Exchanges {
		if c.Exchanges[i].Name == name {
			return &c.Exchanges[i], true
		}
	}
	return nil, false
}

// FeeTiers 获取交易所的费率等级表
// 交易所不存在时返回空切片。
func (c *Config) FeeTiers(exchangeName string) []FeeTierConfig {
	if ex, ok := c.Exchange(exchangeName); ok {
		return ex.FeeTiers
	}
	return nil
}

// MakerFee 查询 maker 费率
// (exchange, tier) 组合不存在时返回 0。
func (c *Config) MakerFee(exchangeName, tierName string) float64 {
	for _, tier := range c.FeeTiers(exchangeName) {
		if tier.Tier == tierName {
			return tier.Maker
		}
	}
	return 0
}

// TakerFee 查询 taker 费率
// (exchange, tier) 组合不存在时返回 0。
func (c *Config) TakerFee(exchangeName, tierName string) float64 {
	for _, tier := range c.FeeTiers(exchangeName) {
		if tier.Tier == tierName {
			return tier.Taker
		}
	}
	return 0
}
