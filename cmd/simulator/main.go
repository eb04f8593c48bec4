// Package main 是交易成本模拟器的入口点。
// 本程序接入单一交易所的 L2 行情流，在内存中维护订单簿，并对配置
// 的订单持续估算期望执行成本（滑点、手续费、市场冲击、maker/taker
// 拆分）与端到端内部延迟。
//
// 重要：本系统仅做模拟估算，绝不发送真实订单。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"trade-cost-simulator/internal/config"
	"trade-cost-simulator/internal/core/book"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/ingest"
	"trade-cost-simulator/internal/output/jsonl"
	"trade-cost-simulator/internal/output/kafkaout"
	"trade-cost-simulator/internal/sim"
	"trade-cost-simulator/internal/stats/latency"
	"trade-cost-simulator/internal/transport/ws"
	"trade-cost-simulator/internal/util/timeutil"
)

// metricsSnapshot 周期性输出的指标快照
type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// WS 行情连接指标
	WS ws.ConnectionMetrics `json:"ws"`
	// QueueLen 摄入队列当前长度
	QueueLen int `json:"queue_len"`
	// QueueDropped 摄入队列累计丢帧数
	QueueDropped int64 `json:"queue_dropped"`
	// FramesProcessed 桥已处理帧数
	FramesProcessed int64 `json:"frames_processed"`
	// FrameParseErrors 桥解析失败帧数
	FrameParseErrors int64 `json:"frame_parse_errors"`
	// BookUpdateFreq 订单簿更新频率（次/秒）
	BookUpdateFreq float64 `json:"book_update_freq"`
	// BidLevels 买侧档位数
	BidLevels int `json:"bid_levels"`
	// AskLevels 卖侧档位数
	AskLevels int `json:"ask_levels"`
	// Latency simulate 内部延迟分位数
	Latency latency.Stats `json:"latency"`
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.json", "配置文件路径")
	flag.Parse()
	// 兼容单个位置参数形式: simulator <config-path>
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(&cfg.Logging)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	orderBook := book.New()
	queue := ingest.NewQueue(cfg.Performance.BufferSize)
	wsClient := ws.NewClient(&cfg.WebSocket, queue, logger)
	simulator := sim.New(cfg, logger)
	defer simulator.Close()

	bridge := ingest.NewBridge(queue, orderBook, simulator, cfg.Bridge.PollIntervalMs, logger)

	// 输出 sink：JSONL 文件 + 可选 Kafka
	var resultsWriter *jsonl.Writer
	var metricsWriter *jsonl.Writer
	if cfg.Output.ResultsEnabled {
		resultsWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/results.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 results writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Output.MetricsEnabled {
		metricsWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/metrics.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 metrics writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	var publisher *kafkaout.Publisher
	if len(cfg.Output.Kafka.Brokers) > 0 {
		publisher = kafkaout.NewPublisher(cfg.Output.Kafka.Brokers, cfg.Output.Kafka.Topic, logger)
		logger.Info("Kafka 结果发布已启用",
			zap.Strings("brokers", cfg.Output.Kafka.Brokers),
			zap.String("topic", cfg.Output.Kafka.Topic))
	}

	var latTracker *latency.Tracker
	if cfg.Performance.MeasureLatency {
		latTracker = latency.NewTracker(10000)
	}

	asset := cfg.Simulator.DefaultAsset
	bridge.SetResultCallback(func(result model.SimulationResult) {
		if latTracker != nil {
			latTracker.Add(result.InternalLatencyUs)
		}
		if resultsWriter != nil {
			_ = resultsWriter.Write(result)
		}
		if publisher != nil {
			if err := publisher.PublishResult(asset, result); err != nil {
				logger.Warn("发布模拟结果失败", zap.Error(err))
			}
		}
	})

	if err := wsClient.Connect(ctx); err != nil {
		logger.Error("行情连接失败", zap.Error(err))
		os.Exit(1)
	}
	if err := wsClient.Subscribe(); err != nil {
		logger.Error("行情订阅失败", zap.Error(err))
		os.Exit(1)
	}

	go wsClient.Run(ctx)
	go bridge.Run(ctx)

	// 行情静默时连续模拟兜底
	simulator.StartContinuous(orderBook)

	runMetricsLoop(ctx, cfg, logger, metricsWriter, wsClient, queue, bridge, orderBook, latTracker)

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		simulator.StopContinuous()
		_ = wsClient.Close()
		if resultsWriter != nil {
			_ = resultsWriter.Close()
		}
		if metricsWriter != nil {
			_ = metricsWriter.Close()
		}
		if publisher != nil {
			_ = publisher.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// runMetricsLoop 周期性采集并输出指标快照，直到 ctx 取消
func runMetricsLoop(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	metricsWriter *jsonl.Writer,
	wsClient *ws.Client,
	queue *ingest.Queue,
	bridge *ingest.Bridge,
	orderBook *book.Book,
	latTracker *latency.Tracker,
) {
	ticker := time.NewTicker(time.Duration(cfg.Output.MetricsIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metricsSnapshot{
				TsUnixNs:         timeutil.NowNano(),
				WS:               wsClient.Metrics(),
				QueueLen:         queue.Len(),
				QueueDropped:     queue.Dropped(),
				FramesProcessed:  bridge.ProcessedCount(),
				FrameParseErrors: bridge.ParseErrorCount(),
				BookUpdateFreq:   orderBook.UpdateFrequency(),
				BidLevels:        orderBook.LevelsCount(true),
				AskLevels:        orderBook.LevelsCount(false),
			}
			if latTracker != nil {
				snap.Latency = latTracker.Stats()
			}

			if metricsWriter != nil {
				_ = metricsWriter.Write(snap)
			}
			logger.Debug("指标快照",
				zap.Float64("frames_per_sec", snap.WS.FramesPerSec),
				zap.Int("queue_len", snap.QueueLen),
				zap.Float64("book_update_freq", snap.BookUpdateFreq))
		}
	}
}

// newLogger 按日志配置构建 zap logger
// 控制台与文件两路输出可独立开关；文件输出经 lumberjack 轮转。
func newLogger(cfg *config.LoggingConfig) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(cfg.Level); err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var cores []zapcore.Core
	if cfg.ConsoleOutput {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl))
	}
	if cfg.FileOutput && cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxFileSizeMb,
			MaxBackups: cfg.MaxFiles,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), lvl))
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}

	return zap.New(zapcore.NewTee(cores...))
}
