// Package ws 实现行情源的 WebSocket 客户端。
// 每个进程订阅一个 L2 快照流；读到的原始帧直接投入摄入队列，
// 除入队外绝不阻塞读协程。断线按指数退避重连。
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trade-cost-simulator/internal/config"
	"trade-cost-simulator/internal/core/model"
	"trade-cost-simulator/internal/ingest"
	"trade-cost-simulator/internal/util/backoff"
	"trade-cost-simulator/internal/util/timeutil"
)

// handshakeTimeout 建连握手超时
const handshakeTimeout = 10 * time.Second

// ConnectionMetrics 连接指标快照
type ConnectionMetrics struct {
	// FramesPerSec 每秒收到的帧数
	FramesPerSec float64 `json:"frames_per_sec"`
	// LastMessageAgeMs 距最后一条消息的时间（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
	// ReconnectCount 重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// EnqueueDropCount 因队列满被丢弃的帧数
	EnqueueDropCount int64 `json:"enqueue_drop_count"`
}

// Client 行情 WebSocket 客户端
type Client struct {
	// cfg WebSocket 配置
	cfg *config.WebSocketConfig
	// queue 帧投递目标
	queue *ingest.Queue
	// logger 日志记录器
	logger *zap.Logger

	// conn 当前连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// frameCount 收帧计数（用于计算速率）
	frameCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex

	// dropLogSampleCount 入队失败计数（采样日志用）
	dropLogSampleCount uint64
}

// NewClient 创建行情客户端
// 重连退避以 reconnect_interval_ms 为底、30s 封顶、±20% 抖动。
func NewClient(cfg *config.WebSocketConfig, queue *ingest.Queue, logger *zap.Logger) *Client {
	base := time.Duration(cfg.ReconnectIntervalMs) * time.Millisecond
	return &Client{
		cfg:     cfg,
		queue:   queue,
		logger:  logger.Named("ws"),
		backoff: backoff.New(base, 30*time.Second, 0.2),
	}
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "trade-cost-simulator/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, header)
	if err != nil {
		return fmt.Errorf("连接行情 WebSocket 失败: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
		return nil
	})

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("行情 WebSocket 连接成功", zap.String("endpoint", c.cfg.Endpoint))
	return nil
}

// Subscribe 发送订阅请求
// 未配置 subscribe_payload 时为空操作（行情流连上即推送）。
// 建连成功后调用；重连路径会自动重新发送。
func (c *Client) Subscribe() error {
	payload := c.cfg.SubscribePayload
	if payload == "" {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("订阅请求已发送", zap.Int("bytes", len(payload)))
	return nil
}

// Run 启动客户端主循环
// 包含读取循环、心跳循环与指标统计。
func (c *Client) Run(ctx context.Context) {
	go c.pingLoop(ctx)
	go c.metricsLoop(ctx)
	c.readLoop(ctx)
}

// readLoop 读取循环
// 每帧打上到达时间戳后投入队列；队列满时帧被丢弃并计数。
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 || ctx.Err() != nil {
				return
			}
			c.logger.Warn("读取行情消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		arrivedNs := timeutil.NowNano()
		atomic.StoreInt64(&c.lastMsgTime, arrivedNs)
		atomic.AddInt64(&c.frameCount, 1)

		if !c.queue.Enqueue(model.RawMessage{Data: data, ArrivedAtUnixNs: arrivedNs}) {
			c.incrementDropCount()
			c.maybeLogDrop()
		}
	}
}

// pingLoop 心跳循环
func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = 15000
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.connMu.Unlock()
				c.logger.Warn("发送 ping 失败", zap.Error(err))
				continue
			}
			c.connMu.Unlock()
		}
	}
}

// metricsLoop 每秒刷新连接指标
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.frameCount)
			fps := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.FramesPerSec = fps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Next()
	c.logger.Info("准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("重新订阅失败", zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
// 关闭连接会解除读循环的阻塞，触发其退出。
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	c.logger.Info("行情客户端已关闭")
	return nil
}

// Metrics 获取连接指标快照
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementDropCount() {
	c.metricsMu.Lock()
	c.metrics.EnqueueDropCount++
	c.metricsMu.Unlock()
}

// maybeLogDrop 采样记录入队失败，每 1000 次记 1 条
func (c *Client) maybeLogDrop() {
	if atomic.AddUint64(&c.dropLogSampleCount, 1)%1000 != 1 {
		return
	}
	c.logger.Warn("摄入队列已满，丢弃行情帧（采样）",
		zap.Int64("queue_dropped", c.queue.Dropped()))
}
