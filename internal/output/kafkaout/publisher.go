// Package kafkaout 实现模拟结果的 Kafka 发布。
// 可选组件：配置了 broker 时，每条 SimulationResult 以 JSON 形式
// 按交易对作 key 异步发布，供下游风控/监控消费。
package kafkaout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"trade-cost-simulator/internal/core/model"
)

// Publisher 模拟结果 Kafka 发布器
type Publisher struct {
	// writer kafka 异步写入器
	writer *kafka.Writer
	// logger 日志记录器
	logger *zap.Logger
}

// NewPublisher 创建发布器
// 异步模式 + 10ms 批量窗口，发布不阻塞模拟热路径。
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
	return &Publisher{
		writer: w,
		logger: logger.Named("kafkaout"),
	}
}

// PublishResult 发布一条模拟结果
// key 为交易对，便于按 symbol 分区消费。
func (p *Publisher) PublishResult(symbol string, result model.SimulationResult) error {
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化模拟结果失败: %w", err)
	}

	if err := p.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(symbol),
		Value: value,
	}); err != nil {
		return fmt.Errorf("发布模拟结果失败: %w", err)
	}
	return nil
}

// Close 关闭发布器
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("关闭 kafka writer 失败", zap.Error(err))
		return err
	}
	return nil
}
