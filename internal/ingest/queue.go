// Package ingest 实现行情摄入：有界 MPSC 队列与解码桥。
// 传输层把原始帧投入队列，桥按固定节奏出队、解析、更新订单簿并
// 驱动模拟器。队列满时丢弃新帧并计数，绝不阻塞网络读协程。
package ingest

import (
	"sync/atomic"

	"trade-cost-simulator/internal/core/model"
)

// defaultCapacity 队列默认容量
const defaultCapacity = 100000

// Queue 有界多生产者/单消费者队列
// 底层为带缓冲 channel：入队/出队均为非阻塞操作。
// 丢帧对正确性无影响——订单簿是快照替换式，丢失的帧会被下一帧覆盖。
type Queue struct {
	// ch 帧缓冲
	ch chan model.RawMessage
	// dropped 因队列满而丢弃的帧计数
	dropped int64
}

// NewQueue 创建队列
// 参数 capacity: 容量，非正时取默认值 100000。
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		ch: make(chan model.RawMessage, capacity),
	}
}

// Enqueue 非阻塞入队
// 队列满时丢弃该帧（丢新策略）、递增丢弃计数并返回 false。
func (q *Queue) Enqueue(msg model.RawMessage) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		atomic.AddInt64(&q.dropped, 1)
		return false
	}
}

// Dequeue 非阻塞出队
// 队列为空时返回 (零值, false)。
func (q *Queue) Dequeue() (model.RawMessage, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return model.RawMessage{}, false
	}
}

// Len 队列当前长度（近似值）
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped 累计丢弃帧数
func (q *Queue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}
