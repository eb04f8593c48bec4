// Package ingest 摄入队列测试
package ingest

import (
	"sync"
	"testing"

	"trade-cost-simulator/internal/core/model"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)

	for i := byte(0); i < 3; i++ {
		if !q.Enqueue(model.RawMessage{Data: []byte{i}}) {
			t.Fatalf("入队应成功")
		}
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len=%d, want 3", got)
	}

	for i := byte(0); i < 3; i++ {
		msg, ok := q.Dequeue()
		if !ok {
			t.Fatalf("出队应成功")
		}
		if msg.Data[0] != i {
			t.Fatalf("出队顺序错误: got %d, want %d", msg.Data[0], i)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Fatalf("空队列出队应返回 false")
	}
}

func TestQueue_DropNewestWhenFull(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue(model.RawMessage{Data: []byte{1}})
	q.Enqueue(model.RawMessage{Data: []byte{2}})

	if q.Enqueue(model.RawMessage{Data: []byte{3}}) {
		t.Fatalf("队列满时入队应失败")
	}
	if got := q.Dropped(); got != 1 {
		t.Fatalf("Dropped=%d, want 1", got)
	}

	// 丢新策略：留在队列里的仍是先入队的两帧
	msg, _ := q.Dequeue()
	if msg.Data[0] != 1 {
		t.Fatalf("队首应为最早的帧，got %d", msg.Data[0])
	}
}

func TestQueue_DefaultCapacity(t *testing.T) {
	q := NewQueue(0)
	if cap(q.ch) != defaultCapacity {
		t.Fatalf("默认容量=%d, want %d", cap(q.ch), defaultCapacity)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue(10000)

	const producers = 8
	const perProducer = 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(model.RawMessage{Data: []byte{1}})
			}
		}()
	}
	wg.Wait()

	total := q.Len() + int(q.Dropped())
	if total != producers*perProducer {
		t.Fatalf("入队+丢弃总数=%d, want %d", total, producers*perProducer)
	}
}
