package persist

import (
	"context"
	"errors"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
)

var ErrNilWorkItem = errors.New("work item must not be nil")

// Queue 是落盘批次的有界 FIFO 队列：单消费者，生产者在队列满时
// 挂起直到腾出空位。用阻塞换内存上界是刻意的准入控制——
// 持久化积压时宁可拖慢最热的编辑提交路径。
type Queue struct {
	ch chan *collab.SaveInfo
}

func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *collab.SaveInfo, capacity)}
}

func (q *Queue) Enqueue(ctx context.Context, item *collab.SaveInfo) error {
	if item == nil {
		return ErrNilWorkItem
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Dequeue(ctx context.Context) (*collab.SaveInfo, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
