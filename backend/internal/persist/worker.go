package persist

import (
	"context"
	"log"
	"time"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/cache"
	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/collab"
)

// 快照落库能力，store.SnapshotStore 实现
type SnapshotSaver interface {
	SaveDocumentSnapshot(ctx context.Context, roomName string, version int, content string) error
}

// Worker 是唯一的落盘消费者：严格按入队顺序、一次一个批次地
// 把操作应用到持久文档上。不同房间的批次共用这一个队列，
// 慢房间会拖住别的房间——这是单消费者换来的简单性，接受。
type Worker struct {
	queue       *Queue
	oplog       cache.OpLog
	transformer collab.Transformer
	applier     collab.DocumentApplier
	source      collab.DocumentSource
	snapshots   SnapshotSaver
	dispatcher  *collab.KafkaDispatcher

	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewWorker(queue *Queue, oplog cache.OpLog, transformer collab.Transformer, applier collab.DocumentApplier, source collab.DocumentSource, snapshots SnapshotSaver, dispatcher *collab.KafkaDispatcher) *Worker {
	return &Worker{
		queue:       queue,
		oplog:       oplog,
		transformer: transformer,
		applier:     applier,
		source:      source,
		snapshots:   snapshots,
		dispatcher:  dispatcher,
		maxRetry:    3,
		baseBackoff: 50 * time.Millisecond,
		maxBackoff:  1 * time.Second,
	}
}

// Run 阻塞运行直到 ctx 取消。取消只在取队列这个阻塞点生效：
// 一个批次开始应用后不会中途放弃，要么做完要么重试耗尽。
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("persist worker stopped: %v", err)
			return
		}
		w.processWithRetry(ctx, item)
	}
}

func (w *Worker) processWithRetry(ctx context.Context, item *collab.SaveInfo) {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetry; attempt++ {
		lastErr = w.process(ctx, item)
		if lastErr == nil {
			return
		}
		if attempt == w.maxRetry {
			break
		}
		// 退避，每次退避时间X2
		backoff := w.baseBackoff * time.Duration(1<<attempt)
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
		time.Sleep(backoff)
	}

	// 重试耗尽：批次进死信，Redis 键不清理，操作留在缓存里可人工恢复
	log.Printf("persist batch failed, dead-lettering room=%s ops=%d partial=%t err=%v",
		item.RoomName, len(item.Action), item.PartialSave, lastErr)
	w.deadLetter(ctx, item)
}

func (w *Worker) process(ctx context.Context, item *collab.SaveInfo) error {
	actions := item.Action

	// 批次内未变换的操作按日志顺序补变换
	for _, a := range actions {
		if !a.IsTransformed {
			w.transformer.Transform(a, actions)
		}
	}

	content, err := w.source.LoadDocument(ctx, "", item.RoomName)
	if err != nil {
		return err
	}
	content, err = w.applier.Apply(ctx, content, actions)
	if err != nil {
		return err
	}

	version := 0
	if len(actions) > 0 {
		version = actions[len(actions)-1].Version
	}
	if err := w.snapshots.SaveDocumentSnapshot(ctx, item.RoomName, version, content); err != nil {
		return err
	}

	// 应用成功才清缓存：partial 只清待落盘缓冲，
	// full 把日志、版本、修订一起删掉
	return w.oplog.ClearRoom(ctx, item.RoomName, !item.PartialSave)
}

func (w *Worker) deadLetter(ctx context.Context, item *collab.SaveInfo) {
	if w.dispatcher == nil {
		return
	}
	dlCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := w.dispatcher.Emit(dlCtx, collab.CollabEvent{
		EventType:  collab.EventPersistFailed,
		RoomName:   item.RoomName,
		Batch:      item,
		OccurredAt: time.Now(),
	})
	if err != nil {
		log.Printf("dead letter emit failed room=%s: %v", item.RoomName, err)
	}
}
