package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/cache"
)

// 协作同步核心接口
type Service interface {
	// SubmitOperation 为操作分配版本、追加进房间日志，返回（可能已
	// 变换的）规范操作。触发 trim 时把批次压入落盘队列。
	SubmitOperation(ctx context.Context, action *ActionInfo) (*ActionInfo, error)

	// ActionsSince 返回客户端自 version 之后缺失的操作，已按其视角
	// 连续重编号并完成变换。needsResync 为 true 表示客户端版本早于
	// 最老保留项，必须整文档重载，此时操作列表为空。
	ActionsSince(ctx context.Context, roomName string, version int) (actions []*ActionInfo, needsResync bool, err error)

	// ImportFile 重建文档：最近一次快照 + 尚未落盘的全部操作
	ImportFile(ctx context.Context, fileName, roomName string) (*DocumentContent, error)

	// LastLeave 在最后一个成员离开后调用，把剩余日志作为整仓批次排队
	LastLeave(ctx context.Context, roomName string) error
}

// 落盘队列的生产端。Enqueue 在队列满时阻塞——宁可拖慢编辑提交，
// 也不让内存无界增长。
type PersistQueue interface {
	Enqueue(ctx context.Context, item *SaveInfo) error
}

// 文档来源：按房间取最近一次持久化的内容，没有则回退到源文件
type DocumentSource interface {
	LoadDocument(ctx context.Context, fileName, roomName string) (string, error)
}

var ErrMissingRoomName = errors.New("room name is required")

type service struct {
	oplog       cache.OpLog
	queue       PersistQueue
	transformer Transformer
	applier     DocumentApplier
	source      DocumentSource
	dispatcher  *KafkaDispatcher
	threshold   int

	// 同一房间并发 ImportFile 只重建一次
	sf singleflight.Group
}

func NewService(oplog cache.OpLog, queue PersistQueue, transformer Transformer, applier DocumentApplier, source DocumentSource, dispatcher *KafkaDispatcher, threshold int) Service {
	return &service{
		oplog:       oplog,
		queue:       queue,
		transformer: transformer,
		applier:     applier,
		source:      source,
		dispatcher:  dispatcher,
		threshold:   threshold,
	}
}

func (s *service) SubmitOperation(ctx context.Context, action *ActionInfo) (*ActionInfo, error) {
	if action == nil || action.RoomName == "" {
		return nil, ErrMissingRoomName
	}

	clientVersion := action.Version
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}

	res, err := s.oplog.Append(ctx, action.RoomName, string(raw), clientVersion, s.threshold)
	if err != nil {
		return nil, err
	}

	previous, err := decodeActions(res.OpsSince)
	if err != nil {
		return nil, err
	}

	// 返回批次按客户端视角连续重编号
	cv := clientVersion
	for _, op := range previous {
		cv++
		op.Version = cv
	}

	// 有并发操作时，以日志里的最后一条（刚追加的这条）为准，
	// 并按日志顺序变换所有未变换的操作
	if len(previous) > 1 {
		action = previous[len(previous)-1]
		transformUntransformed(s.transformer, previous)
	}

	action.Version = res.Version
	action.IsTransformed = true

	// 把定稿写回日志对应位置；条目已被 trim 进待落盘缓冲时改写会
	// 被跳过，这正是想要的结果——批次里保留的是当时的原始操作
	finalized, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	if _, err := s.oplog.RewriteAt(ctx, action.RoomName, res.Version, string(finalized), s.threshold); err != nil {
		return nil, err
	}

	if len(res.Trimmed) > 0 {
		trimmed, err := decodeActions(res.Trimmed)
		if err != nil {
			return nil, err
		}
		// 队列满时在这里挂起：持久化积压会反压到编辑提交
		if err := s.queue.Enqueue(ctx, &SaveInfo{
			RoomName:    action.RoomName,
			Action:      trimmed,
			PartialSave: true,
		}); err != nil {
			return nil, err
		}
	}

	s.emitOpApplied(ctx, action)
	return action, nil
}

func (s *service) emitOpApplied(ctx context.Context, action *ActionInfo) {
	if s.dispatcher == nil {
		return
	}
	emitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := s.dispatcher.Emit(emitCtx, CollabEvent{
		EventType:    EventOpApplied,
		RoomName:     action.RoomName,
		ConnectionID: action.ConnectionID,
		Version:      action.Version,
		Action:       action.Action,
		OccurredAt:   time.Now(),
	})
	if err != nil {
		log.Printf("drop op event room=%s v=%d: %v", action.RoomName, action.Version, err)
	}
}

func (s *service) ActionsSince(ctx context.Context, roomName string, version int) ([]*ActionInfo, bool, error) {
	if roomName == "" {
		return nil, false, ErrMissingRoomName
	}

	raw, needsResync, err := s.oplog.EffectivePending(ctx, roomName, version, s.threshold)
	if err != nil {
		return nil, false, err
	}
	if needsResync {
		return nil, true, nil
	}

	actions, err := decodeActions(raw)
	if err != nil {
		return nil, false, err
	}

	cv := version
	for _, a := range actions {
		cv++
		a.Version = cv
	}

	// 边界去重：重编号后恰好等于客户端版本的那条不能再发一遍
	filtered := actions[:0]
	for _, a := range actions {
		if a.Version > version {
			filtered = append(filtered, a)
		}
	}

	transformUntransformed(s.transformer, filtered)
	return filtered, false, nil
}

func (s *service) ImportFile(ctx context.Context, fileName, roomName string) (*DocumentContent, error) {
	if roomName == "" {
		return nil, ErrMissingRoomName
	}

	v, err, _ := s.sf.Do(roomName, func() (interface{}, error) {
		content, err := s.source.LoadDocument(ctx, fileName, roomName)
		if err != nil {
			return nil, err
		}

		raw, err := s.oplog.FetchRange(ctx, roomName, 0, -1)
		if err != nil {
			return nil, err
		}
		actions, err := decodeActions(raw)
		if err != nil {
			return nil, err
		}

		if len(actions) > 0 {
			transformUntransformed(s.transformer, actions)
			content, err = s.applier.Apply(ctx, content, actions)
			if err != nil {
				return nil, err
			}
		}

		// 客户端从 0 起步，随后用 ActionsSince 追平
		return &DocumentContent{Version: 0, Content: content}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DocumentContent), nil
}

func (s *service) LastLeave(ctx context.Context, roomName string) error {
	if roomName == "" {
		return ErrMissingRoomName
	}

	raw, err := s.oplog.LogRange(ctx, roomName, 0, -1)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	actions, err := decodeActions(raw)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, &SaveInfo{
		RoomName:    roomName,
		Action:      actions,
		PartialSave: false,
	})
}
