package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/jeffl8n/syncfusion-collab-example/backend/internal/cache"
)

// 内存版 OpLog，按 Lua 脚本的语义实现，测试用
type fakeRoom struct {
	version  int
	revision int
	list     []string
	pending  []string
}

type fakeOpLog struct {
	mu    sync.Mutex
	rooms map[string]*fakeRoom
}

func newFakeOpLog() *fakeOpLog {
	return &fakeOpLog{rooms: make(map[string]*fakeRoom)}
}

var _ cache.OpLog = (*fakeOpLog)(nil)

func (f *fakeOpLog) room(name string) *fakeRoom {
	r := f.rooms[name]
	if r == nil {
		r = &fakeRoom{}
		f.rooms[name] = r
	}
	return r
}

// LRANGE 语义：负 start 从尾部回绕，回绕后仍为负则按 0 处理
func lrange(list []string, start int) []string {
	if start < 0 {
		start = len(list) + start
		if start < 0 {
			start = 0
		}
	}
	if start >= len(list) {
		return nil
	}
	return append([]string(nil), list[start:]...)
}

func (f *fakeOpLog) Append(ctx context.Context, roomName, actionJSON string, clientVersion, threshold int) (cache.AppendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.room(roomName)

	r.version++
	cv := clientVersion - r.revision*threshold
	r.list = append(r.list, actionJSON)
	out := cache.AppendResult{Version: r.version, OpsSince: lrange(r.list, cv)}

	if len(r.list)%(2*threshold) == 0 {
		out.Trimmed = append([]string(nil), r.list[:threshold]...)
		r.pending = append(r.pending, out.Trimmed...)
		r.list = append([]string(nil), r.list[threshold:]...)
		r.revision++
	}
	return out, nil
}

func (f *fakeOpLog) RewriteAt(ctx context.Context, roomName string, version int, actionJSON string, threshold int) (cache.RewriteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.room(roomName)

	idx := version - 1 - r.revision*threshold
	if idx < 0 {
		idx = len(r.list) + idx
	}
	if idx < 0 || idx >= len(r.list) {
		return cache.RewriteSkipped, nil
	}
	r.list[idx] = actionJSON
	return cache.RewriteApplied, nil
}

func (f *fakeOpLog) EffectivePending(ctx context.Context, roomName string, clientVersion, threshold int) ([]string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.room(roomName)

	cv := clientVersion - r.revision*threshold
	if cv < 0 {
		return nil, true, nil
	}
	return lrange(r.list, cv), false, nil
}

func (f *fakeOpLog) FetchRange(ctx context.Context, roomName string, start, end int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.room(roomName)
	return append(append([]string(nil), r.pending...), r.list...), nil
}

func (f *fakeOpLog) LogRange(ctx context.Context, roomName string, start, end int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.room(roomName).list...), nil
}

func (f *fakeOpLog) ClearRoom(ctx context.Context, roomName string, full bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.room(roomName)
	r.pending = nil
	if full {
		delete(f.rooms, roomName)
	}
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	items []*SaveInfo
}

func (q *fakeQueue) Enqueue(ctx context.Context, item *SaveInfo) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type fakeSource struct{ content string }

func (s fakeSource) LoadDocument(ctx context.Context, fileName, roomName string) (string, error) {
	return s.content, nil
}

func newTestService(oplog cache.OpLog, queue PersistQueue, threshold int) Service {
	return NewService(oplog, queue, PassthroughTransformer{}, TextApplier{}, fakeSource{content: "Hello world"}, nil, threshold)
}

func mustAction(t *testing.T, room, conn string, version int, payload string) *ActionInfo {
	t.Helper()
	a := &ActionInfo{RoomName: room, ConnectionID: conn, CurrentUser: "user-" + conn, Version: version}
	if payload != "" {
		a.Action = json.RawMessage(payload)
	}
	return a
}

func TestSubmitAssignsMonotonicVersions(t *testing.T) {
	oplog := newFakeOpLog()
	queue := &fakeQueue{}
	svc := newTestService(oplog, queue, 100)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		got, err := svc.SubmitOperation(ctx, mustAction(t, "room-a", "c1", i-1, ""))
		if err != nil {
			t.Fatalf("SubmitOperation() error = %v", err)
		}
		if got.Version != i {
			t.Fatalf("version = %d, want %d", got.Version, i)
		}
		if !got.IsTransformed {
			t.Fatalf("submitted action should be finalized as transformed")
		}
	}
}

func TestSubmitRejectsMissingRoomName(t *testing.T) {
	svc := newTestService(newFakeOpLog(), &fakeQueue{}, 100)
	if _, err := svc.SubmitOperation(context.Background(), &ActionInfo{}); err != ErrMissingRoomName {
		t.Fatalf("error = %v, want ErrMissingRoomName", err)
	}
}

func TestCompactionTrigger(t *testing.T) {
	oplog := newFakeOpLog()
	queue := &fakeQueue{}
	threshold := 100
	svc := newTestService(oplog, queue, threshold)
	ctx := context.Background()

	// 第 1~199 次追加都不触发 trim
	for i := 1; i < 200; i++ {
		if _, err := svc.SubmitOperation(ctx, mustAction(t, "room-a", "c1", i-1, "")); err != nil {
			t.Fatalf("SubmitOperation(#%d) error = %v", i, err)
		}
		if n := len(queue.items); n != 0 {
			t.Fatalf("after append #%d queue has %d batches, want 0", i, n)
		}
	}

	// 第 200 次追加把前 100 条移入待落盘批次，revision 0 -> 1
	if _, err := svc.SubmitOperation(ctx, mustAction(t, "room-a", "c1", 199, "")); err != nil {
		t.Fatalf("SubmitOperation(#200) error = %v", err)
	}
	if len(queue.items) != 1 {
		t.Fatalf("queue has %d batches, want 1", len(queue.items))
	}
	batch := queue.items[0]
	if !batch.PartialSave {
		t.Fatalf("trim batch should be partial")
	}
	if len(batch.Action) != threshold {
		t.Fatalf("batch size = %d, want %d", len(batch.Action), threshold)
	}
	// 批次是最早的 100 条
	if batch.Action[0].Version != 1 || batch.Action[threshold-1].Version != threshold {
		t.Fatalf("batch versions [%d..%d], want [1..%d]",
			batch.Action[0].Version, batch.Action[threshold-1].Version, threshold)
	}
	if rev := oplog.rooms["room-a"].revision; rev != 1 {
		t.Fatalf("revision = %d, want 1", rev)
	}
	if n := len(oplog.rooms["room-a"].list); n != threshold {
		t.Fatalf("log length after trim = %d, want %d", n, threshold)
	}
}

func TestActionsSinceRenumbersAcrossCompaction(t *testing.T) {
	oplog := newFakeOpLog()
	threshold := 100
	svc := newTestService(oplog, &fakeQueue{}, threshold)

	// revision=1（effectiveVersion=100），日志剩 50 条
	r := oplog.room("room-a")
	r.revision = 1
	r.version = 150
	for i := 101; i <= 150; i++ {
		b, _ := json.Marshal(&ActionInfo{RoomName: "room-a", Version: i, IsTransformed: true})
		r.list = append(r.list, string(b))
	}

	// 客户端停在 120：应拿到下标 20 起的 30 条，重编号 121..150
	actions, needsResync, err := svc.ActionsSince(context.Background(), "room-a", 120)
	if err != nil {
		t.Fatalf("ActionsSince() error = %v", err)
	}
	if needsResync {
		t.Fatalf("needsResync = true, want false")
	}
	if len(actions) != 30 {
		t.Fatalf("len(actions) = %d, want 30", len(actions))
	}
	for i, a := range actions {
		if want := 121 + i; a.Version != want {
			t.Fatalf("actions[%d].Version = %d, want %d", i, a.Version, want)
		}
	}
}

func TestActionsSinceUnderflowNeedsResync(t *testing.T) {
	oplog := newFakeOpLog()
	svc := newTestService(oplog, &fakeQueue{}, 100)

	r := oplog.room("room-a")
	r.revision = 2 // effectiveVersion = 200

	// 客户端版本早于最老保留项：不是“没有新操作”，而是要整文档重载
	actions, needsResync, err := svc.ActionsSince(context.Background(), "room-a", 150)
	if err != nil {
		t.Fatalf("ActionsSince() error = %v", err)
	}
	if !needsResync {
		t.Fatalf("needsResync = false, want true")
	}
	if len(actions) != 0 {
		t.Fatalf("len(actions) = %d, want 0", len(actions))
	}
}

func TestRewriteAfterTrimIsSkipped(t *testing.T) {
	oplog := newFakeOpLog()
	ctx := context.Background()

	r := oplog.room("room-a")
	r.revision = 1
	r.version = 120
	for i := 101; i <= 120; i++ {
		r.list = append(r.list, fmt.Sprintf(`{"version":%d}`, i))
	}
	before := append([]string(nil), r.list...)

	// 版本 50 已被 trim 走：改写应跳过且不碰相邻条目
	outcome, err := oplog.RewriteAt(ctx, "room-a", 50, `{"version":50}`, 100)
	if err != nil {
		t.Fatalf("RewriteAt() error = %v", err)
	}
	if outcome != cache.RewriteSkipped {
		t.Fatalf("outcome = %v, want RewriteSkipped", outcome)
	}
	for i := range before {
		if r.list[i] != before[i] {
			t.Fatalf("entry %d corrupted by skipped rewrite", i)
		}
	}
}

// 端到端：A 提交第一条操作拿到版本 1，B 从版本 0 追起恰好拿到这一条
func TestSubmitThenFetchSince(t *testing.T) {
	oplog := newFakeOpLog()
	svc := newTestService(oplog, &fakeQueue{}, 100)
	ctx := context.Background()

	submitted, err := svc.SubmitOperation(ctx,
		mustAction(t, "R", "connA", 0, `{"type":"insert","at":5,"text":"hi"}`))
	if err != nil {
		t.Fatalf("SubmitOperation() error = %v", err)
	}
	if submitted.Version != 1 {
		t.Fatalf("version = %d, want 1", submitted.Version)
	}

	actions, needsResync, err := svc.ActionsSince(ctx, "R", 0)
	if err != nil {
		t.Fatalf("ActionsSince() error = %v", err)
	}
	if needsResync {
		t.Fatalf("needsResync = true, want false")
	}
	if len(actions) != 1 {
		t.Fatalf("len(actions) = %d, want 1", len(actions))
	}
	if actions[0].Version != 1 {
		t.Fatalf("actions[0].Version = %d, want 1", actions[0].Version)
	}
	if actions[0].ConnectionID != "connA" {
		t.Fatalf("actions[0].ConnectionID = %q, want %q", actions[0].ConnectionID, "connA")
	}
}

func TestLastLeaveEnqueuesFullBatch(t *testing.T) {
	oplog := newFakeOpLog()
	queue := &fakeQueue{}
	svc := newTestService(oplog, queue, 100)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := svc.SubmitOperation(ctx, mustAction(t, "room-a", "c1", i-1, "")); err != nil {
			t.Fatalf("SubmitOperation() error = %v", err)
		}
	}

	if err := svc.LastLeave(ctx, "room-a"); err != nil {
		t.Fatalf("LastLeave() error = %v", err)
	}
	if len(queue.items) != 1 {
		t.Fatalf("queue has %d batches, want 1", len(queue.items))
	}
	batch := queue.items[0]
	if batch.PartialSave {
		t.Fatalf("last-leave batch should be full, not partial")
	}
	if len(batch.Action) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch.Action))
	}
}

func TestLastLeaveEmptyRoomEnqueuesNothing(t *testing.T) {
	queue := &fakeQueue{}
	svc := newTestService(newFakeOpLog(), queue, 100)
	if err := svc.LastLeave(context.Background(), "room-a"); err != nil {
		t.Fatalf("LastLeave() error = %v", err)
	}
	if len(queue.items) != 0 {
		t.Fatalf("queue has %d batches, want 0", len(queue.items))
	}
}

func TestImportFileAppliesPendingOps(t *testing.T) {
	oplog := newFakeOpLog()
	svc := newTestService(oplog, &fakeQueue{}, 100)
	ctx := context.Background()

	if _, err := svc.SubmitOperation(ctx,
		mustAction(t, "room-a", "c1", 0, `{"type":"insert","at":5,"text":" collaborative"}`)); err != nil {
		t.Fatalf("SubmitOperation() error = %v", err)
	}

	content, err := svc.ImportFile(ctx, "whatever.txt", "room-a")
	if err != nil {
		t.Fatalf("ImportFile() error = %v", err)
	}
	if content.Version != 0 {
		t.Fatalf("version = %d, want 0", content.Version)
	}
	if want := "Hello collaborative world"; content.Content != want {
		t.Fatalf("content = %q, want %q", content.Content, want)
	}
}
