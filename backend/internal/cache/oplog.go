package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// OpLog 是每个房间的操作日志，全部状态都放在 Redis 里：
// 版本分配、trim 判定、trim 本身必须在同一个 Lua 脚本里完成，
// 否则并发 Append 可能拿到相同 version，或 trim 与追加交错丢数据。
// 进程内不加任何锁——同一服务多实例时 Redis 脚本是唯一的互斥点。
type OpLog interface {
	Append(ctx context.Context, roomName, actionJSON string, clientVersion, threshold int) (AppendResult, error)
	RewriteAt(ctx context.Context, roomName string, version int, actionJSON string, threshold int) (RewriteOutcome, error)
	EffectivePending(ctx context.Context, roomName string, clientVersion, threshold int) (ops []string, needsResync bool, err error)
	FetchRange(ctx context.Context, roomName string, start, end int64) ([]string, error)
	LogRange(ctx context.Context, roomName string, start, end int64) ([]string, error)
	ClearRoom(ctx context.Context, roomName string, full bool) error
}

type AppendResult struct {
	// 本次操作被分配到的版本号（每房间严格递增、无空洞）
	Version int
	// clientVersion 之后的全部日志项（含本条），原始 JSON
	OpsSince []string
	// 非空表示本次追加触发了 trim：这是被移入待落盘缓冲的前 threshold 条
	Trimmed []string
}

// RewriteAt 的显式结果：目标项可能已经被 trim 进待落盘缓冲，
// 这种竞态是刻意容忍的，跳过而不是报错。
type RewriteOutcome int

const (
	RewriteApplied RewriteOutcome = iota
	RewriteSkipped
)

var ErrNegativeRange = errors.New("fetch range start index must not be negative")

// 追加脚本：
// INCR 版本 -> 读/初始化 revision -> 归一化 clientVersion -> RPUSH ->
// 取回 clientVersion 之后的操作 -> 长度到达 2*threshold 时把头部
// threshold 条搬进待落盘 List 并 INCR revision。
// 返回 {version, previousOps, elementToRemove}；未触发 trim 时
// elementToRemove 为 nil，Redis 会把返回表截断成两个元素。
var insertScript = redis.NewScript(`
local versionKey = KEYS[1]
local listKey = KEYS[2]
local revisionKey = KEYS[3]
local updateKey = KEYS[4]

local item = ARGV[1]
local clientVersion = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])

local version = redis.call('INCR', versionKey)

local revision = redis.call('GET', revisionKey)
if not revision then
    redis.call('SET', revisionKey, '0')
    revision = 0
else
    revision = tonumber(revision)
end

local effectiveVersion = revision * threshold
clientVersion = clientVersion - effectiveVersion

local length = redis.call('RPUSH', listKey, item)
local previousOps = redis.call('LRANGE', listKey, clientVersion, -1)

local cacheLimit = threshold * 2
local elementToRemove = nil
if length % cacheLimit == 0 then
    elementToRemove = redis.call('LRANGE', listKey, 0, threshold - 1)
    redis.call('LTRIM', listKey, threshold, -1)
    redis.call('INCR', revisionKey)
    for _, v in ipairs(elementToRemove) do
        redis.call('RPUSH', updateKey, v)
    end
end

local values = {version, previousOps, elementToRemove}
return values`)

// 改写脚本：按归一化下标 LSET；下标越界（含从尾部回绕后仍越界）时
// 不做任何事，返回 0 表示跳过。
var updateRecordScript = redis.NewScript(`
local listKey = KEYS[1]
local revisionKey = KEYS[2]

local item = ARGV[1]
local clientVersion = ARGV[2]
local threshold = tonumber(ARGV[3])

local revision = redis.call('GET', revisionKey)
if not revision then
    revision = 0
else
    revision = tonumber(revision)
end

local effectiveVersion = revision * threshold
clientVersion = tonumber(clientVersion) - effectiveVersion

local listLength = redis.call('LLEN', listKey)

if listLength > 0 then
    if clientVersion >= 0 then
        if clientVersion < listLength then
            redis.call('LSET', listKey, clientVersion, item)
            return 1
        end
    else
        local normalizedIndex = listLength + clientVersion
        if normalizedIndex >= 0 then
            redis.call('LSET', listKey, clientVersion, item)
            return 1
        end
    end
end
return 0`)

// 只读：归一化 clientVersion 后取日志尾段。
// 归一化结果为负说明客户端落后于最老保留项，第一个返回值置 1——
// 调用方必须把它当成“需要整文档重载”，不能当成“没有新操作”。
var effectivePendingScript = redis.NewScript(`
local listKey = KEYS[1]
local revisionKey = KEYS[2]

local clientVersion = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

local revision = redis.call('GET', revisionKey)
if not revision then
    revision = 0
else
    revision = tonumber(revision)
end

local effectiveVersion = revision * threshold
clientVersion = clientVersion - effectiveVersion

if clientVersion >= 0 then
    return {0, redis.call('LRANGE', listKey, clientVersion, -1)}
else
    return {1, {}}
end`)

// 冷启动重建用：待落盘缓冲在前、主日志在后，两段拼起来
// 就是“最后一次持久化之后发生的全部操作”。
var pendingOperationsScript = redis.NewScript(`
local listKey = KEYS[1]
local processingKey = KEYS[2]
local startIndex = tonumber(ARGV[1])
local endIndex = tonumber(ARGV[2])

local listValues = redis.call('LRANGE', listKey, startIndex, endIndex)
local processingValues = redis.call('LRANGE', processingKey, startIndex, endIndex)

return {processingValues, listValues}`)

type redisOpLog struct {
	rdb redis.UniversalClient
}

func NewOpLog(rdb redis.UniversalClient) OpLog {
	return &redisOpLog{rdb: rdb}
}

func (l *redisOpLog) Append(ctx context.Context, roomName, actionJSON string, clientVersion, threshold int) (AppendResult, error) {
	keys := []string{versionKey(roomName), listKey(roomName), revisionKey(roomName), pendingSaveKey(roomName)}
	res, err := insertScript.Run(ctx, l.rdb, keys, actionJSON, clientVersion, threshold).Result()
	if err != nil {
		return AppendResult{}, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return AppendResult{}, fmt.Errorf("insert script: unexpected result %T", res)
	}

	version, err := toInt64(arr[0])
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert script: bad version: %w", err)
	}
	opsSince, err := toStringSlice(arr[1])
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert script: bad ops list: %w", err)
	}

	out := AppendResult{Version: int(version), OpsSince: opsSince}
	// Lua 表在 nil 处截断：没有 trim 时结果只有两个元素
	if len(arr) > 2 && arr[2] != nil {
		trimmed, err := toStringSlice(arr[2])
		if err != nil {
			return AppendResult{}, fmt.Errorf("insert script: bad trimmed list: %w", err)
		}
		out.Trimmed = trimmed
	}
	return out, nil
}

// RewriteAt 用定稿内容替换 version 对应的日志项。
// 版本是 1 起的计数，脚本内按 version-1 归一化成下标。
func (l *redisOpLog) RewriteAt(ctx context.Context, roomName string, version int, actionJSON string, threshold int) (RewriteOutcome, error) {
	keys := []string{listKey(roomName), revisionKey(roomName)}
	res, err := updateRecordScript.Run(ctx, l.rdb, keys, actionJSON, strconv.Itoa(version-1), threshold).Result()
	if err != nil {
		return RewriteSkipped, err
	}
	applied, err := toInt64(res)
	if err != nil {
		return RewriteSkipped, fmt.Errorf("update script: %w", err)
	}
	if applied == 1 {
		return RewriteApplied, nil
	}
	return RewriteSkipped, nil
}

func (l *redisOpLog) EffectivePending(ctx context.Context, roomName string, clientVersion, threshold int) ([]string, bool, error) {
	keys := []string{listKey(roomName), revisionKey(roomName)}
	res, err := effectivePendingScript.Run(ctx, l.rdb, keys, clientVersion, threshold).Result()
	if err != nil {
		return nil, false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, false, fmt.Errorf("effective pending script: unexpected result %T", res)
	}
	flag, err := toInt64(arr[0])
	if err != nil {
		return nil, false, err
	}
	ops, err := toStringSlice(arr[1])
	if err != nil {
		return nil, false, err
	}
	return ops, flag == 1, nil
}

// LogRange 只读主日志，不含待落盘缓冲。最后一个成员离开时的整仓
// 落盘用它：待落盘缓冲里的操作已经归某个排队中的部分批次所有，
// 再带上会被应用两次。
func (l *redisOpLog) LogRange(ctx context.Context, roomName string, start, end int64) ([]string, error) {
	return l.rdb.LRange(ctx, listKey(roomName), start, end).Result()
}

func (l *redisOpLog) FetchRange(ctx context.Context, roomName string, start, end int64) ([]string, error) {
	if start < 0 {
		return nil, ErrNegativeRange
	}
	keys := []string{listKey(roomName), pendingSaveKey(roomName)}
	res, err := pendingOperationsScript.Run(ctx, l.rdb, keys, start, end).Result()
	if err != nil {
		return nil, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, fmt.Errorf("pending script: unexpected result %T", res)
	}
	processing, err := toStringSlice(arr[0])
	if err != nil {
		return nil, err
	}
	list, err := toStringSlice(arr[1])
	if err != nil {
		return nil, err
	}
	return append(processing, list...), nil
}

// ClearRoom 在一个批次落盘成功后清理缓存：
// partial 只清待落盘缓冲；full（最后一个成员离开）把日志、
// 版本和修订计数一并删掉，房间下次加入从 version 0 重新开始。
func (l *redisOpLog) ClearRoom(ctx context.Context, roomName string, full bool) error {
	tx := l.rdb.TxPipeline()
	tx.Del(ctx, pendingSaveKey(roomName))
	if full {
		tx.Del(ctx, listKey(roomName))
		tx.Del(ctx, versionKey(roomName))
		tx.Del(ctx, revisionKey(roomName))
	}
	_, err := tx.Exec(ctx)
	return err
}

// 将 any 类型转换为 int64 类型，无法转换返回错误
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type: %T", v)
	}
}

// Lua 返回的列表是 []interface{}，逐项转成 string
func toStringSlice(v any) ([]string, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected type: %T", v)
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		switch s := e.(type) {
		case string:
			out = append(out, s)
		case []byte:
			out = append(out, string(s))
		default:
			return nil, fmt.Errorf("unexpected element type: %T", e)
		}
	}
	return out, nil
}
