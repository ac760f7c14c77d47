package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// Registry 管理房间成员关系，全部共享状态放在 Redis：
// 断连事件没有任何负载，只能拿 connectionId 反查房间，
// 所以 connectionId -> roomName 的映射必须是共享状态而不是进程内 map。
type Registry interface {
	AddMember(ctx context.Context, roomName, connectionID, memberJSON string) error
	Members(ctx context.Context, roomName string) (map[string]string, error)
	RoomExists(ctx context.Context, roomName string) (bool, error)
	RemoveMember(ctx context.Context, connectionID string) (roomName string, remaining int64, err error)
}

type redisRegistry struct {
	rdb redis.UniversalClient
}

func NewRegistry(rdb redis.UniversalClient) Registry {
	return &redisRegistry{rdb: rdb}
}

func (r *redisRegistry) AddMember(ctx context.Context, roomName, connectionID, memberJSON string) error {
	tx := r.rdb.TxPipeline()
	tx.HSet(ctx, userInfoKey(roomName), connectionID, memberJSON)
	tx.HSet(ctx, connRoomMappingKey, connectionID, roomName)
	_, err := tx.Exec(ctx)
	return err
}

func (r *redisRegistry) Members(ctx context.Context, roomName string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, userInfoKey(roomName)).Result()
}

func (r *redisRegistry) RoomExists(ctx context.Context, roomName string) (bool, error) {
	n, err := r.rdb.Exists(ctx, userInfoKey(roomName)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveMember 删除成员及其房间映射，返回所在房间和剩余成员数。
// 成员相关的键在每次断连时都会清理，与落盘是否成功无关。
func (r *redisRegistry) RemoveMember(ctx context.Context, connectionID string) (string, int64, error) {
	roomName, err := r.rdb.HGet(ctx, connRoomMappingKey, connectionID).Result()
	if err == redis.Nil {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}

	tx := r.rdb.TxPipeline()
	tx.HDel(ctx, userInfoKey(roomName), connectionID)
	tx.HDel(ctx, connRoomMappingKey, connectionID)
	remainingCmd := tx.HLen(ctx, userInfoKey(roomName))
	if _, err := tx.Exec(ctx); err != nil {
		return roomName, 0, err
	}
	return roomName, remainingCmd.Val(), nil
}
