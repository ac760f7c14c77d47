package cache

// 键语义（每个房间 roomName 直接作为 key 前缀）：
// - listKey(roomName):        操作日志（List<ActionInfo JSON>，RPUSH 追加）
// - versionKey(roomName):     版本计数器（INCR，每追加一条操作 +1）
// - revisionKey(roomName):    修订计数器（每次 trim +1，用于换算 effectiveVersion）
// - userInfoKey(roomName):    房间成员（Hash<connectionId -> ActionInfo JSON>）
// - pendingSaveKey(roomName): 等待落盘的操作（List，trim 时原子搬入）
// - connRoomMappingKey:       全局 connectionId -> roomName 映射（Hash）

const (
	versionInfoSuffix  = "_version_info"
	revisionInfoSuffix = "_revision_info"
	userInfoSuffix     = "_user_info"
	actionsToRemoveSfx = "_actions_to_remove"
	connRoomMappingKey = "connection_id_room_mapping"
)

func listKey(roomName string) string        { return roomName }
func versionKey(roomName string) string     { return roomName + versionInfoSuffix }
func revisionKey(roomName string) string    { return roomName + revisionInfoSuffix }
func userInfoKey(roomName string) string    { return roomName + userInfoSuffix }
func pendingSaveKey(roomName string) string { return roomName + actionsToRemoveSfx }
