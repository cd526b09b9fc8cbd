package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// SearchModulePrefix 搜索模块
	SearchModulePrefix = "search"
	// SyncModulePrefix 嵌入同步模块
	SyncModulePrefix = "sync"
	// AuthModulePrefix 认证模块
	AuthModulePrefix = "auth"

	// EntitySession 搜索会话实体
	EntitySession = "session"
	// EntityScores 搜索会话相似度分数实体
	EntityScores = "scores"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityVerdict 认证结论实体
	EntityVerdict = "verdict"

	// KeySearchSession 搜索会话缓存 (ZSET)
	// 格式: app:search:session:{queryHash}
	KeySearchSession = AppPrefix + ":" + SearchModulePrefix + ":" + EntitySession + ":%s"

	// KeySearchScores 搜索会话的userID→相似度分数映射 (HASH)。
	// ZSET里存的是倒序排名, 不能兼职存相似度: 相似度同分时
	// ZSET会按member字典序重排, 破坏确定性的平局次序
	// 格式: app:search:scores:{queryHash}
	KeySearchScores = AppPrefix + ":" + SearchModulePrefix + ":" + EntityScores + ":%s"

	// KeySyncLock 嵌入同步分布式锁 (STRING)
	// 格式: app:sync:lock:{scope}，scope为"all"或单个userID
	KeySyncLock = AppPrefix + ":" + SyncModulePrefix + ":" + EntityLock + ":%s"

	// KeyAuthVerdict 外部会话校验结论缓存 (STRING)
	// 格式: app:auth:verdict:{tokenHash}
	KeyAuthVerdict = AppPrefix + ":" + AuthModulePrefix + ":" + EntityVerdict + ":%s"
)
