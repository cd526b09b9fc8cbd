package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	// Embedder 嵌入模型服务配置
	Embedder EmbedderConfig `yaml:"embedder"`

	// Qdrant 向量数据库配置
	Qdrant QdrantConfig `yaml:"qdrant"`

	// MySQL 关系库配置（候选人档案、工作经历、嵌入记录）
	MySQL MySQLConfig `yaml:"mysql"`

	// Redis 缓存/锁配置
	Redis RedisConfig `yaml:"redis"`

	// Auth 外部会话校验服务配置
	Auth AuthConfig `yaml:"auth"`

	// Sync 嵌入同步批处理配置
	Sync SyncConfig `yaml:"sync"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server"`

	// Logger 日志配置
	Logger LoggerConfig `yaml:"logger"`
}

// EmbedderConfig 嵌入模型服务配置。
// 模型进程内惰性加载一次，所有调用共享同一实例。
type EmbedderConfig struct {
	Endpoint       string `yaml:"endpoint"`        // 本地embedding服务地址
	Model          string `yaml:"model"`           // 模型名，例如 all-MiniLM-L6-v2
	Dimensions     int    `yaml:"dimensions"`      // 向量维度，本系统固定384
	TimeoutSeconds int    `yaml:"timeout_seconds"` // HTTP超时(秒)
	CacheSize      int    `yaml:"cache_size"`      // 内容寻址缓存容量上限
	CacheTTLDays   int    `yaml:"cache_ttl_days"`  // 缓存条目有效期(天)
	QPM            int    `yaml:"qpm"`             // 每分钟请求数限制
}

// QdrantConfig Qdrant向量数据库配置
type QdrantConfig struct {
	Endpoint           string `yaml:"endpoint"`             // Qdrant HTTP 服务地址
	Collection         string `yaml:"collection"`           // 集合名称
	Dimension          int    `yaml:"dimension"`            // 向量维度
	APIKey             string `yaml:"api_key,omitempty"`    // (可选) Qdrant API Key
	DefaultSearchLimit int    `yaml:"default_search_limit"` // 默认搜索结果数量
}

// MySQLConfig MySQL配置结构
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// 连接池设置
	MaxIdleConns int `yaml:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int `yaml:"max_open_conns"` // 最大打开连接数
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
	// 超时设置
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"` // 连接超时(秒)
	ReadTimeoutSeconds    int `yaml:"read_timeout_seconds"`    // 读取超时(秒)
	WriteTimeoutSeconds   int `yaml:"write_timeout_seconds"`   // 写入超时(秒)
	// 日志设置
	LogLevel int `yaml:"log_level"` // 日志级别(1-4)
}

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`  // 连接超时(秒)
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`  // 读取超时(秒)
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"` // 写入超时(秒)
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`          // 最大重试次数
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"` // 最小重试间隔(毫秒)
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"` // 最大重试间隔(毫秒)
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
}

// AuthConfig 外部会话校验服务配置。
// 管理接口的Bearer token交由该服务校验，校验结论短期缓存于Redis。
type AuthConfig struct {
	VerifyURL          string `yaml:"verify_url"`           // 外部校验服务地址
	TimeoutSeconds     int    `yaml:"timeout_seconds"`      // 校验请求超时(秒)
	VerdictTTLSeconds  int    `yaml:"verdict_ttl_seconds"`  // 校验结论缓存时长(秒)
	DisableVerdictRead bool   `yaml:"disable_verdict_read"` // 调试用：跳过缓存直连校验服务
}

// SyncConfig 嵌入同步批处理配置
type SyncConfig struct {
	LockTTL         string `yaml:"lock_ttl"`          // 同步分布式锁过期时间，例如 "10m"
	SessionCacheTTL string `yaml:"session_cache_ttl"` // 搜索结果集缓存时长，例如 "30m"
	BatchPageSize   int    `yaml:"batch_page_size"`   // 每次从MySQL取出的候选人数量
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address string `yaml:"address"` // 例如 ":8080" or "0.0.0.0:8080"
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件路径，则尝试在默认位置查找
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".talent-search", "config.yaml"),
		}

		// 获取当前可执行文件路径
		execPath, err := os.Executable()
		if err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
			searchPaths = append(searchPaths, filepath.Join(execDir, "..", "config.yaml"))
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 如果仍找不到配置文件：测试环境下返回默认配置，否则退回默认路径
		if configPath == "" {
			if inTestEnv() {
				return createDefaultConfig(), nil
			}
			configPath = "config.yaml"
		}
	}

	// 检查文件是否存在
	if _, err := os.Stat(configPath); err != nil {
		if inTestEnv() {
			return createDefaultConfig(), nil
		}
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置文件
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 从环境变量覆盖配置（如果存在）
	if env := os.Getenv("EMBEDDER_ENDPOINT"); env != "" {
		config.Embedder.Endpoint = env
	}
	if env := os.Getenv("AUTH_VERIFY_URL"); env != "" {
		config.Auth.VerifyURL = env
	}
	if env := os.Getenv("QDRANT_ENDPOINT"); env != "" {
		config.Qdrant.Endpoint = env
	}

	applyDefaults(&config)
	return &config, nil
}

// inTestEnv 通过进程参数粗略判断是否在go test环境中
func inTestEnv() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, "test") {
			return true
		}
	}
	return false
}

// applyDefaults 填补未配置项的默认值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "all-MiniLM-L6-v2"
	}
	if config.Embedder.Dimensions == 0 {
		config.Embedder.Dimensions = 384
	}
	if config.Embedder.TimeoutSeconds == 0 {
		config.Embedder.TimeoutSeconds = 30
	}
	if config.Embedder.CacheSize == 0 {
		config.Embedder.CacheSize = 4096
	}
	if config.Embedder.CacheTTLDays == 0 {
		config.Embedder.CacheTTLDays = 7
	}
	if config.Embedder.QPM == 0 {
		config.Embedder.QPM = 120
	}
	if config.Qdrant.Dimension == 0 {
		config.Qdrant.Dimension = config.Embedder.Dimensions
	}
	if config.Qdrant.DefaultSearchLimit == 0 {
		config.Qdrant.DefaultSearchLimit = 20
	}
	if config.Sync.LockTTL == "" {
		config.Sync.LockTTL = "10m"
	}
	if config.Sync.SessionCacheTTL == "" {
		config.Sync.SessionCacheTTL = "30m"
	}
	if config.Sync.BatchPageSize == 0 {
		config.Sync.BatchPageSize = 200
	}
	if config.Auth.TimeoutSeconds == 0 {
		config.Auth.TimeoutSeconds = 5
	}
	if config.Auth.VerdictTTLSeconds == 0 {
		config.Auth.VerdictTTLSeconds = 60
	}
}

// 创建一个默认配置，用于测试环境
func createDefaultConfig() *Config {
	config := &Config{}

	// Embedder默认配置
	config.Embedder.Endpoint = "http://localhost:8501/embed"
	config.Embedder.Model = "all-MiniLM-L6-v2"
	config.Embedder.Dimensions = 384
	config.Embedder.TimeoutSeconds = 30
	config.Embedder.CacheSize = 4096
	config.Embedder.CacheTTLDays = 7
	config.Embedder.QPM = 120

	// Qdrant默认配置
	config.Qdrant.Endpoint = "http://localhost:6333"
	config.Qdrant.Collection = "candidate_embeddings"
	config.Qdrant.Dimension = 384
	config.Qdrant.DefaultSearchLimit = 20

	// MySQL默认配置
	config.MySQL.Host = "localhost"
	config.MySQL.Port = 3306
	config.MySQL.Username = "root"
	config.MySQL.Password = "password"
	config.MySQL.Database = "talent_search"
	config.MySQL.MaxIdleConns = 10
	config.MySQL.MaxOpenConns = 100
	config.MySQL.ConnMaxLifetimeMinutes = 60
	config.MySQL.ConnMaxIdleTimeMinutes = 30
	config.MySQL.ConnectTimeoutSeconds = 10
	config.MySQL.ReadTimeoutSeconds = 30
	config.MySQL.WriteTimeoutSeconds = 30
	config.MySQL.LogLevel = 4 // Info级别

	// Redis默认配置
	config.Redis.Address = "localhost:6379"
	config.Redis.Password = ""
	config.Redis.DB = 0
	config.Redis.PoolSize = 10
	config.Redis.MinIdleConns = 2
	config.Redis.DialTimeoutSeconds = 5
	config.Redis.ReadTimeoutSeconds = 3
	config.Redis.WriteTimeoutSeconds = 3
	config.Redis.MaxRetries = 3
	config.Redis.MinRetryBackoffMS = 8
	config.Redis.MaxRetryBackoffMS = 512
	config.Redis.ConnMaxLifetimeMinutes = 60
	config.Redis.ConnMaxIdleTimeMinutes = 30

	// Auth默认配置
	config.Auth.VerifyURL = "http://localhost:9100/session/verify"
	config.Auth.TimeoutSeconds = 5
	config.Auth.VerdictTTLSeconds = 60

	// Sync默认配置
	config.Sync.LockTTL = "10m"
	config.Sync.SessionCacheTTL = "30m"
	config.Sync.BatchPageSize = 200

	// 日志默认配置
	config.Logger.Level = "info"
	config.Logger.Format = "pretty" // 开发环境默认使用美化输出
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	config.Server.Address = ":8080"

	return config
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	// 检查文件是否已存在
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	config := createDefaultConfig()

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}

	fmt.Printf("示例配置文件已创建: %s\n", filePath)
	return nil
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
