package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
)

// ErrDimensionMismatch 模型返回的向量维度与配置不一致
var ErrDimensionMismatch = errors.New("嵌入向量维度不匹配")

// 缓存容量与TTL的兜底默认值
const (
	defaultCacheSize    = 4096
	defaultCacheTTLDays = 7
)

// Generator 在模型客户端之上提供维度校验、L2归一化和
// 内容寻址缓存(SHA-256键, 带TTL的LRU)。模型调用串行化,
// 本地模型服务对并发请求并不友好。
type Generator struct {
	cfg   config.EmbedderConfig
	model embedding.Embedder

	initOnce sync.Once
	initErr  error

	mu    sync.Mutex // 串行化模型调用
	cache *expirable.LRU[string, []float64]
}

// NewGenerator 创建嵌入生成器。model 为 nil 时首次调用会按配置
// 懒初始化HTTP模型客户端, 测试可以注入假的 Embedder。
func NewGenerator(cfg config.EmbedderConfig, model embedding.Embedder) *Generator {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttlDays := cfg.CacheTTLDays
	if ttlDays <= 0 {
		ttlDays = defaultCacheTTLDays
	}
	// 维度校验不允许因零值配置而失效
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = constants.EmbeddingDimensions
	}

	return &Generator{
		cfg:   cfg,
		model: model,
		cache: expirable.NewLRU[string, []float64](size, nil, time.Duration(ttlDays)*24*time.Hour),
	}
}

// ensureModel 懒初始化模型客户端, 只执行一次
func (g *Generator) ensureModel() error {
	g.initOnce.Do(func() {
		if g.model != nil {
			return
		}
		client, err := NewModelClient(g.cfg)
		if err != nil {
			g.initErr = fmt.Errorf("初始化嵌入模型客户端失败: %w", err)
			return
		}
		g.model = client
		log.Info().Str("endpoint", g.cfg.Endpoint).Int("dimensions", g.cfg.Dimensions).Msg("嵌入模型客户端已初始化")
	})
	return g.initErr
}

// ContentHash 返回文本的SHA-256十六进制摘要, 即缓存键
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed 为单条文本生成归一化向量。命中缓存时直接返回副本,
// 未命中时调用模型, 校验维度并做L2归一化后写入缓存。
func (g *Generator) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := g.ensureModel(); err != nil {
		return nil, err
	}

	key := ContentHash(text)
	if vec, ok := g.cache.Get(key); ok {
		return copyVector(vec), nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// 加锁后二次检查, 同文本的并发请求只打一次模型
	if vec, ok := g.cache.Get(key); ok {
		return copyVector(vec), nil
	}

	vectors, err := g.model.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("生成嵌入向量失败: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("模型返回向量数量异常: %d", len(vectors))
	}

	vec := vectors[0]
	if len(vec) != g.cfg.Dimensions {
		return nil, fmt.Errorf("%w: 期望%d维, 实际%d维", ErrDimensionMismatch, g.cfg.Dimensions, len(vec))
	}

	normalize(vec)
	g.cache.Add(key, vec)

	return copyVector(vec), nil
}

// EmbedBatch 严格按顺序逐条生成向量, 每完成一条回调一次进度。
// 任何一条失败都立即中止并返回该错误。
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, onProgress func(done, total int)) ([][]float64, error) {
	result := make([][]float64, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := g.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("第%d条文本嵌入失败: %w", i+1, err)
		}
		result = append(result, vec)
		if onProgress != nil {
			onProgress(i+1, len(texts))
		}
	}
	return result, nil
}

// CacheLen 返回缓存中当前的条目数
func (g *Generator) CacheLen() int {
	return g.cache.Len()
}

// normalize 原地做L2归一化, 零向量保持原样
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

func copyVector(vec []float64) []float64 {
	out := make([]float64, len(vec))
	copy(out, vec)
	return out
}
