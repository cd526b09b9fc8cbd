package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
	"talent-search-go/internal/embedder"
	"talent-search-go/internal/masker"
	"talent-search-go/internal/storage"
	"talent-search-go/internal/storage/models"
	"talent-search-go/internal/types"
)

// QueryEmbedder 查询文本的向量生成能力
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ProfileDetailStore 搜索结果展示字段的批量读取能力
type ProfileDetailStore interface {
	GetCandidateProfilesByIDs(ctx context.Context, userIDs []string) ([]models.CandidateProfile, error)
}

// SearchCache 搜索会话结果集缓存, 由Redis ZSET+HASH实现
type SearchCache interface {
	CacheSearchResults(ctx context.Context, queryHash string, results []types.SearchResult, ttl time.Duration) error
	GetCachedSearchResults(ctx context.Context, queryHash string, cursor, limit int64) ([]string, map[string]float32, int64, error)
}

// CandidateSearchHandler 负责处理候选人语义搜索请求。
type CandidateSearchHandler struct {
	cfg      *config.Config
	embedder QueryEmbedder
	vectors  storage.VectorDatabase
	profiles ProfileDetailStore
	cache    SearchCache
	logger   *log.Logger
}

// NewCandidateSearchHandler 创建一个新的 CandidateSearchHandler 实例。
// cache为nil时每页请求都走完整检索。
func NewCandidateSearchHandler(cfg *config.Config, emb QueryEmbedder, vectors storage.VectorDatabase, profiles ProfileDetailStore, cache SearchCache) *CandidateSearchHandler {
	return &CandidateSearchHandler{
		cfg:      cfg,
		embedder: emb,
		vectors:  vectors,
		profiles: profiles,
		cache:    cache,
		logger:   log.New(os.Stdout, "[CandidateSearchHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// searchRequest 搜索请求体
type searchRequest struct {
	Query     string              `json:"query"`
	Filters   types.SearchFilters `json:"filters"`
	UseHybrid bool                `json:"useHybrid"`
	Vector    string              `json:"vector"` // "profile"(默认) 或 "skills"
	Limit     int                 `json:"limit"`
	Cursor    int                 `json:"cursor"`
}

// HandleSearchCandidates 处理候选人搜索请求。
// POST /api/v1/admin/search-candidates
func (h *CandidateSearchHandler) HandleSearchCandidates(ctx context.Context, c *app.RequestContext) {
	var req searchRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体格式错误"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": "query 不能为空"})
		return
	}

	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Cursor < 0 {
		req.Cursor = 0
	}
	vectorName := req.Vector
	if vectorName == "" {
		vectorName = constants.VectorNameProfile
	}
	if vectorName != constants.VectorNameProfile && vectorName != constants.VectorNameSkills {
		c.JSON(consts.StatusBadRequest, map[string]string{"error": fmt.Sprintf("未知的vector取值: %s", vectorName)})
		return
	}

	queryHash := h.queryHash(vectorName, req.Query, req.UseHybrid, req.Filters)

	// 1. 检查搜索会话缓存, 翻页请求不再重复嵌入和检索
	if h.cache != nil {
		cachedIDs, cachedScores, totalCount, err := h.cache.GetCachedSearchResults(ctx, queryHash, int64(req.Cursor), int64(req.Limit))
		if err == nil && len(cachedIDs) > 0 {
			h.logger.Printf("缓存命中 for queryHash: %s, 返回 %d 个候选人", queryHash, len(cachedIDs))
			results, dbErr := h.attachDisplayFields(ctx, cachedIDs, cachedScores, req.Cursor)
			if dbErr != nil {
				h.logger.Printf("查询候选人详情失败: %v", dbErr)
				c.JSON(consts.StatusInternalServerError, map[string]string{"error": "获取候选人详情失败"})
				return
			}
			c.JSON(consts.StatusOK, map[string]interface{}{
				"message":     "搜索成功 (来自缓存)",
				"results":     results,
				"total_count": totalCount,
				"next_cursor": req.Cursor + len(results),
			})
			return
		}
	}

	// 2. 缓存未命中, 执行完整检索流程
	ranked, err := h.executeSearchPipeline(ctx, vectorName, req.Query, req.Filters, req.UseHybrid)
	if err != nil {
		h.logger.Printf("搜索流程失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "执行搜索失败"})
		return
	}

	if len(ranked) == 0 {
		c.JSON(consts.StatusOK, map[string]interface{}{
			"message":     "没有找到匹配的候选人",
			"results":     []types.SearchResult{},
			"total_count": 0,
			"next_cursor": req.Cursor,
		})
		return
	}

	// 3. 结果集写入会话缓存
	if h.cache != nil {
		ttl := config.GetDuration(h.cfg.Sync.SessionCacheTTL, 30*time.Minute)
		if err := h.cache.CacheSearchResults(ctx, queryHash, ranked, ttl); err != nil {
			// 只记录日志, 不阻塞主流程
			h.logger.Printf("缓存搜索结果失败 for queryHash %s: %v", queryHash, err)
		}
	}

	// 4. 取当前页
	start := req.Cursor
	if start > len(ranked) {
		start = len(ranked)
	}
	end := start + req.Limit
	if end > len(ranked) {
		end = len(ranked)
	}
	page := ranked[start:end]

	c.JSON(consts.StatusOK, map[string]interface{}{
		"message":     "搜索成功",
		"results":     page,
		"total_count": len(ranked),
		"next_cursor": req.Cursor + len(page),
	})
}

// executeSearchPipeline 完整检索流程: 查询脱敏→嵌入→向量召回→
// 硬过滤→排序→补全展示字段
func (h *CandidateSearchHandler) executeSearchPipeline(ctx context.Context, vectorName, query string, filters types.SearchFilters, useHybrid bool) ([]types.SearchResult, error) {
	startTime := time.Now()

	// 查询和档案走同一条脱敏路径, 保持向量空间对称
	maskedQuery, _ := masker.Mask(query)

	queryVector, err := h.embedder.Embed(ctx, maskedQuery)
	if err != nil {
		return nil, fmt.Errorf("生成查询向量失败: %w", err)
	}

	recallLimit := h.cfg.Qdrant.DefaultSearchLimit
	if recallLimit <= 0 {
		recallLimit = 200
	}

	// coreField和最低经验月数下推到Qdrant payload过滤,
	// location是子串匹配, Qdrant不支持, 召回后本地过滤
	var filter map[string]interface{}
	if useHybrid {
		filter = buildPayloadFilter(filters)
	}

	recalled, err := h.vectors.SearchCandidates(ctx, vectorName, queryVector, recallLimit, filter)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	h.logger.Printf("Qdrant召回 %d 个初步结果", len(recalled))

	type scoredCandidate struct {
		userID string
		score  float32
	}
	candidates := make([]scoredCandidate, 0, len(recalled))
	for _, res := range recalled {
		userID, _ := res.Payload["user_id"].(string)
		if userID == "" {
			continue
		}
		if useHybrid && filters.Location != "" {
			location, _ := res.Payload["location"].(string)
			if !strings.Contains(strings.ToLower(location), strings.ToLower(filters.Location)) {
				continue
			}
		}
		candidates = append(candidates, scoredCandidate{userID: userID, score: res.Score})
	}

	// 相似度降序, 同分按user_id升序保证确定性
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].userID < candidates[j].userID
	})

	userIDs := make([]string, 0, len(candidates))
	scores := make(map[string]float32, len(candidates))
	for _, cand := range candidates {
		userIDs = append(userIDs, cand.userID)
		scores[cand.userID] = cand.score
	}

	results, err := h.attachDisplayFields(ctx, userIDs, scores, 0)
	if err != nil {
		return nil, err
	}

	h.logger.Printf("检索流程结束, 耗时: %v, 返回 %d 个结果", time.Since(startTime), len(results))
	return results, nil
}

// buildPayloadFilter 把结构化过滤条件翻译成Qdrant filter
func buildPayloadFilter(filters types.SearchFilters) map[string]interface{} {
	var must []map[string]interface{}

	if filters.CoreField != "" {
		must = append(must, map[string]interface{}{
			"key":   "core_field",
			"match": map[string]interface{}{"value": filters.CoreField},
		})
	}
	if filters.MinExperienceMonths > 0 {
		must = append(must, map[string]interface{}{
			"key":   "experience_months",
			"range": map[string]interface{}{"gte": filters.MinExperienceMonths},
		})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

// attachDisplayFields 按排好序的userID列表补全展示字段并编排名次。
// scores缺失的userID保持零分(分数HASH过期早于排名ZSET时的兜底)。
func (h *CandidateSearchHandler) attachDisplayFields(ctx context.Context, userIDs []string, scores map[string]float32, rankOffset int) ([]types.SearchResult, error) {
	if len(userIDs) == 0 {
		return []types.SearchResult{}, nil
	}

	profiles, err := h.profiles.GetCandidateProfilesByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("批量查询候选人档案失败: %w", err)
	}

	byID := make(map[string]*models.CandidateProfile, len(profiles))
	for i := range profiles {
		byID[profiles[i].UserID] = &profiles[i]
	}

	results := make([]types.SearchResult, 0, len(userIDs))
	for i, userID := range userIDs {
		profile, ok := byID[userID]
		if !ok {
			// 向量库里有但MySQL已删除的候选人, 跳过
			h.logger.Printf("候选人 %s 在档案表中不存在, 已跳过", userID)
			continue
		}
		p := profile.ToType()
		results = append(results, types.SearchResult{
			UserID:           p.UserID,
			Name:             p.Name,
			Email:            p.Email,
			Position:         p.Position,
			CoreField:        p.CoreField,
			ExperienceMonths: types.TotalExperienceMonths(p),
			Location:         p.Location,
			ResumeURL:        p.ResumeURL,
			Score:            scores[userID],
			Rank:             rankOffset + i + 1,
		})
	}

	return results, nil
}

// queryHash 查询的内容寻址键, 覆盖所有影响结果集的请求维度
func (h *CandidateSearchHandler) queryHash(vectorName, query string, useHybrid bool, filters types.SearchFilters) string {
	canonical := fmt.Sprintf("%s|%s|%t|%s|%d|%s",
		vectorName, query, useHybrid, filters.CoreField, filters.MinExperienceMonths, filters.Location)
	return embedder.ContentHash(canonical)
}
