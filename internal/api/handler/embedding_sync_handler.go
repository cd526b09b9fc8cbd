package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	embedsync "talent-search-go/internal/sync"
	"talent-search-go/internal/types"
)

// SyncRunner 嵌入同步编排能力
type SyncRunner interface {
	Sync(ctx context.Context, userID string, force bool) (*types.SyncSummary, error)
	GetStats(ctx context.Context) (*embedsync.Stats, error)
}

// EmbeddingSyncHandler 负责处理嵌入同步相关的管理请求。
type EmbeddingSyncHandler struct {
	svc    SyncRunner
	logger *log.Logger
}

// NewEmbeddingSyncHandler 创建一个新的 EmbeddingSyncHandler 实例。
func NewEmbeddingSyncHandler(svc SyncRunner) *EmbeddingSyncHandler {
	return &EmbeddingSyncHandler{
		svc:    svc,
		logger: log.New(os.Stdout, "[EmbeddingSyncHandler] ", log.LstdFlags|log.Lshortfile),
	}
}

// generateRequest 同步请求体, 字段均可选
type generateRequest struct {
	UserID         string `json:"userId"`
	ForceReprocess bool   `json:"forceReprocess"`
}

// HandleGenerateEmbeddings 触发嵌入同步并同步返回汇总。
// POST /api/v1/admin/generate-embeddings
func (h *EmbeddingSyncHandler) HandleGenerateEmbeddings(ctx context.Context, c *app.RequestContext) {
	var req generateRequest
	if body := c.Request.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(consts.StatusBadRequest, map[string]string{"error": "请求体格式错误"})
			return
		}
	}

	h.logger.Printf("开始嵌入同步, userId=%q force=%v", req.UserID, req.ForceReprocess)

	summary, err := h.svc.Sync(ctx, req.UserID, req.ForceReprocess)
	if err != nil {
		if errors.Is(err, embedsync.ErrSyncInProgress) {
			c.JSON(consts.StatusConflict, map[string]interface{}{
				"error":       "同步任务正在进行中, 请稍后再试",
				"retry_after": 5,
			})
			return
		}
		h.logger.Printf("嵌入同步失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]interface{}{
		"summary": map[string]int{
			"total":     summary.Total,
			"processed": summary.Processed,
			"skipped":   summary.Skipped,
			"errors":    summary.Errors,
		},
	}
	if len(summary.ErrorDetails) > 0 {
		resp["errorDetails"] = summary.ErrorDetails
	}

	c.JSON(consts.StatusOK, resp)
}

// HandleEmbeddingStats 返回嵌入处理统计。
// GET /api/v1/admin/embedding-stats
func (h *EmbeddingSyncHandler) HandleEmbeddingStats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.svc.GetStats(ctx)
	if err != nil {
		h.logger.Printf("获取嵌入统计失败: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": "获取统计失败"})
		return
	}

	c.JSON(consts.StatusOK, stats)
}
