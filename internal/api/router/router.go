package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"talent-search-go/internal/api/handler"
)

// RegisterRoutes 注册 API 路由。管理接口统一挂认证中间件。
func RegisterRoutes(h *server.Hertz, auth app.HandlerFunc, syncHandler *handler.EmbeddingSyncHandler, searchHandler *handler.CandidateSearchHandler) {
	api := h.Group("/api/v1")

	// 健康检查不需要认证
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	admin := api.Group("/admin")
	if auth != nil {
		admin.Use(auth)
	}

	admin.POST("/generate-embeddings", syncHandler.HandleGenerateEmbeddings)
	admin.GET("/embedding-stats", syncHandler.HandleEmbeddingStats)
	admin.POST("/search-candidates", searchHandler.HandleSearchCandidates)
}
