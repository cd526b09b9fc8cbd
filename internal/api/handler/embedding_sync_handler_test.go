package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedsync "talent-search-go/internal/sync"
	"talent-search-go/internal/types"
)

type fakeSyncRunner struct {
	summary    *types.SyncSummary
	syncErr    error
	stats      *embedsync.Stats
	statsErr   error
	lastUserID string
	lastForce  bool
}

func (f *fakeSyncRunner) Sync(_ context.Context, userID string, force bool) (*types.SyncSummary, error) {
	f.lastUserID = userID
	f.lastForce = force
	return f.summary, f.syncErr
}

func (f *fakeSyncRunner) GetStats(_ context.Context) (*embedsync.Stats, error) {
	return f.stats, f.statsErr
}

// TestGenerateEmbeddingsSuccess 全量同步成功返回汇总
func TestGenerateEmbeddingsSuccess(t *testing.T) {
	runner := &fakeSyncRunner{summary: &types.SyncSummary{Total: 10, Processed: 7, Skipped: 3}}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleGenerateEmbeddings(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var resp struct {
		Summary map[string]int `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.Equal(t, 10, resp.Summary["total"])
	assert.Equal(t, 7, resp.Summary["processed"])
	assert.Equal(t, 3, resp.Summary["skipped"])
	assert.Equal(t, 0, resp.Summary["errors"])

	// 空请求体 = 全量、非强制
	assert.Empty(t, runner.lastUserID)
	assert.False(t, runner.lastForce)
}

// TestGenerateEmbeddingsSingleCandidate 请求体携带userId和forceReprocess
func TestGenerateEmbeddingsSingleCandidate(t *testing.T) {
	runner := &fakeSyncRunner{summary: &types.SyncSummary{Total: 1, Processed: 1}}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	c.Request.SetBody([]byte(`{"userId":"user-9","forceReprocess":true}`))
	h.HandleGenerateEmbeddings(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())
	assert.Equal(t, "user-9", runner.lastUserID)
	assert.True(t, runner.lastForce)
}

// TestGenerateEmbeddingsBadBody 非法JSON返回400
func TestGenerateEmbeddingsBadBody(t *testing.T) {
	h := NewEmbeddingSyncHandler(&fakeSyncRunner{})

	c := app.NewContext(16)
	c.Request.SetBody([]byte(`{not json`))
	h.HandleGenerateEmbeddings(context.Background(), c)

	assert.Equal(t, consts.StatusBadRequest, c.Response.StatusCode())
}

// TestGenerateEmbeddingsConflict 同步已在进行中返回409
func TestGenerateEmbeddingsConflict(t *testing.T) {
	runner := &fakeSyncRunner{syncErr: embedsync.ErrSyncInProgress}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleGenerateEmbeddings(context.Background(), c)

	require.Equal(t, consts.StatusConflict, c.Response.StatusCode())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	assert.Contains(t, resp["error"], "正在进行")
	assert.EqualValues(t, 5, resp["retry_after"])
}

// TestGenerateEmbeddingsErrorDetails 部分失败时汇总带errorDetails
func TestGenerateEmbeddingsErrorDetails(t *testing.T) {
	runner := &fakeSyncRunner{summary: &types.SyncSummary{
		Total: 3, Processed: 2, Errors: 1,
		ErrorDetails: []types.SyncErrorDetail{
			{UserID: "user-2", Email: "c***@example.com", Error: "嵌入失败"},
		},
	}}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleGenerateEmbeddings(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var resp struct {
		ErrorDetails []types.SyncErrorDetail `json:"errorDetails"`
	}
	require.NoError(t, json.Unmarshal(c.Response.Body(), &resp))
	require.Len(t, resp.ErrorDetails, 1)
	assert.Equal(t, "user-2", resp.ErrorDetails[0].UserID)
}

// TestGenerateEmbeddingsInternalError 其他同步错误返回500
func TestGenerateEmbeddingsInternalError(t *testing.T) {
	runner := &fakeSyncRunner{syncErr: errors.New("mysql连接失败")}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleGenerateEmbeddings(context.Background(), c)

	assert.Equal(t, consts.StatusInternalServerError, c.Response.StatusCode())
}

// TestEmbeddingStats 返回统计数据
func TestEmbeddingStats(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	runner := &fakeSyncRunner{stats: &embedsync.Stats{
		TotalCandidates:     120,
		ProcessedCandidates: 118,
		VectorPoints:        118,
		LastProcessedAt:     now,
	}}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleEmbeddingStats(context.Background(), c)

	require.Equal(t, consts.StatusOK, c.Response.StatusCode())

	var stats embedsync.Stats
	require.NoError(t, json.Unmarshal(c.Response.Body(), &stats))
	assert.EqualValues(t, 120, stats.TotalCandidates)
	assert.EqualValues(t, 118, stats.ProcessedCandidates)
	assert.EqualValues(t, 118, stats.VectorPoints)
	assert.True(t, stats.LastProcessedAt.Equal(now))
}

// TestEmbeddingStatsError 统计失败返回500
func TestEmbeddingStatsError(t *testing.T) {
	runner := &fakeSyncRunner{statsErr: errors.New("qdrant不可用")}
	h := NewEmbeddingSyncHandler(runner)

	c := app.NewContext(16)
	h.HandleEmbeddingStats(context.Background(), c)

	assert.Equal(t, consts.StatusInternalServerError, c.Response.StatusCode())
}
