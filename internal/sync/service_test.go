package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
	"talent-search-go/internal/gate"
	"talent-search-go/internal/storage"
	"talent-search-go/internal/storage/models"
	"talent-search-go/pkg/ratelimit"
)

type fakeStore struct {
	profiles []models.CandidateProfile
	exps     map[string][]models.WorkExperience
	records  map[string]*models.CandidateEmbeddingRecord
	upserts  int
}

func (f *fakeStore) GetCandidateProfile(_ context.Context, userID string) (*models.CandidateProfile, error) {
	for i := range f.profiles {
		if f.profiles[i].UserID == userID {
			return &f.profiles[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListCandidateProfiles(_ context.Context, offset, limit int) ([]models.CandidateProfile, error) {
	if offset >= len(f.profiles) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.profiles) {
		end = len(f.profiles)
	}
	return f.profiles[offset:end], nil
}

func (f *fakeStore) GetWorkExperiences(_ context.Context, userID string) ([]models.WorkExperience, error) {
	return f.exps[userID], nil
}

func (f *fakeStore) UpsertEmbeddingRecord(_ context.Context, record *models.CandidateEmbeddingRecord) error {
	if f.records == nil {
		f.records = map[string]*models.CandidateEmbeddingRecord{}
	}
	f.records[record.UserID] = record
	f.upserts++
	return nil
}

func (f *fakeStore) CountCandidateProfiles(_ context.Context) (int64, error) {
	return int64(len(f.profiles)), nil
}

func (f *fakeStore) CountEmbeddingRecords(_ context.Context) (int64, error) {
	return int64(len(f.records)), nil
}

func (f *fakeStore) LatestProcessedAt(_ context.Context) (time.Time, error) {
	var latest time.Time
	for _, r := range f.records {
		if r.LastProcessedAt.After(latest) {
			latest = r.LastProcessedAt
		}
	}
	return latest, nil
}

// 闸门直接读fakeStore的记录表
func (f *fakeStore) GetEmbeddingRecord(_ context.Context, userID string) (*models.CandidateEmbeddingRecord, error) {
	return f.records[userID], nil
}

type fakeVectors struct {
	upserts   map[string]int
	failUsers map[string]bool
	deleted   []string
	points    int64
}

func (f *fakeVectors) UpsertCandidateVectors(_ context.Context, userID string, _, _ []float64, _ map[string]interface{}) (string, error) {
	if f.failUsers[userID] {
		return "", errors.New("qdrant unavailable")
	}
	if f.upserts == nil {
		f.upserts = map[string]int{}
	}
	f.upserts[userID]++
	f.points++
	return storage.PointIDForUser(userID), nil
}

func (f *fakeVectors) SearchCandidates(_ context.Context, _ string, _ []float64, _ int, _ map[string]interface{}) ([]storage.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteCandidatePoint(_ context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeVectors) CountPoints(_ context.Context) (int64, error) { return f.points, nil }

type fakeEmbedder struct {
	mu        stdsync.Mutex
	calls     int
	failFirst int // 前N次调用模拟瞬时故障
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("read tcp: connection reset by peer")
	}
	vec := make([]float64, 384)
	vec[0] = 1
	return vec, nil
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (string, error) {
	if f.held {
		return "", nil
	}
	f.acquired++
	f.held = true
	return "lock-value", nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, _ string, _ string) (bool, error) {
	f.released++
	f.held = false
	return true, nil
}

func makeProfiles(n int) []models.CandidateProfile {
	profiles := make([]models.CandidateProfile, 0, n)
	for i := 0; i < n; i++ {
		profiles = append(profiles, models.CandidateProfile{
			UserID:          fmt.Sprintf("user-%d", i+1),
			Name:            fmt.Sprintf("Candidate %d", i+1),
			Email:           fmt.Sprintf("c%d@example.com", i+1),
			CoreField:       "Civil",
			Expertise:       "Structural analysis",
			ExperienceYears: 5,
			Location:        "Chennai",
		})
	}
	return profiles
}

func newTestService(store *fakeStore, vectors *fakeVectors, emb Embedder, locker Locker) *Service {
	return NewService(store, vectors, emb, gate.NewGate(store), locker, nil,
		config.SyncConfig{BatchPageSize: 2}, "all-MiniLM-L6-v2")
}

// TestSyncFullRun 全量同步处理所有候选人并落库
func TestSyncFullRun(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(5)}
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	summary, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 5, store.upserts, "每个候选人都应写入嵌入记录")
	assert.Equal(t, 10, emb.calls, "每个候选人生成两个向量")
}

// TestSyncFailureIsolation 单个候选人失败不影响其余
func TestSyncFailureIsolation(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(5)}
	vectors := &fakeVectors{failUsers: map[string]bool{"user-2": true}}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	summary, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.ErrorDetails, 1)
	assert.Equal(t, "user-2", summary.ErrorDetails[0].UserID)
	// 错误详情里的邮箱做了掩码
	assert.NotEqual(t, "c2@example.com", summary.ErrorDetails[0].Email)
	// 失败的候选人不应留下嵌入记录
	_, ok := store.records["user-2"]
	assert.False(t, ok)
}

// TestSyncSkipsUnchanged 第二次同步时未变化的候选人被闸门跳过
func TestSyncSkipsUnchanged(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(3)}
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	callsAfterFirst := emb.calls

	summary, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, callsAfterFirst, emb.calls, "跳过的候选人不应再调用模型")
}

// TestSyncForceReprocesses force绕过闸门全部重嵌入
func TestSyncForceReprocesses(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(2)}
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	summary, err := svc.Sync(context.Background(), "", true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
}

// TestSyncSingleCandidate 指定userID只处理单个候选人
func TestSyncSingleCandidate(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(3)}
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	summary, err := svc.Sync(context.Background(), "user-2", false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, vectors.upserts["user-2"])

	// 不存在的候选人报错
	_, err = svc.Sync(context.Background(), "user-99", false)
	assert.Error(t, err)
}

// TestSyncLockContention 锁被占用时返回ErrSyncInProgress
func TestSyncLockContention(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(1)}
	locker := &fakeLocker{held: true}

	svc := newTestService(store, &fakeVectors{}, &fakeEmbedder{}, locker)
	_, err := svc.Sync(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

// TestSyncReleasesLock 同步结束后释放锁
func TestSyncReleasesLock(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(1)}
	locker := &fakeLocker{}

	svc := newTestService(store, &fakeVectors{}, &fakeEmbedder{}, locker)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
	assert.False(t, locker.held)
}

// TestSyncPersistsMaskedSnapshot 嵌入记录携带脱敏后的文本快照, 原始PII不落盘
func TestSyncPersistsMaskedSnapshot(t *testing.T) {
	profiles := makeProfiles(1)
	profiles[0].Expertise = "Structural analysis, contact priya.k@example.com or 9876543210"
	store := &fakeStore{profiles: profiles}

	svc := newTestService(store, &fakeVectors{}, &fakeEmbedder{}, nil)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	record, ok := store.records["user-1"]
	require.True(t, ok)
	assert.Contains(t, record.MaskedFullText, constants.PlaceholderEmail)
	assert.Contains(t, record.MaskedFullText, constants.PlaceholderPhone)
	assert.NotContains(t, record.MaskedFullText, "priya.k@example.com")
	assert.Contains(t, record.MaskedSkillsText, constants.PlaceholderEmail, "技能视图同样脱敏")
	assert.NotContains(t, record.MaskedSkillsText, "9876543210")
}

// TestSyncRejectsProfileWithoutUserID 缺少UserID的档案计入错误而非静默处理
func TestSyncRejectsProfileWithoutUserID(t *testing.T) {
	profiles := makeProfiles(2)
	profiles[1].UserID = ""
	store := &fakeStore{profiles: profiles}

	svc := newTestService(store, &fakeVectors{}, &fakeEmbedder{}, nil)
	summary, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.ErrorDetails, 1)
	assert.Contains(t, summary.ErrorDetails[0].Error, "UserID")
}

// TestSyncCleansStalePointForMissingCandidate 档案已删除时清理残留向量点
func TestSyncCleansStalePointForMissingCandidate(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(1)}
	vectors := &fakeVectors{}

	svc := newTestService(store, vectors, &fakeEmbedder{}, nil)
	_, err := svc.Sync(context.Background(), "user-99", false)
	require.Error(t, err)
	assert.Equal(t, []string{"user-99"}, vectors.deleted, "缺失候选人的向量点应被删除")
}

// TestSyncReprocessesOnModelVersionChange 换模型后即使checksum不变也重嵌入
func TestSyncReprocessesOnModelVersionChange(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(2)}
	vectors := &fakeVectors{}

	svc := newTestService(store, vectors, &fakeEmbedder{}, nil)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	svcV2 := NewService(store, vectors, &fakeEmbedder{}, gate.NewGate(store), nil, nil,
		config.SyncConfig{BatchPageSize: 2}, "bge-small-en-v1.5")
	summary, err := svcV2.Sync(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
}

// TestSyncRetriesTransientEmbedderFailure 瞬时模型故障按退避策略重试后成功
func TestSyncRetriesTransientEmbedderFailure(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(1)}
	emb := &fakeEmbedder{failFirst: 1}
	limiter := ratelimit.NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)

	svc := NewService(store, &fakeVectors{}, emb, gate.NewGate(store), nil, limiter,
		config.SyncConfig{BatchPageSize: 2}, "all-MiniLM-L6-v2")
	summary, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 3, emb.calls, "一次失败加两次成功")
}

// TestGetStats 统计汇总
func TestGetStats(t *testing.T) {
	store := &fakeStore{profiles: makeProfiles(4)}
	vectors := &fakeVectors{}
	emb := &fakeEmbedder{}

	svc := newTestService(store, vectors, emb, nil)
	_, err := svc.Sync(context.Background(), "", false)
	require.NoError(t, err)

	stats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalCandidates)
	assert.Equal(t, int64(4), stats.ProcessedCandidates)
	assert.Equal(t, int64(4), stats.VectorPoints)
	assert.False(t, stats.LastProcessedAt.IsZero())
}
