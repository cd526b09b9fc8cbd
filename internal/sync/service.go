package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"talent-search-go/internal/config"
	"talent-search-go/internal/embedder"
	"talent-search-go/internal/extractor"
	"talent-search-go/internal/gate"
	"talent-search-go/internal/masker"
	"talent-search-go/internal/storage"
	"talent-search-go/internal/storage/models"
	"talent-search-go/internal/tracing"
	"talent-search-go/internal/types"
	"talent-search-go/pkg/ratelimit"
)

var syncTracer = otel.Tracer("talent-search-go/sync")

// ErrSyncInProgress 已有同步任务持有分布式锁
var ErrSyncInProgress = errors.New("嵌入同步任务正在进行中")

// lockScopeAll 全量同步的锁范围
const lockScopeAll = "all"

// ProfileStore 同步任务需要的MySQL读写能力
type ProfileStore interface {
	GetCandidateProfile(ctx context.Context, userID string) (*models.CandidateProfile, error)
	ListCandidateProfiles(ctx context.Context, offset, limit int) ([]models.CandidateProfile, error)
	GetWorkExperiences(ctx context.Context, userID string) ([]models.WorkExperience, error)
	UpsertEmbeddingRecord(ctx context.Context, record *models.CandidateEmbeddingRecord) error
	CountCandidateProfiles(ctx context.Context) (int64, error)
	CountEmbeddingRecords(ctx context.Context) (int64, error)
	LatestProcessedAt(ctx context.Context) (time.Time, error)
}

// Locker 分布式锁能力, 由Redis实现
type Locker interface {
	AcquireLock(ctx context.Context, scope string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, scope string, lockValue string) (bool, error)
}

// Embedder 向量生成能力
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Service 嵌入同步编排器。把候选人档案+工作经历合并、脱敏、
// 生成双向量并写入Qdrant和MySQL记录表。单个候选人失败不中断整批。
type Service struct {
	store        ProfileStore
	vectors      storage.VectorDatabase
	embedder     Embedder
	gate         *gate.Gate
	locker       Locker
	limiter      *ratelimit.TokenBucket
	cfg          config.SyncConfig
	modelVersion string
}

// NewService 创建同步编排器。locker为nil时不做并发互斥(测试用)。
func NewService(store ProfileStore, vectors storage.VectorDatabase, emb Embedder, g *gate.Gate, locker Locker, limiter *ratelimit.TokenBucket, cfg config.SyncConfig, modelVersion string) *Service {
	return &Service{
		store:        store,
		vectors:      vectors,
		embedder:     emb,
		gate:         g,
		locker:       locker,
		limiter:      limiter,
		cfg:          cfg,
		modelVersion: modelVersion,
	}
}

// Sync 执行嵌入同步。userID非空时只处理单个候选人,
// 否则分页遍历全量档案。force为true时绕过重处理闸门。
func (s *Service) Sync(ctx context.Context, userID string, force bool) (*types.SyncSummary, error) {
	ctx, span := syncTracer.Start(ctx, "Sync.Run")
	defer span.End()

	scope := lockScopeAll
	if userID != "" {
		scope = userID
	}
	span.SetAttributes(
		attribute.String("sync.scope", scope),
		attribute.Bool("sync.force", force),
	)

	// 分布式锁, 防止并发同步互相践踏
	if s.locker != nil {
		lockTTL := config.GetDuration(s.cfg.LockTTL, 30*time.Minute)
		lockValue, err := s.locker.AcquireLock(ctx, scope, lockTTL)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
			return nil, fmt.Errorf("获取同步锁失败: %w", err)
		}
		if lockValue == "" {
			span.SetStatus(codes.Error, ErrSyncInProgress.Error())
			return nil, ErrSyncInProgress
		}
		defer func() {
			if _, err := s.locker.ReleaseLock(context.WithoutCancel(ctx), scope, lockValue); err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("释放同步锁失败")
			}
		}()
	}

	summary := &types.SyncSummary{}

	if userID != "" {
		profile, err := s.store.GetCandidateProfile(ctx, userID)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return nil, err
		}
		if profile == nil {
			// 档案已在门户侧删除, 顺手清掉可能残留的向量点,
			// 避免搜索继续召回幽灵候选人
			if delErr := s.vectors.DeleteCandidatePoint(ctx, userID); delErr != nil {
				log.Warn().Err(delErr).Str("user_id", userID).Msg("清理残留向量点失败")
			}
			return nil, fmt.Errorf("候选人不存在: %s", userID)
		}
		s.processBatch(ctx, []models.CandidateProfile{*profile}, force, summary)
	} else {
		pageSize := s.cfg.BatchPageSize
		if pageSize <= 0 {
			pageSize = 200
		}
		for offset := 0; ; offset += pageSize {
			if err := ctx.Err(); err != nil {
				tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
				return summary, err
			}
			profiles, err := s.store.ListCandidateProfiles(ctx, offset, pageSize)
			if err != nil {
				tracing.RecordError(span, err, tracing.ErrorTypeDB)
				return summary, err
			}
			if len(profiles) == 0 {
				break
			}
			s.processBatch(ctx, profiles, force, summary)
		}
	}

	span.SetAttributes(
		attribute.Int("sync.total", summary.Total),
		attribute.Int("sync.processed", summary.Processed),
		attribute.Int("sync.skipped", summary.Skipped),
		attribute.Int("sync.errors", summary.Errors),
	)
	span.SetStatus(codes.Ok, "")

	log.Info().
		Int("total", summary.Total).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Msg("嵌入同步完成")

	return summary, nil
}

// processBatch 逐个处理一批候选人, 单个失败只记入汇总
func (s *Service) processBatch(ctx context.Context, profiles []models.CandidateProfile, force bool, summary *types.SyncSummary) {
	for i := range profiles {
		profile := &profiles[i]
		summary.Total++

		processed, err := s.processOne(ctx, profile, force)
		if err != nil {
			summary.Errors++
			summary.ErrorDetails = append(summary.ErrorDetails, types.SyncErrorDetail{
				UserID: profile.UserID,
				Email:  tracing.MaskPII(profile.Email),
				Error:  err.Error(),
			})
			log.Warn().Err(err).Str("user_id", profile.UserID).Msg("候选人嵌入处理失败")
			continue
		}
		if !processed {
			summary.Skipped++
			continue
		}
		summary.Processed++

		// 只有真正打了模型的候选人才消耗令牌
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
	}
}

// embed 生成单条向量。配置了限流器时每次模型调用先取令牌,
// 瞬时故障(模型冷启动、连接重置)按退避策略重试。
func (s *Service) embed(ctx context.Context, text string) ([]float64, error) {
	if s.limiter == nil {
		return s.embedder.Embed(ctx, text)
	}

	var vec []float64
	err := s.limiter.RetryWithBackoff(ctx, func() error {
		var embedErr error
		vec, embedErr = s.embedder.Embed(ctx, text)
		return embedErr
	})
	return vec, err
}

// processOne 处理单个候选人: 合并→脱敏→闸门→双向量→落库。
// 返回是否实际生成了嵌入(被闸门跳过时返回false)。
func (s *Service) processOne(ctx context.Context, profile *models.CandidateProfile, force bool) (bool, error) {
	ctx, span := syncTracer.Start(ctx, "Sync.ProcessCandidate")
	defer span.End()
	span.SetAttributes(attribute.String("candidate.user_id", tracing.SafeAttributeValue("user_id", profile.UserID, 64)))

	expRows, err := s.store.GetWorkExperiences(ctx, profile.UserID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return false, err
	}

	// 合并边界: 档案+工作经历先组装成工作结构并校验必填字段
	merged := types.MergedCandidate{Profile: profile.ToType()}
	for i := range expRows {
		merged.Experiences = append(merged.Experiences, expRows[i].ToType())
	}
	if err := merged.Validate(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return false, err
	}
	p := merged.Profile

	// 抽取两种文本视图, 各自脱敏
	maskedFull := masker.MaskText(extractor.FullProfileText(p, merged.Experiences))
	maskedSkills := masker.MaskText(extractor.SkillsText(p, merged.Experiences))
	span.SetAttributes(
		attribute.Int("pii.full_text.count", maskedFull.Report.Total()),
		attribute.Int("pii.skills_text.count", maskedSkills.Report.Total()),
		attribute.String("profile.masked_preview", tracing.SafeProfileContent(maskedFull.Text)),
	)

	// checksum覆盖两个脱敏视图, 任一变化都触发重嵌入
	checksum := embedder.ContentHash(maskedFull.Text + "\n" + maskedSkills.Text)

	need, err := s.gate.NeedsReprocessing(ctx, profile.UserID, checksum, s.modelVersion, force)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return false, err
	}
	if !need {
		span.SetStatus(codes.Ok, "skipped, checksum unchanged")
		return false, nil
	}

	// 两个向量并发生成, 生成器内部自行串行化模型调用
	var wg sync.WaitGroup
	var profileVec, skillsVec []float64
	var profileErr, skillsErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		profileVec, profileErr = s.embed(ctx, maskedFull.Text)
	}()
	go func() {
		defer wg.Done()
		skillsVec, skillsErr = s.embed(ctx, maskedSkills.Text)
	}()
	wg.Wait()

	if profileErr != nil {
		tracing.RecordErrorWithInfo(span, profileErr, tracing.ErrorTypeEmbedder,
			attribute.String("embedding.vector", "profile"))
		return false, fmt.Errorf("生成档案向量失败: %w", profileErr)
	}
	if skillsErr != nil {
		tracing.RecordErrorWithInfo(span, skillsErr, tracing.ErrorTypeEmbedder,
			attribute.String("embedding.vector", "skills"))
		return false, fmt.Errorf("生成技能向量失败: %w", skillsErr)
	}

	// 过滤字段进payload, 搜索时不回MySQL即可初筛
	payload := map[string]interface{}{
		"core_field":        p.CoreField,
		"location":          p.Location,
		"is_fresher":        p.IsFresher,
		"experience_months": types.TotalExperienceMonths(p),
	}

	if _, err := s.vectors.UpsertCandidateVectors(ctx, profile.UserID, profileVec, skillsVec, payload); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return false, err
	}

	report := maskedFull.Report
	report.Merge(maskedSkills.Report)
	reportJSON, err := models.PIIReportToJSON(report)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return false, fmt.Errorf("序列化脱敏统计失败: %w", err)
	}

	record := &models.CandidateEmbeddingRecord{
		UserID:           profile.UserID,
		Checksum:         checksum,
		ModelVersion:     s.modelVersion,
		MaskedFullText:   maskedFull.Text,
		MaskedSkillsText: maskedSkills.Text,
		PIIReportJSON:    reportJSON,
		LastProcessedAt:  time.Now(),
	}
	if err := s.store.UpsertEmbeddingRecord(ctx, record); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return false, err
	}

	span.SetStatus(codes.Ok, "")
	return true, nil
}

// Stats 嵌入处理统计
type Stats struct {
	TotalCandidates     int64     `json:"total_candidates"`
	ProcessedCandidates int64     `json:"processed_candidates"`
	VectorPoints        int64     `json:"vector_points"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
}

// GetStats 汇总MySQL记录表和Qdrant点数
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	ctx, span := syncTracer.Start(ctx, "Sync.GetStats")
	defer span.End()

	total, err := s.store.CountCandidateProfiles(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	processed, err := s.store.CountEmbeddingRecords(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}
	latest, err := s.store.LatestProcessedAt(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	var points int64
	if s.vectors != nil {
		points, err = s.vectors.CountPoints(ctx)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return nil, err
		}
	}

	span.SetStatus(codes.Ok, "")
	return &Stats{
		TotalCandidates:     total,
		ProcessedCandidates: processed,
		VectorPoints:        points,
		LastProcessedAt:     latest,
	}, nil
}
