package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"talent-search-go/internal/config"
	"talent-search-go/internal/storage/models"
	"talent-search-go/internal/tracing"
)

var mysqlTracer = otel.Tracer("talent-search-go/storage/mysql")

// GormTracingPlugin GORM插件, 为数据库操作添加OpenTelemetry追踪点
type GormTracingPlugin struct {
	tracer   trace.Tracer
	dbName   string
	skipHook bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.skipHook && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, span := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

type gormSpanKey struct{}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中记录属于正常业务分支
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:   mysqlTracer,
		dbName:   dbName,
		skipHook: true,
	}
}

// MySQL 提供关系数据库功能: 只读的候选人档案/工作经历查询,
// 以及本服务拥有的嵌入处理记录表的读写
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并迁移本服务拥有的表
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{db: db, cfg: cfg}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 只迁移本服务拥有的表, 候选人档案和工作经历归门户主站所有
	if err := db.AutoMigrate(&models.CandidateEmbeddingRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并迁移嵌入记录表")
	return m, nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// GetCandidateProfile 按user_id读取单个候选人档案, 未找到返回nil
func (m *MySQL) GetCandidateProfile(ctx context.Context, userID string) (*models.CandidateProfile, error) {
	var profile models.CandidateProfile
	err := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询候选人档案失败: %w", err)
	}
	return &profile, nil
}

// ListCandidateProfiles 按user_id升序分页读取候选人档案,
// 同步任务用它遍历全量候选人
func (m *MySQL) ListCandidateProfiles(ctx context.Context, offset, limit int) ([]models.CandidateProfile, error) {
	var profiles []models.CandidateProfile
	err := m.db.WithContext(ctx).
		Order("user_id asc").
		Offset(offset).
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("分页查询候选人档案失败: %w", err)
	}
	return profiles, nil
}

// GetCandidateProfilesByIDs 按一组user_id批量读取候选人档案
func (m *MySQL) GetCandidateProfilesByIDs(ctx context.Context, userIDs []string) ([]models.CandidateProfile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var profiles []models.CandidateProfile
	err := m.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询候选人档案失败: %w", err)
	}
	return profiles, nil
}

// GetWorkExperiences 按user_id读取工作经历, 按起始日期升序
func (m *MySQL) GetWorkExperiences(ctx context.Context, userID string) ([]models.WorkExperience, error) {
	var exps []models.WorkExperience
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("from_date asc").
		Find(&exps).Error
	if err != nil {
		return nil, fmt.Errorf("查询工作经历失败: %w", err)
	}
	return exps, nil
}

// GetEmbeddingRecord 按user_id读取嵌入处理记录, 未找到返回nil
func (m *MySQL) GetEmbeddingRecord(ctx context.Context, userID string) (*models.CandidateEmbeddingRecord, error) {
	var record models.CandidateEmbeddingRecord
	err := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询嵌入处理记录失败: %w", err)
	}
	return &record, nil
}

// UpsertEmbeddingRecord 写入嵌入处理记录, user_id冲突时更新
// checksum、模型版本、脱敏统计和处理时间
func (m *MySQL) UpsertEmbeddingRecord(ctx context.Context, record *models.CandidateEmbeddingRecord) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.UpsertEmbeddingRecord",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.operation", "INSERT_ON_DUPLICATE"),
		attribute.String("db.sql.table", record.TableName()),
	)

	err := m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"checksum", "model_version", "masked_full_text", "masked_skills_text",
				"pii_report_json", "last_processed_at", "updated_at",
			}),
		}).Create(record).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("写入嵌入处理记录失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountCandidateProfiles 统计候选人档案总数
func (m *MySQL) CountCandidateProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.CandidateProfile{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计候选人档案失败: %w", err)
	}
	return count, nil
}

// CountEmbeddingRecords 统计已处理的嵌入记录总数
func (m *MySQL) CountEmbeddingRecords(ctx context.Context) (int64, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.CandidateEmbeddingRecord{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计嵌入处理记录失败: %w", err)
	}
	return count, nil
}

// LatestProcessedAt 返回最近一次嵌入处理时间, 没有记录时返回零值
func (m *MySQL) LatestProcessedAt(ctx context.Context) (time.Time, error) {
	var record models.CandidateEmbeddingRecord
	err := m.db.WithContext(ctx).Order("last_processed_at desc").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("查询最近处理时间失败: %w", err)
	}
	return record.LastProcessedAt, nil
}
