package gate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"talent-search-go/internal/storage/models"
)

// RecordStore 重处理闸门需要的嵌入记录读取能力
type RecordStore interface {
	GetEmbeddingRecord(ctx context.Context, userID string) (*models.CandidateEmbeddingRecord, error)
}

// Gate 重处理闸门。同步任务对每个候选人先问闸门:
// 脱敏后文本的checksum没变且非强制时直接跳过, 不再调用嵌入模型。
type Gate struct {
	store RecordStore
}

// NewGate 创建重处理闸门
func NewGate(store RecordStore) *Gate {
	return &Gate{store: store}
}

// NeedsReprocessing 判断候选人是否需要重新生成嵌入。
// force为true时永远返回true; 否则没有历史记录、checksum变化
// 或嵌入模型版本变化时返回true。
func (g *Gate) NeedsReprocessing(ctx context.Context, userID string, checksum string, modelVersion string, force bool) (bool, error) {
	if force {
		return true, nil
	}

	record, err := g.store.GetEmbeddingRecord(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("读取嵌入处理记录失败: %w", err)
	}
	if record == nil {
		// 从未处理过
		return true, nil
	}

	// 换了模型后旧向量不再可比, checksum即使没变也要重嵌入
	if record.ModelVersion != modelVersion {
		log.Debug().
			Str("user_id", userID).
			Str("from", record.ModelVersion).
			Str("to", modelVersion).
			Msg("嵌入模型版本变化, 重新生成")
		return true, nil
	}

	if record.Checksum == checksum {
		log.Debug().Str("user_id", userID).Msg("档案内容未变化, 跳过嵌入生成")
		return false, nil
	}

	return true, nil
}
