package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
	"talent-search-go/internal/tracing"
)

var qdrantTracer = otel.Tracer("talent-search-go/storage/qdrant")

// QdrantPointIDNamespace is a dedicated namespace for generating deterministic
// Qdrant point IDs from candidate user IDs. The same candidate always maps to
// the same point, so re-syncs overwrite instead of duplicating.
// UUID generated via `uuidgen`
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("9b1c38de-46f2-41d8-9c70-1f5a2d83be04"))

// VectorDatabase 向量数据库接口
type VectorDatabase interface {
	// UpsertCandidateVectors 写入/覆盖单个候选人的全档案向量和技能向量
	UpsertCandidateVectors(ctx context.Context, userID string, profileVector, skillsVector []float64, payload map[string]interface{}) (string, error)

	// SearchCandidates 在指定命名向量上搜索相似候选人
	SearchCandidates(ctx context.Context, vectorName string, queryVector []float64, limit int, filter map[string]interface{}) ([]SearchResult, error)

	// DeleteCandidatePoint 删除候选人的向量点
	DeleteCandidatePoint(ctx context.Context, userID string) error

	// CountPoints 返回集合中的点总数
	CountPoints(ctx context.Context) (int64, error)
}

// 确保Qdrant实现了VectorDatabase接口
var _ VectorDatabase = (*Qdrant)(nil)

// Qdrant 提供向量数据库功能。集合使用两个命名向量:
// "profile" 覆盖全档案文本, "skills" 偏向技能词汇。
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
}

// SearchResult 表示一个向量搜索结果项
type SearchResult struct {
	ID      string                 // 向量点ID
	Score   float32                // 相似度分数
	Payload map[string]interface{} // 载荷数据
}

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHttpTimeout 设置HTTP客户端超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// PointIDForUser 根据user_id生成确定性的Qdrant点ID
func PointIDForUser(userID string) string {
	return uuid.NewV5(QdrantPointIDNamespace, userID).String()
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}

	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = "candidate_embeddings"
	}

	vectorSize := cfg.Dimension
	if vectorSize <= 0 {
		vectorSize = constants.EmbeddingDimensions
	}

	q := &Qdrant{
		endpoint:       endpoint,
		collectionName: collectionName,
		vectorSize:     vectorSize,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}

	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", collectionName, err)
	}

	log.Printf("成功连接到Qdrant服务器: %s，并确保集合 '%s' 存在", endpoint, collectionName)
	return q, nil
}

// ensureCollectionExists 确保向量集合存在, 不存在则创建
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "get_collection"),
		attribute.String("db.collection", q.collectionName),
	)

	var result struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors map[string]struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
		Status string `json:"status"`
	}

	err := q.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collectionName), nil, &result)
	if err == nil {
		// 集合已存在, 校验profile向量维度
		if vec, ok := result.Result.Config.Params.Vectors[constants.VectorNameProfile]; ok && vec.Size != q.vectorSize {
			mismatchErr := fmt.Errorf("集合 '%s' 的向量维度(%d)与配置(%d)不一致", q.collectionName, vec.Size, q.vectorSize)
			span.RecordError(mismatchErr)
			span.SetStatus(codes.Error, mismatchErr.Error())
			return mismatchErr
		}
		span.SetStatus(codes.Ok, "collection exists")
		return nil
	}

	// 不存在则创建
	if createErr := q.createCollection(ctx); createErr != nil {
		span.RecordError(createErr)
		span.SetStatus(codes.Error, createErr.Error())
		return createErr
	}

	span.SetStatus(codes.Ok, "collection created")
	return nil
}

// createCollection 创建带两个命名向量的集合
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "create_collection"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
		attribute.String("db.vector.distance", q.distanceMetric),
	)

	createReqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			constants.VectorNameProfile: map[string]interface{}{
				"size":     q.vectorSize,
				"distance": q.distanceMetric,
			},
			constants.VectorNameSkills: map[string]interface{}{
				"size":     q.vectorSize,
				"distance": q.distanceMetric,
			},
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}

	err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collectionName), createReqBody, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("创建集合失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	log.Printf("已成功创建Qdrant集合: %s，维度: %d", q.collectionName, q.vectorSize)
	return nil
}

// UpsertCandidateVectors 写入单个候选人的两个命名向量。
// 点ID由user_id通过UUIDv5确定性生成, 重复写入即覆盖。
func (q *Qdrant) UpsertCandidateVectors(ctx context.Context, userID string, profileVector, skillsVector []float64, payload map[string]interface{}) (string, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertCandidateVectors",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("candidate.user_id", tracing.SafeAttributeValue("user_id", userID, 64)),
	)

	if len(profileVector) != q.vectorSize {
		err := fmt.Errorf("profile向量维度(%d)与配置维度(%d)不匹配", len(profileVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}
	if len(skillsVector) != q.vectorSize {
		err := fmt.Errorf("skills向量维度(%d)与配置维度(%d)不匹配", len(skillsVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}

	pointID := PointIDForUser(userID)
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["user_id"] = userID

	reqBody := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id": pointID,
				"vector": map[string]interface{}{
					constants.VectorNameProfile: profileVector,
					constants.VectorNameSkills:  skillsVector,
				},
				"payload": payload,
			},
		},
	}

	var result struct {
		Result struct {
			OperationID int64  `json:"operation_id"`
			Status      string `json:"status"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), reqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return "", fmt.Errorf("写入候选人向量失败: %w", err)
	}

	span.SetAttributes(attribute.String("qdrant.operation_status", result.Result.Status))
	span.SetStatus(codes.Ok, "")
	return pointID, nil
}

// SearchCandidates 在指定命名向量上执行相似度搜索
func (q *Qdrant) SearchCandidates(ctx context.Context, vectorName string, queryVector []float64, limit int, filter map[string]interface{}) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.SearchCandidates",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_vectors"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("search.vector_name", vectorName),
		attribute.Int("search.limit", limit),
		attribute.Int("query_vector.size", len(queryVector)),
	)

	if vectorName != constants.VectorNameProfile && vectorName != constants.VectorNameSkills {
		err := fmt.Errorf("未知的命名向量: %s", vectorName)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	if len(queryVector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(queryVector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}

	searchReq := map[string]interface{}{
		"vector": map[string]interface{}{
			"name":   vectorName,
			"vector": queryVector,
		},
		"limit":        limit,
		"with_payload": true,
	}
	if len(filter) > 0 {
		searchReq["filter"] = filter
	}

	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), searchReq, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	searchResults := make([]SearchResult, 0, len(result.Result))
	for _, point := range result.Result {
		searchResults = append(searchResults, SearchResult{
			ID:      point.ID,
			Score:   point.Score,
			Payload: point.Payload,
		})
	}

	span.SetAttributes(
		attribute.Int("search.results.count", len(searchResults)),
		attribute.String("qdrant.response_status", result.Status),
		attribute.Float64("qdrant.response_time", result.Time),
	)

	span.SetStatus(codes.Ok, "")
	return searchResults, nil
}

// DeleteCandidatePoint 删除候选人的向量点
func (q *Qdrant) DeleteCandidatePoint(ctx context.Context, userID string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteCandidatePoint",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points"),
		attribute.String("db.collection", q.collectionName),
	)

	reqBody := map[string]interface{}{
		"points": []string{PointIDForUser(userID)},
	}

	var result struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), reqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("删除候选人向量失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountPoints 返回集合中的点总数
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CountPoints",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "count_points"),
		attribute.String("db.collection", q.collectionName),
	)

	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
		Status string `json:"status"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName),
		map[string]interface{}{"exact": true}, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("qdrant.points.count", result.Result.Count))
	span.SetStatus(codes.Ok, "")
	return result.Result.Count, nil
}

// doRequest 向Qdrant发送HTTP请求并解析响应
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var req *http.Request
	var err error

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}

		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, bytes.NewBuffer(jsonBody))
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, nil)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	// 注入trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	span.SetAttributes(attribute.Int("http.response.body.size", len(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, string(respBody))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
