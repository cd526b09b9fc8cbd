package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog/log"

	"talent-search-go/internal/config"
)

// ModelClient 通过 OpenAI 兼容的 HTTP 接口调用本地句向量模型服务,
// 实现 cloudwego/eino embedding.Embedder 接口
type ModelClient struct {
	model      string
	dimensions int
	endpoint   string
	httpClient *http.Client
}

// NewModelClient 创建句向量模型客户端
func NewModelClient(cfg config.EmbedderConfig) (*ModelClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("嵌入模型endpoint不能为空")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ModelClient{
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// GetDimensions 返回客户端配置的向量维度
func (m *ModelClient) GetDimensions() int {
	return m.dimensions
}

// embeddingRequest OpenAI 兼容的请求结构
type embeddingRequest struct {
	Input      interface{} `json:"input"` // string 或 []string
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions,omitempty"`
}

// embeddingResponse OpenAI 兼容的响应结构
type embeddingResponse struct {
	Object string               `json:"object"`
	Data   []embeddingDataEntry `json:"data"`
	Model  string               `json:"model"`
	Error  *embeddingError      `json:"error,omitempty"`
}

type embeddingDataEntry struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// embeddingError 服务端在 200 OK 里返回的 API 级错误
type embeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// EmbedStrings 将文本批量转换为向量, 实现 embedding.Embedder 接口
func (m *ModelClient) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := m.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var inputBody interface{}
	if len(texts) == 1 {
		inputBody = texts[0]
	} else {
		inputBody = texts
	}

	reqBody := embeddingRequest{
		Input: inputBody,
		Model: effectiveModel,
	}
	if m.dimensions > 0 {
		reqBody.Dimensions = m.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化嵌入请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建嵌入HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用嵌入模型服务失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取嵌入响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("endpoint", m.endpoint).Msg("嵌入模型服务返回非200状态")
		return nil, fmt.Errorf("嵌入模型服务返回错误状态 %d: %s", resp.StatusCode, string(body))
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("解析嵌入响应失败: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("嵌入模型服务API错误: %s (%s)", apiResp.Error.Message, apiResp.Error.Code)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("嵌入响应数量不匹配: 请求%d条, 返回%d条", len(texts), len(apiResp.Data))
	}

	// 服务端可能乱序返回, 按 index 归位
	result := make([][]float64, len(texts))
	for _, entry := range apiResp.Data {
		if entry.Index < 0 || entry.Index >= len(texts) {
			return nil, fmt.Errorf("嵌入响应index越界: %d", entry.Index)
		}
		result[entry.Index] = entry.Embedding
	}
	for i, vec := range result {
		if vec == nil {
			return nil, fmt.Errorf("嵌入响应缺少第%d条向量", i)
		}
	}

	return result, nil
}
