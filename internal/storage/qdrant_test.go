package storage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talent-search-go/internal/config"
	"talent-search-go/internal/constants"
	"talent-search-go/internal/storage"
)

func makeVector(dim int) []float64 {
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = 0.01
	}
	return vec
}

// TestQdrant_NewQdrant 测试Qdrant客户端初始化
func TestQdrant_NewQdrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": {
					"config": {
						"params": {
							"vectors": {
								"profile": {"size": 384, "distance": "Cosine"},
								"skills": {"size": 384, "distance": "Cosine"}
							}
						}
					}
				},
				"status": "ok"
			}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  384,
	}

	client, err := storage.NewQdrant(cfg,
		storage.WithDistanceMetric("Cosine"),
		storage.WithHttpTimeout(5*time.Second))

	require.NoError(t, err, "应该成功创建Qdrant客户端")
	require.NotNil(t, client, "客户端不应为nil")
}

// TestQdrant_CreatesCollectionWithNamedVectors 集合不存在时应创建两个命名向量
func TestQdrant_CreatesCollectionWithNamedVectors(t *testing.T) {
	var createBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status": {"error": "Not found"}}`))
			return
		}
		if r.URL.Path == "/collections/test_collection" && r.Method == "PUT" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": true, "status": "ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  384,
	}

	_, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	vectors, ok := createBody["vectors"].(map[string]interface{})
	require.True(t, ok, "创建请求应包含命名向量配置")
	assert.Contains(t, vectors, constants.VectorNameProfile)
	assert.Contains(t, vectors, constants.VectorNameSkills)
}

// TestQdrant_UpsertCandidateVectors 写入候选人双向量
func TestQdrant_UpsertCandidateVectors(t *testing.T) {
	var upsertBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"profile": {"size": 384, "distance": "Cosine"}}}}}, "status": "ok"}`))
			return
		}
		if r.URL.Path == "/collections/test_collection/points" && r.Method == "PUT" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upsertBody))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"operation_id": 123, "status": "completed"}, "status": "ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  384,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	pointID, err := client.UpsertCandidateVectors(context.Background(), "user-42",
		makeVector(384), makeVector(384), map[string]interface{}{"core_field": "Civil"})
	require.NoError(t, err, "写入候选人向量应该成功")

	// 点ID确定性
	assert.Equal(t, storage.PointIDForUser("user-42"), pointID)

	points, ok := upsertBody["points"].([]interface{})
	require.True(t, ok)
	require.Len(t, points, 1)
	point := points[0].(map[string]interface{})
	vector := point["vector"].(map[string]interface{})
	assert.Contains(t, vector, constants.VectorNameProfile)
	assert.Contains(t, vector, constants.VectorNameSkills)
	payload := point["payload"].(map[string]interface{})
	assert.Equal(t, "user-42", payload["user_id"])
}

// TestQdrant_UpsertRejectsWrongDimension 维度不符的向量直接拒绝
func TestQdrant_UpsertRejectsWrongDimension(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"profile": {"size": 384, "distance": "Cosine"}}}}}, "status": "ok"}`))
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  384,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	_, err = client.UpsertCandidateVectors(context.Background(), "user-1",
		makeVector(128), makeVector(384), nil)
	assert.Error(t, err, "profile向量维度不符应报错")

	_, err = client.UpsertCandidateVectors(context.Background(), "user-1",
		makeVector(384), makeVector(128), nil)
	assert.Error(t, err, "skills向量维度不符应报错")
}

// TestQdrant_SearchCandidates 在命名向量上搜索
func TestQdrant_SearchCandidates(t *testing.T) {
	var searchBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/test_collection" && r.Method == "GET" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"result": {"config": {"params": {"vectors": {"profile": {"size": 384, "distance": "Cosine"}}}}}, "status": "ok"}`))
			return
		}
		if r.URL.Path == "/collections/test_collection/points/search" && r.Method == "POST" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&searchBody))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{
				"result": [
					{"id": "p1", "score": 0.92, "payload": {"user_id": "user-1", "core_field": "Civil"}},
					{"id": "p2", "score": 0.81, "payload": {"user_id": "user-2", "core_field": "Civil"}}
				],
				"status": "ok",
				"time": 0.002
			}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "test_collection",
		Dimension:  384,
	}

	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "core_field", "match": map[string]interface{}{"value": "Civil"}},
		},
	}
	results, err := client.SearchCandidates(context.Background(), constants.VectorNameProfile, makeVector(384), 10, filter)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, float32(0.92), results[0].Score)
	assert.Equal(t, "user-1", results[0].Payload["user_id"])

	// 请求体里必须带上命名向量和过滤器
	vector := searchBody["vector"].(map[string]interface{})
	assert.Equal(t, constants.VectorNameProfile, vector["name"])
	assert.NotNil(t, searchBody["filter"])

	// 未知命名向量直接拒绝
	_, err = client.SearchCandidates(context.Background(), "unknown", makeVector(384), 10, nil)
	assert.Error(t, err)
}

// TestQdrant_PointIDForUserDeterministic 同一user_id得到同一点ID
func TestQdrant_PointIDForUserDeterministic(t *testing.T) {
	assert.Equal(t, storage.PointIDForUser("abc"), storage.PointIDForUser("abc"))
	assert.NotEqual(t, storage.PointIDForUser("abc"), storage.PointIDForUser("abd"))
}
