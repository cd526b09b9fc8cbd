package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talent-search-go/internal/config"
	"talent-search-go/internal/storage"
)

type fakeVerdictCache struct {
	verdicts map[string]string
	lastTTL  time.Duration
}

func (f *fakeVerdictCache) GetAuthVerdict(_ context.Context, tokenHash string) (string, error) {
	if v, ok := f.verdicts[tokenHash]; ok {
		return v, nil
	}
	return "", storage.ErrNotFound
}

func (f *fakeVerdictCache) SetAuthVerdict(_ context.Context, tokenHash string, verdict string, ttl time.Duration) error {
	if f.verdicts == nil {
		f.verdicts = map[string]string{}
	}
	f.verdicts[tokenHash] = verdict
	f.lastTTL = ttl
	return nil
}

// newVerifierServer 模拟外部会话校验服务, validToken之外一律401
func newVerifierServer(t *testing.T, validToken string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		if req["token"] == validToken {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
}

func invokeAuth(handler app.HandlerFunc, authorization string) *app.RequestContext {
	c := app.NewContext(16)
	if authorization != "" {
		c.Request.Header.Set("Authorization", authorization)
	}
	handler(context.Background(), c)
	return c
}

// TestAuthMissingToken 缺少Authorization头返回401
func TestAuthMissingToken(t *testing.T) {
	auth := NewAuth(config.AuthConfig{VerifyURL: "http://127.0.0.1:1/verify"}, nil)
	handler := auth.Handler()

	c := invokeAuth(handler, "")
	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())

	c = invokeAuth(handler, "Basic dXNlcjpwYXNz")
	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())
}

// TestAuthValidToken 校验服务放行后请求通过
func TestAuthValidToken(t *testing.T) {
	var calls int32
	server := newVerifierServer(t, "good-token", &calls)
	defer server.Close()

	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL}, nil)
	c := invokeAuth(auth.Handler(), "Bearer good-token")

	assert.NotEqual(t, consts.StatusUnauthorized, c.Response.StatusCode())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

// TestAuthInvalidToken 校验服务401视为无效token
func TestAuthInvalidToken(t *testing.T) {
	var calls int32
	server := newVerifierServer(t, "good-token", &calls)
	defer server.Close()

	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL}, nil)
	c := invokeAuth(auth.Handler(), "Bearer bad-token")

	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())
}

// TestAuthVerifierDown 校验服务故障时拒绝请求
func TestAuthVerifierDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL}, nil)
	c := invokeAuth(auth.Handler(), "Bearer any-token")

	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())
}

// TestAuthVerdictCache 结论写入缓存, 第二次请求不再打校验服务
func TestAuthVerdictCache(t *testing.T) {
	var calls int32
	server := newVerifierServer(t, "good-token", &calls)
	defer server.Close()

	cache := &fakeVerdictCache{}
	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL, VerdictTTLSeconds: 120}, cache)
	handler := auth.Handler()

	c := invokeAuth(handler, "Bearer good-token")
	assert.NotEqual(t, consts.StatusUnauthorized, c.Response.StatusCode())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 120*time.Second, cache.lastTTL)

	// 缓存键是token摘要, 不落原始token
	for key := range cache.verdicts {
		assert.NotEqual(t, "good-token", key)
		assert.Len(t, key, 64)
	}

	c = invokeAuth(handler, "Bearer good-token")
	assert.NotEqual(t, consts.StatusUnauthorized, c.Response.StatusCode())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "结论缓存命中后不应再调用校验服务")
}

// TestAuthDeniedVerdictCached 无效token的拒绝结论同样被缓存
func TestAuthDeniedVerdictCached(t *testing.T) {
	var calls int32
	server := newVerifierServer(t, "good-token", &calls)
	defer server.Close()

	cache := &fakeVerdictCache{}
	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL}, cache)
	handler := auth.Handler()

	c := invokeAuth(handler, "Bearer bad-token")
	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())

	c = invokeAuth(handler, "Bearer bad-token")
	assert.Equal(t, consts.StatusUnauthorized, c.Response.StatusCode())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

// TestAuthDisableVerdictRead 关闭结论读取时每次都直连校验服务
func TestAuthDisableVerdictRead(t *testing.T) {
	var calls int32
	server := newVerifierServer(t, "good-token", &calls)
	defer server.Close()

	cache := &fakeVerdictCache{}
	auth := NewAuth(config.AuthConfig{VerifyURL: server.URL, DisableVerdictRead: true}, cache)
	handler := auth.Handler()

	invokeAuth(handler, "Bearer good-token")
	invokeAuth(handler, "Bearer good-token")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc123", extractBearerToken("Bearer abc123"))
	assert.Equal(t, "abc123", extractBearerToken("bearer abc123"))
	assert.Equal(t, "", extractBearerToken(""))
	assert.Equal(t, "", extractBearerToken("Bearer "))
	assert.Equal(t, "", extractBearerToken("Token abc123"))
}
