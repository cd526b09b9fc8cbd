package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog/log"

	"talent-search-go/internal/config"
	"talent-search-go/internal/storage"
)

// 校验结论取值
const (
	verdictOK     = "ok"
	verdictDenied = "denied"
)

// VerdictCache 校验结论的短期缓存, 由Redis实现
type VerdictCache interface {
	GetAuthVerdict(ctx context.Context, tokenHash string) (string, error)
	SetAuthVerdict(ctx context.Context, tokenHash string, verdict string, ttl time.Duration) error
}

// Auth 管理接口的Bearer token认证中间件。
// token交给外部会话校验服务判定, 结论短期缓存避免每个请求都打外部服务。
type Auth struct {
	cfg        config.AuthConfig
	cache      VerdictCache
	httpClient *http.Client
}

// NewAuth 创建认证中间件。cache为nil时每次都直连校验服务。
func NewAuth(cfg config.AuthConfig, cache VerdictCache) *Auth {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Auth{
		cfg:        cfg,
		cache:      cache,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Handler 返回hertz中间件函数
func (a *Auth) Handler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		token := extractBearerToken(string(c.GetHeader("Authorization")))
		if token == "" {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "缺少Bearer token"})
			return
		}

		ok, err := a.verify(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("调用会话校验服务失败")
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "token校验失败"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "无效的token"})
			return
		}

		c.Next(ctx)
	}
}

// verify 先查缓存, 未命中时调用外部校验服务并回写结论
func (a *Auth) verify(ctx context.Context, token string) (bool, error) {
	tokenHash := hashToken(token)

	if a.cache != nil && !a.cfg.DisableVerdictRead {
		verdict, err := a.cache.GetAuthVerdict(ctx, tokenHash)
		if err == nil {
			return verdict == verdictOK, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			// 缓存故障不阻断认证, 降级到直连校验服务
			log.Warn().Err(err).Msg("读取认证结论缓存失败")
		}
	}

	ok, err := a.callVerifier(ctx, token)
	if err != nil {
		return false, err
	}

	if a.cache != nil {
		verdict := verdictDenied
		if ok {
			verdict = verdictOK
		}
		ttl := time.Duration(a.cfg.VerdictTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 60 * time.Second
		}
		if err := a.cache.SetAuthVerdict(ctx, tokenHash, verdict, ttl); err != nil {
			log.Warn().Err(err).Msg("写入认证结论缓存失败")
		}
	}

	return ok, nil
}

// callVerifier 调用外部会话校验服务。
// 200 视为有效, 401/403 视为无效, 其他状态视为校验服务故障。
func (a *Auth) callVerifier(ctx context.Context, token string) (bool, error) {
	reqBody, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.VerifyURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, errors.New("会话校验服务返回异常状态: " + resp.Status)
	}
}

// extractBearerToken 从Authorization头取出token
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// hashToken 缓存键只存token的SHA-256摘要, 原始token不落Redis
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
