// 包 sessiontoken：会话与防伪令牌校验
package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// 文档注释：会话/防伪校验器
// 背景：会话签发与登录流程由外部系统负责；本服务只需校验请求携带的会话凭据
// 与防伪令牌是否由共享密钥签出。独立成包，不依赖项目内部代码，便于复用。
// 约束：
// 1) 会话 cookie 格式为 "<user_id>.<hex hmac>"，hmac 覆盖 user_id 文本；
// 2) 防伪令牌为 hex hmac("csrf:" + 会话 cookie 原文)，与会话绑定；
// 3) 密钥未配置时校验一律失败（安全默认），匿名放行需显式开启。
type Verifier struct {
	l          *slog.Logger
	secret     []byte
	cookieName string
	allowAnon  bool
}

// NewFromEnv：按环境变量构建校验器
// 环境变量：
// SESSION_SECRET                共享签名密钥（与外部签发方一致）
// SESSION_COOKIE=session        会话 cookie 名
// SESSION_ALLOW_ANON=true       允许匿名请求通过会话校验（开发/只读部署）
func NewFromEnv(l *slog.Logger) *Verifier {
	v := &Verifier{l: l, cookieName: "session"}
	if s := os.Getenv("SESSION_COOKIE"); s != "" {
		v.cookieName = s
	}
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		v.secret = []byte(s)
	}
	v.allowAnon = os.Getenv("SESSION_ALLOW_ANON") == "true"
	return v
}

// sign：hmac-sha256 → hex
func (v *Verifier) sign(msg string) string {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(msg))
	return hex.EncodeToString(m.Sum(nil))
}

// UserID：校验会话并返回用户编号
// 返回：匿名放行时返回 (0, true)；校验失败返回 (0, false)
func (v *Verifier) UserID(r *http.Request) (int64, bool) {
	c, err := r.Cookie(v.cookieName)
	if err != nil || c.Value == "" {
		return 0, v.allowAnon
	}
	if len(v.secret) == 0 {
		v.l.Warn("session_secret_missing")
		return 0, v.allowAnon
	}
	i := strings.IndexByte(c.Value, '.')
	if i <= 0 {
		return 0, false
	}
	idPart, sig := c.Value[:i], c.Value[i+1:]
	if !hmac.Equal([]byte(v.sign(idPart)), []byte(sig)) {
		v.l.Debug("session_bad_signature")
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// CheckCSRF：校验防伪令牌与当前会话的绑定
// 约束：无会话 cookie 时令牌无从绑定，仅匿名放行模式下通过
func (v *Verifier) CheckCSRF(r *http.Request, token string) bool {
	c, err := r.Cookie(v.cookieName)
	if err != nil || c.Value == "" {
		return v.allowAnon
	}
	if len(v.secret) == 0 || token == "" {
		return false
	}
	want := v.sign("csrf:" + c.Value)
	return hmac.Equal([]byte(want), []byte(token))
}

// IssueCSRF：为既有会话签发防伪令牌
// 背景：供同域页面接口下发令牌；签发方与校验方使用同一构造，避免两处实现漂移
func (v *Verifier) IssueCSRF(sessionValue string) string {
	if len(v.secret) == 0 || sessionValue == "" {
		return ""
	}
	return v.sign("csrf:" + sessionValue)
}
