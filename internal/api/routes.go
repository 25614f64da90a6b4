// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"poi-api/internal/importer"
	"poi-api/internal/merge"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
	"poi-api/internal/store"
)

// Persisted：持久层能力（接口化便于测试替身）
type Persisted interface {
	QueryBBox(ctx context.Context, b poi.BBox, f store.QueryFilters) ([]*store.Location, error)
	IncrQueryStats(ctx context.Context) error
	IncrImportStats(ctx context.Context) error
	GetTotals(ctx context.Context) (*store.Totals, error)
	Ping(ctx context.Context) error
}

// UpstreamQuery：上游边界框查询能力
type UpstreamQuery interface {
	Query(ctx context.Context, b poi.BBox, f overpass.Filters) ([]poi.RawFeature, error)
}

// Promoter：导入管线入口
type Promoter interface {
	Promote(ctx context.Context, kind poi.SourceKind, id int64, userID int64, prefetched *poi.RawFeature) (*importer.Result, error)
}

// Auth：会话与防伪校验（外部协作方的本地代理）
type Auth interface {
	UserID(r *http.Request) (int64, bool)
	CheckCSRF(r *http.Request, token string) bool
	IssueCSRF(sessionValue string) string
}

// Deps：路由依赖集合
type Deps struct {
	Store    Persisted
	Upstream UpstreamQuery
	Importer Promoter
	Auth     Auth
	Redis    *redis.Client
	Rules    []poi.Rule
	MergeCfg merge.Config
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/pois", d.handlePois)
	apiMux.HandleFunc("/import", d.handleImport)

	apiMux.HandleFunc("/csrf", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookieName(r))
		token := ""
		if err == nil {
			token = d.Auth.IssueCSRF(c.Value)
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
	})

	apiMux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		t, _ := d.Store.GetTotals(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"total_queries": t.TotalQueries,
			"total_imports": t.TotalImports,
			"today_queries": t.TodayQueries,
			"today_imports": t.TodayImports,
		})
	})

	apiMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	return apiMux
}

// sessionCookieName：与校验器约定一致的 cookie 名（默认 session）
func sessionCookieName(r *http.Request) string {
	if s := os.Getenv("SESSION_COOKIE"); s != "" {
		return s
	}
	return "session"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
