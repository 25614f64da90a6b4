// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"poi-api/internal/api"
	"poi-api/internal/importer"
	"poi-api/internal/logger"
	"poi-api/internal/merge"
	"poi-api/internal/metrics"
	"poi-api/internal/middleware"
	"poi-api/internal/migrate"
	"poi-api/internal/nominatim"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
	"poi-api/internal/store"
	"poi-api/internal/utils"
	"poi-api/internal/version"
	"poi-api/pkg/sessiontoken"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok", "commit", version.Commit)
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("db_open_ok")
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	st := store.AttachDB(db)
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	// 文档注释：映射表自检
	// 背景：标签映射指向的列必须真实存在；启动时核对一次，缺列拒绝启动，
	// 避免把结构性配置错误摊到每次导入请求上。
	columnSet, err := st.ColumnSet(context.Background())
	if err != nil {
		l.Error("schema_introspect_error", "err", err)
		os.Exit(1)
	}
	if err := importer.ValidateMapping(columnSet); err != nil {
		l.Error("mapping_invalid", "err", err)
		os.Exit(1)
	}
	l.Info("mapping_ok", "columns", len(columnSet))

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	// 归类规则：内置词表 + 可选外部规则文件（同名类别按“或”合并）
	rules := poi.DefaultRules()
	if p := os.Getenv("CATEGORY_RULES_PATH"); p != "" {
		ext, err := poi.LoadExternalRules(p)
		if err != nil {
			l.Error("rules_load_error", "path", p, "err", err)
		} else {
			rules = poi.MergeRules(rules, ext)
			l.Info("rules_merged", "path", p, "categories", len(rules))
		}
	}

	up := overpass.NewFromEnv()
	l.Info("overpass_ready", "mirrors", len(up.Mirrors()))
	geo := nominatim.NewFromEnv(rc)
	allowed := importer.AllowedCountriesFromEnv()
	if len(allowed) == 0 {
		l.Info("country_gate_disabled")
	} else {
		l.Info("country_gate_enabled", "allowed", allowed)
	}
	imp := importer.New(up, geo, st, rules, allowed, columnSet)
	auth := sessiontoken.NewFromEnv(l)
	mergeCfg := merge.FromEnv()
	l.Debug("merge_config", "precision", mergeCfg.CellPrecision, "similarity", mergeCfg.NameSimilarity)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(api.Deps{
		Store:    st,
		Upstream: up,
		Importer: imp,
		Auth:     auth,
		Redis:    rc,
		Rules:    rules,
		MergeCfg: mergeCfg,
	})
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	l.Info("server_start", "addr", addr)
	if err := s.ListenAndServe(); err != nil {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
}
