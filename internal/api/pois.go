package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"poi-api/internal/logger"
	"poi-api/internal/merge"
	"poi-api/internal/metrics"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
	"poi-api/internal/store"
)

// 文档注释：列表查询处理器
// 背景：上游与持久层并行查询，两路都归位后才交给合并引擎，不把部分结果竞态暴露给合并；
// 上游确定性失败时降级为仅持久层结果并显式标注原因，绝不呈现歧义的空白状态。
func (d Deps) handlePois(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	metrics.QueryRequestsTotal.Inc()
	t0 := time.Now()

	bbox, ok := parseBBox(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid bbox"})
		return
	}
	var cats []string
	if s := r.URL.Query().Get("categories"); s != "" {
		for _, c := range strings.Split(s, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cats = append(cats, c)
			}
		}
	}
	text := r.URL.Query().Get("q")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	mine := r.URL.Query().Get("mine") == "true"
	uid, _ := d.Auth.UserID(r)

	// 双路并行取数；各自通过通道归位
	type upRes struct {
		feats []poi.RawFeature
		err   error
	}
	type dbRes struct {
		rows []*store.Location
		err  error
	}
	upCh := make(chan upRes, 1)
	dbCh := make(chan dbRes, 1)
	go func() {
		feats, err := d.queryUpstreamCached(r, bbox, overpass.Filters{Categories: cats, Text: text, Limit: limit})
		upCh <- upRes{feats: feats, err: err}
	}()
	go func() {
		rows, err := d.Store.QueryBBox(ctx, bbox, store.QueryFilters{
			Categories: cats, Text: text, OwnerID: uid, OwnerOnly: mine, Limit: limit,
		})
		dbCh <- dbRes{rows: rows, err: err}
	}()
	up := <-upCh
	db := <-dbCh

	upstreamState := "ok"
	if up.err != nil {
		var ue *overpass.UnreachableError
		if errors.As(up.err, &ue) {
			logger.L().Warn("pois_upstream_unreachable", "attempts", len(ue.Attempts))
		} else {
			logger.L().Error("pois_upstream_error", "err", up.err)
		}
		upstreamState = "unreachable"
		up.feats = nil
	}
	if db.err != nil {
		logger.L().Error("pois_store_error", "err", db.err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage failure"})
		return
	}

	// 上游要素归类标注；持久行适配为统一要素
	upstream := make([]poi.RawFeature, 0, len(up.feats))
	for _, f := range up.feats {
		f.Category = poi.Classify(d.Rules, f.Tags, f.Name)
		f.Icon = poi.IconFor(f.Category)
		upstream = append(upstream, f)
	}
	persisted := make([]poi.RawFeature, 0, len(db.rows))
	for _, l := range db.rows {
		persisted = append(persisted, l.ToFeature())
	}

	entries := merge.Merge(d.MergeCfg, upstream, persisted)
	out := queryResponse{Data: make([]featureEntry, 0, len(entries)), Upstream: upstreamState}
	for _, e := range entries {
		out.Data = append(out.Data, toEntry(e))
	}
	_ = d.Store.IncrQueryStats(ctx)
	metrics.QueryDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	writeJSON(w, http.StatusOK, out)
}

// queryUpstreamCached：上游查询的 Redis 缓存外壳
// 约束：仅缓存成功结果；不可达错误不缓存，下一次请求重新尝试镜像
func (d Deps) queryUpstreamCached(r *http.Request, b poi.BBox, f overpass.Filters) ([]poi.RawFeature, error) {
	ctx := r.Context()
	key := fmt.Sprintf("ov:%g,%g,%g,%g|%s|%s|%d",
		b.South, b.West, b.North, b.East, strings.Join(f.Categories, "+"), f.Text, f.Limit)
	if d.Redis != nil {
		if s, err := d.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			var feats []poi.RawFeature
			if json.Unmarshal([]byte(s), &feats) == nil {
				metrics.RedisHitsTotal.Inc()
				return feats, nil
			}
		}
		metrics.RedisMissesTotal.Inc()
	}
	feats, err := d.Upstream.Query(ctx, b, f)
	if err != nil {
		return nil, err
	}
	if d.Redis != nil {
		if bts, err := json.Marshal(feats); err == nil {
			d.Redis.Set(ctx, key, string(bts), 5*time.Minute)
		}
	}
	return feats, nil
}

func parseBBox(r *http.Request) (poi.BBox, bool) {
	q := r.URL.Query()
	var b poi.BBox
	var err error
	read := func(name string) (float64, error) {
		return strconv.ParseFloat(q.Get(name), 64)
	}
	if b.South, err = read("south"); err != nil {
		return b, false
	}
	if b.West, err = read("west"); err != nil {
		return b, false
	}
	if b.North, err = read("north"); err != nil {
		return b, false
	}
	if b.East, err = read("east"); err != nil {
		return b, false
	}
	return b, b.Valid()
}

func toEntry(e merge.Entry) featureEntry {
	f := e.Feature
	key, _ := poi.CanonicalKey(f)
	origin := "osm"
	id := f.ID
	if f.FromApp() {
		origin = "app"
		if id == 0 {
			id = f.AppID
		}
	}
	return featureEntry{
		ID:       id,
		Key:      key,
		Name:     f.Name,
		Lat:      e.Lat,
		Lon:      e.Lon,
		Category: f.Category,
		Icon:     f.Icon,
		Origin:   origin,
		Count:    e.Count,
		AppID:    f.AppID,
	}
}
