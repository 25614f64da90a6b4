// 包 importer：导入（晋升）管线，把上游要素复制进持久存储并补齐属地元数据
package importer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
	"poi-api/internal/nominatim"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
	"poi-api/internal/store"
)

// Upstream：上游详情取数能力（镜像故障转移由实现承担）
type Upstream interface {
	FetchDetail(ctx context.Context, kind poi.SourceKind, id int64, prefetched *poi.RawFeature) (poi.RawFeature, []string, error)
	FetchDetailFrom(ctx context.Context, kind poi.SourceKind, id int64, usedMirrors []string) (poi.RawFeature, []string, error)
}

// Geocoder：坐标反解能力
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (nominatim.Result, error)
}

// Storage：导入管线所需的持久层操作子集
type Storage interface {
	FindByOrigin(ctx context.Context, kind poi.SourceKind, id int64) (*store.Location, error)
	FindByNamePos(ctx context.Context, name string, lat, lon float64) (*store.Location, error)
	InsertLocation(ctx context.Context, n store.NewLocation) (int64, bool, error)
	UpdateLocality(ctx context.Context, id int64, city, state, country string) error
	AddFavorite(ctx context.Context, userID, locationID int64) error
	EnqueueBackfill(ctx context.Context, locationID int64, osmID string, lat, lon float64, payload map[string]string) error
	IncrImportStats(ctx context.Context) error
}

// Locality：三级行政区快照，响应中回显给调用方
type Locality struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// Result：导入结果
// 约束：行落库之后的任何步骤失败都只降级为 Warnings，不推翻已成功的导入
type Result struct {
	ID       int64
	Existing bool
	Backfill *Locality
	Warnings []string
}

// 文档注释：导入管线
// 背景：对每个上游编号维持进程级“至多一个在途导入”；重复并发请求直接短路，
// 避免重复的网络与数据库副作用。锁只护住在途集合，绝不跨网络调用持有。
type Importer struct {
	up      Upstream
	geo     Geocoder
	st      Storage
	rules   []poi.Rule
	allowed []string
	colSet  map[string]bool

	mu       sync.Mutex
	inflight map[string]bool
}

// New：构造导入管线
// 参数 columnSet 来自启动期列内省；构造前应已通过 ValidateMapping 校验
func New(up Upstream, geo Geocoder, st Storage, rules []poi.Rule, allowed []string, columnSet map[string]bool) *Importer {
	return &Importer{
		up: up, geo: geo, st: st,
		rules: rules, allowed: allowed, colSet: columnSet,
		inflight: map[string]bool{},
	}
}

func (im *Importer) acquire(key string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.inflight[key] {
		return false
	}
	im.inflight[key] = true
	return true
}

func (im *Importer) release(key string) {
	im.mu.Lock()
	delete(im.inflight, key)
	im.mu.Unlock()
}

// 文档注释：执行一次导入
// 状态机：取数 → 国别确认 → 身份复用 → 动态映射 → 插入或复用 → 归属关联 → 属地回填。
// 失败语义：前两步为终态失败；其后一旦行存在，任何失败都降级为警告返回。
func (im *Importer) Promote(ctx context.Context, kind poi.SourceKind, id int64, userID int64, prefetched *poi.RawFeature) (*Result, error) {
	metrics.ImportRequestsTotal.Inc()
	t0 := time.Now()
	key := kind.Letter() + ":" + strconv.FormatInt(id, 10)
	if !im.acquire(key) {
		metrics.ImportOutcomeTotal.WithLabelValues("in_progress").Inc()
		return nil, ErrInProgress
	}
	defer im.release(key)
	defer func() {
		metrics.ImportDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	}()

	// 1. 取数
	f, usedMirrors, err := im.up.FetchDetail(ctx, kind, id, prefetched)
	if err != nil {
		if errors.Is(err, overpass.ErrNotFound) {
			metrics.ImportOutcomeTotal.WithLabelValues("not_found").Inc()
		} else {
			metrics.ImportOutcomeTotal.WithLabelValues("unreachable").Inc()
		}
		return nil, err
	}

	// 2. 国别确认（允许清单为空时本步骤恒通过）
	if err := im.confirmCountry(ctx, &f, kind, id, usedMirrors); err != nil {
		metrics.ImportOutcomeTotal.WithLabelValues("country_mismatch").Inc()
		return nil, err
	}

	// 3. 身份复用
	if l, err := im.st.FindByOrigin(ctx, kind, id); err == nil && l != nil {
		logger.L().Info("import_reuse_origin", "key", key, "id", l.ID)
		metrics.ImportOutcomeTotal.WithLabelValues("existing").Inc()
		return im.finish(ctx, l.ID, true, f, userID, Locality{City: l.City, State: l.State, Country: l.Country}), nil
	} else if err != nil {
		logger.L().Error("import_origin_lookup_error", "key", key, "err", err)
	}
	if f.HasPos && f.Name != "" {
		if l, err := im.st.FindByNamePos(ctx, f.Name, f.Lat, f.Lon); err == nil && l != nil {
			logger.L().Info("import_reuse_namepos", "key", key, "id", l.ID)
			metrics.ImportOutcomeTotal.WithLabelValues("existing").Inc()
			return im.finish(ctx, l.ID, true, f, userID, Locality{City: l.City, State: l.State, Country: l.Country}), nil
		}
	}

	// 4. 动态映射与类型推断
	cols, extra := mapTags(f.Tags, im.colSet)
	category := poi.Classify(im.rules, f.Tags, f.Name)
	n := store.NewLocation{
		Name:      f.Name,
		Type:      category,
		Latitude:  f.Lat,
		Longitude: f.Lon,
		OriginID:  key,
		Logo:      poi.IconFor(category),
		Columns:   cols,
		ExtraTags: extra,
		OwnerID:   userID,
	}
	if n.Name == "" {
		n.Name = key
	}

	// 5. 插入或复用（唯一约束竞态在持久层收敛）
	rowID, existing, err := im.st.InsertLocation(ctx, n)
	if err != nil {
		metrics.ImportOutcomeTotal.WithLabelValues("storage_error").Inc()
		return nil, err
	}
	_ = im.st.IncrImportStats(ctx)
	if existing {
		metrics.ImportOutcomeTotal.WithLabelValues("existing").Inc()
	} else {
		metrics.ImportOutcomeTotal.WithLabelValues("created").Inc()
	}
	return im.finish(ctx, rowID, existing, f, userID, Locality{
		City: cols["city"], State: cols["state"], Country: cols["country"],
	}), nil
}

// 文档注释：国别确认
// 两路信号：显式国别标签（归一 ISO）与坐标反解；任一命中允许清单即通过。
// 均未命中时用未试过的镜像重取一轮再判，仍不通过则以 CountryMismatchError 终止。
func (im *Importer) confirmCountry(ctx context.Context, f *poi.RawFeature, kind poi.SourceKind, id int64, usedMirrors []string) error {
	if len(im.allowed) == 0 {
		return nil
	}
	tagCC, geoCC := im.countrySignals(ctx, *f)
	if inList(tagCC, im.allowed) || inList(geoCC, im.allowed) {
		return nil
	}
	logger.L().Warn("import_country_retry", "tag", tagCC, "revgeo", geoCC)
	// 单轮重取：仅尝试未用过的镜像；重取失败不改变原判定
	if f2, _, err := im.up.FetchDetailFrom(ctx, kind, id, usedMirrors); err == nil {
		tagCC2, geoCC2 := im.countrySignals(ctx, f2)
		if inList(tagCC2, im.allowed) || inList(geoCC2, im.allowed) {
			*f = f2
			return nil
		}
		if tagCC2 != "" {
			tagCC = tagCC2
		}
		if geoCC2 != "" {
			geoCC = geoCC2
		}
	}
	return &CountryMismatchError{TagSignal: tagCC, GeoSignal: geoCC, Allowed: im.allowed}
}

// countrySignals：提取两路国别信号
func (im *Importer) countrySignals(ctx context.Context, f poi.RawFeature) (tagCC, geoCC string) {
	tagCC = NormalizeCountry(f.Tags.First("addr:country", "is_in:country", "country"))
	if f.HasPos && im.geo != nil {
		if r, err := im.geo.Reverse(ctx, f.Lat, f.Lon); err == nil {
			geoCC = r.CountryCode
		}
	}
	return tagCC, geoCC
}

// 文档注释：行已存在后的收尾步骤
// 背景：归属关联与属地回填都是尽力而为；失败只追加警告，id 照常返回
func (im *Importer) finish(ctx context.Context, rowID int64, existing bool, f poi.RawFeature, userID int64, loc Locality) *Result {
	res := &Result{ID: rowID, Existing: existing}

	// 6. 归属关联（幂等）
	if userID > 0 {
		if err := im.st.AddFavorite(ctx, userID, rowID); err != nil {
			logger.L().Error("import_favorite_error", "id", rowID, "err", err)
			res.Warnings = append(res.Warnings, "favorite association failed")
		}
	}

	// 7. 属地解析：标签映射不全时即时反解一次，仍不全则入队异步回填
	if !completeLocality(loc) && f.HasPos && im.geo != nil {
		if r, err := im.geo.Reverse(ctx, f.Lat, f.Lon); err == nil {
			if loc.City == "" {
				loc.City = r.City
			}
			if loc.State == "" {
				loc.State = r.State
			}
			if loc.Country == "" {
				loc.Country = r.CountryCode
			}
		} else {
			logger.L().Warn("import_revgeo_warn", "id", rowID, "err", err)
			res.Warnings = append(res.Warnings, "immediate locality resolution failed")
		}
	}
	if loc.City != "" || loc.State != "" || loc.Country != "" {
		if err := im.st.UpdateLocality(ctx, rowID, loc.City, loc.State, loc.Country); err != nil {
			logger.L().Error("import_locality_update_error", "id", rowID, "err", err)
			res.Warnings = append(res.Warnings, "locality update failed")
		}
	}
	if !completeLocality(loc) && f.HasPos {
		key, _ := poi.CanonicalKey(f)
		if err := im.st.EnqueueBackfill(ctx, rowID, key, f.Lat, f.Lon, map[string]string{"name": f.Name}); err != nil {
			logger.L().Error("import_backfill_enqueue_error", "id", rowID, "err", err)
			res.Warnings = append(res.Warnings, "backfill enqueue failed")
		}
	}
	res.Backfill = &Locality{City: loc.City, State: loc.State, Country: loc.Country}
	return res
}

func completeLocality(l Locality) bool {
	return l.City != "" && l.State != "" && l.Country != ""
}

func inList(v string, list []string) bool {
	if v == "" {
		return false
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
