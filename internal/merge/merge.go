// 包 merge：双来源结果合并与去重引擎（身份去重 + 位置/模糊名聚类）
package merge

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TomiHiltunen/geohash-golang"
	"github.com/agnivade/levenshtein"
	"github.com/golang/geo/s2"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
	"poi-api/internal/poi"
)

// 文档注释：合并参数
// 背景：格网精度与相似度阈值为经验值，不同地区的重复/非重复样本分布不同，
// 必须可配置并用真实样本校验，而不是固化常量。
type Config struct {
	CellPrecision  int
	NameSimilarity float64
}

// FromEnv：读取合并参数；默认 geohash 精度 7、相似度 0.82
func FromEnv() Config {
	cfg := Config{CellPrecision: 7, NameSimilarity: 0.82}
	if s := os.Getenv("MERGE_CELL_PRECISION"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 4 && n <= 9 {
			cfg.CellPrecision = n
		}
	}
	if s := os.Getenv("MERGE_NAME_SIMILARITY"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
			cfg.NameSimilarity = f
		}
	}
	return cfg
}

// 各精度下 geohash 单元格的近似边长（米），用于聚类距离守卫
var cellSizeM = map[int]float64{4: 39100, 5: 4900, 6: 1220, 7: 153, 8: 38, 9: 4.8}

// Entry：合并后的单个展示条目
// 约束：坐标为簇内成员质心；属性继承最高优先级成员；Count 供界面披露折叠数量
type Entry struct {
	Feature poi.RawFeature
	Lat     float64
	Lon     float64
	Count   int
}

// 文档注释：合并两个来源的结果集
// 背景：同一真实地点可能以不同身份出现在两个来源中；先按规范键（含别名变体）做精确
// 身份去重，再在空间格网内按归一化名称相似度聚类收敛近似重复。
// 约束：
// 1) 应用记录在身份相同时恒定胜出上游要素，与输入顺序无关；
// 2) 对已合并的输出再次执行合并不改变结果（幂等）。
func Merge(cfg Config, upstream, persisted []poi.RawFeature) []Entry {
	t0 := time.Now()
	in := len(upstream) + len(persisted)
	metrics.MergeInputTotal.Add(float64(in))

	survivors := identityPass(upstream, persisted)
	entries := positionalPass(cfg, survivors)

	metrics.MergeCollapsedTotal.Add(float64(in - len(entries)))
	metrics.MergeDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	logger.L().Debug("merge_done", "in", in, "survivors", len(survivors), "entries", len(entries))
	return entries
}

// 文档注释：第一阶段，规范身份去重
// 背景：应用优先级规则使结果与两表遍历顺序无关：身份冲突时应用记录总是替换上游要素，
// 同来源冲突保留先见者。
func identityPass(upstream, persisted []poi.RawFeature) []poi.RawFeature {
	var out []poi.RawFeature
	seen := map[string]int{} // 别名 → out 下标

	admit := func(f poi.RawFeature) {
		aliases := poi.AliasVariants(f)
		if len(aliases) == 0 {
			// 无身份要素不参与身份去重，交由位置聚类兜底
			out = append(out, f)
			return
		}
		hit := -1
		for _, a := range aliases {
			if i, ok := seen[a]; ok {
				hit = i
				break
			}
		}
		if hit >= 0 {
			if f.FromApp() && !out[hit].FromApp() {
				out[hit] = f
			}
			for _, a := range aliases {
				if _, ok := seen[a]; !ok {
					seen[a] = hit
				}
			}
			return
		}
		out = append(out, f)
		for _, a := range aliases {
			seen[a] = len(out) - 1
		}
	}

	// 先应用记录后上游；admit 的替换规则保证即使顺序倒置结果集也一致
	for _, f := range persisted {
		admit(f)
	}
	for _, f := range upstream {
		admit(f)
	}
	return out
}

type cluster struct {
	repName string // 首个成员的归一化名称，作为相似度比较代表
	members []poi.RawFeature
}

// 文档注释：第二阶段，位置格网内模糊名聚类
// 背景：不同身份的同一地点（两来源各自编号）只能靠“相邻 + 名称近似”收敛；
// 以 geohash 单元为格网，格内按代表名相似度增量聚类，首个达标簇即加入。
// 约束：无名称或无坐标的要素不参与聚类，各自成条；跨单元不比较。
func positionalPass(cfg Config, features []poi.RawFeature) []Entry {
	maxDist := 2 * cellSizeM[cfg.CellPrecision]
	cells := map[string][]poi.RawFeature{}
	var order []string // 保持单元处理顺序稳定
	var loners []poi.RawFeature
	for _, f := range features {
		if !f.HasPos || f.Name == "" {
			loners = append(loners, f)
			continue
		}
		key := geohash.EncodeWithPrecision(f.Lat, f.Lon, cfg.CellPrecision)
		if _, ok := cells[key]; !ok {
			order = append(order, key)
		}
		cells[key] = append(cells[key], f)
	}

	var entries []Entry
	for _, key := range order {
		var cs []*cluster
		for _, f := range cells[key] {
			name := normalizeName(f.Name)
			joined := false
			for _, c := range cs {
				if nameSimilarity(name, c.repName) < cfg.NameSimilarity {
					continue
				}
				if centroidDistanceM(c.members, f) > maxDist {
					continue
				}
				c.members = append(c.members, f)
				joined = true
				break
			}
			if !joined {
				cs = append(cs, &cluster{repName: name, members: []poi.RawFeature{f}})
			}
		}
		for _, c := range cs {
			entries = append(entries, collapse(c.members))
		}
	}
	for _, f := range loners {
		entries = append(entries, Entry{Feature: f, Lat: f.Lat, Lon: f.Lon, Count: 1})
	}
	return entries
}

// collapse：簇收敛为单条目，质心坐标 + 最高优先级成员属性
func collapse(members []poi.RawFeature) Entry {
	best := members[0]
	for _, m := range members[1:] {
		if m.FromApp() && !best.FromApp() {
			best = m
		}
	}
	var lat, lon float64
	for _, m := range members {
		lat += m.Lat
		lon += m.Lon
	}
	n := float64(len(members))
	return Entry{Feature: best, Lat: lat / n, Lon: lon / n, Count: len(members)}
}

// centroidDistanceM：要素到簇当前质心的球面距离（米）
func centroidDistanceM(members []poi.RawFeature, f poi.RawFeature) float64 {
	var lat, lon float64
	for _, m := range members {
		lat += m.Lat
		lon += m.Lon
	}
	n := float64(len(members))
	a := s2.LatLngFromDegrees(lat/n, lon/n)
	b := s2.LatLngFromDegrees(f.Lat, f.Lon)
	return a.Distance(b).Radians() * 6371010
}

// normalizeName：小写、去首尾空白、压缩连续空白
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// 文档注释：归一化名称相似度（0–1）
// 背景：连锁品牌常见“短名 + 业态后缀”的写法（如 Shell 与 Shell Gas Station），
// 纯编辑距离比值会把这类同店判为不同；短名整体作为长名子串时直接视为同名。
// 约束：子串判定要求短名长度 ≥ 3，避免过短名称误并。
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) >= 3 && strings.Contains(long, short) {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	la := len([]rune(a))
	lb := len([]rune(b))
	m := la
	if lb > m {
		m = lb
	}
	if m == 0 {
		return 0
	}
	return 1 - float64(d)/float64(m)
}
