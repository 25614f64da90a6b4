package importer

import (
	"fmt"
	"strings"

	"poi-api/internal/poi"
)

// 文档注释：标签键到持久列的显式映射表
// 背景：取代历史上“运行期内省列再猜测”的做法；映射按声明顺序求值，
// 一个列的多个候选键按优先级探测。未映射标签进入归一化兜底，再不行进 extra_tags，
// 绝不静默丢弃。
type mappingEntry struct {
	Column string
	Keys   []string
}

var columnMapping = []mappingEntry{
	{Column: "street", Keys: []string{"addr:street"}},
	{Column: "housenumber", Keys: []string{"addr:housenumber"}},
	{Column: "city", Keys: []string{"addr:city"}},
	{Column: "postcode", Keys: []string{"addr:postcode"}},
	{Column: "state", Keys: []string{"addr:state", "addr:province"}},
	{Column: "country", Keys: []string{"addr:country"}},
	{Column: "phone", Keys: []string{"phone", "contact:phone", "contact:mobile"}},
	{Column: "website", Keys: []string{"website", "contact:website", "url"}},
	{Column: "email", Keys: []string{"email", "contact:email"}},
	{Column: "opening_hours", Keys: []string{"opening_hours"}},
	{Column: "operator", Keys: []string{"operator"}},
	{Column: "brand", Keys: []string{"brand"}},
	{Column: "wheelchair", Keys: []string{"wheelchair"}},
	{Column: "cuisine", Keys: []string{"cuisine"}},
}

// ValidateMapping：核对映射表目标列在真实表结构中存在
// 背景：列发现失败或列缺失应在启动时暴露，而不是让每次导入各自报错
func ValidateMapping(columnSet map[string]bool) error {
	for _, e := range columnMapping {
		if !columnSet[e.Column] {
			return fmt.Errorf("mapping target column %q missing in _poi_locations", e.Column)
		}
	}
	return nil
}

// 文档注释：标签集合翻译为列值
// 三段式：显式映射 → 归一化键名对列名的尽力匹配 → 其余原样进兜底集合。
// 衍生规则：address 由 street + housenumber 组合（两者齐备时）。
func mapTags(tags poi.TagDictionary, columnSet map[string]bool) (cols map[string]string, extra map[string]string) {
	cols = map[string]string{}
	extra = map[string]string{}
	consumed := map[string]bool{}
	for _, e := range columnMapping {
		for _, k := range e.Keys {
			v := tags.Get(k)
			if v == "" {
				continue
			}
			if _, ok := cols[e.Column]; !ok {
				cols[e.Column] = v
			}
			consumed[k] = true
		}
	}
	// 国别列统一存 ISO 代码
	if v, ok := cols["country"]; ok {
		cols["country"] = NormalizeCountry(v)
	}
	if cols["street"] != "" && cols["housenumber"] != "" {
		cols["address"] = cols["street"] + " " + cols["housenumber"]
	}
	for k, v := range tags {
		if consumed[k] || v == "" {
			continue
		}
		if isClassificationKey(k) {
			// 分类主键标签由类型推断消费，不入列也不入兜底
			continue
		}
		nk := normalizeKey(k)
		if columnSet[nk] {
			if _, ok := cols[nk]; !ok {
				cols[nk] = v
				continue
			}
		}
		extra[k] = v
	}
	return cols, extra
}

// normalizeKey：标签键归一化为列名形态
func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.TrimPrefix(k, "addr:")
	k = strings.TrimPrefix(k, "contact:")
	k = strings.ReplaceAll(k, ":", "_")
	k = strings.ReplaceAll(k, "-", "_")
	return k
}

// 分类主键标签：参与类型推断，不作为联系/地址信息持久化
func isClassificationKey(k string) bool {
	switch k {
	case "amenity", "tourism", "shop", "leisure", "natural", "man_made", "name":
		return true
	}
	return false
}
