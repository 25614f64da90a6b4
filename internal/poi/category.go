package poi

import "strings"

// 文档注释：分类规则
// 背景：上游标签词表松散，分类采用有序规则表做首次命中（first-match）判定；
// 规则顺序即契约，调整顺序会改变分类结果，必须保持声明顺序执行。
// 约束：规则表启动时构建一次，之后只读；运行期扩展仅允许追加式合并（见 MergeRules）。
type Rule struct {
	Name  string
	Match func(tags TagDictionary, displayName string) bool
}

// Classify：按声明顺序返回首个命中规则的分类名；无命中返回空串
func Classify(rules []Rule, tags TagDictionary, displayName string) string {
	for _, r := range rules {
		if r.Match(tags, displayName) {
			return r.Name
		}
	}
	return ""
}

// tagEquals：单键精确匹配
func tagEquals(k, v string) func(TagDictionary, string) bool {
	return func(t TagDictionary, _ string) bool { return t.Get(k) == v }
}

// tagIn：单键对多值的粗粒度归类
func tagIn(k string, vals ...string) func(TagDictionary, string) bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return func(t TagDictionary, _ string) bool { return set[t.Get(k)] }
}

// nameHas：显示名包含子串（不区分大小写）
// 背景：部分来源缺失结构化标签，仅能靠显示名粗判
func nameHas(sub string) func(TagDictionary, string) bool {
	sub = strings.ToLower(sub)
	return func(_ TagDictionary, name string) bool {
		return name != "" && strings.Contains(strings.ToLower(name), sub)
	}
}

// anyOf：谓词逻辑或
func anyOf(ps ...func(TagDictionary, string) bool) func(TagDictionary, string) bool {
	return func(t TagDictionary, name string) bool {
		for _, p := range ps {
			if p(t, name) {
				return true
			}
		}
		return false
	}
}

// notName：排除显示名包含某子串的情形
func notName(sub string) func(TagDictionary, string) bool {
	sub = strings.ToLower(sub)
	return func(_ TagDictionary, name string) bool {
		return !strings.Contains(strings.ToLower(name), sub)
	}
}

// allOf：谓词逻辑与
func allOf(ps ...func(TagDictionary, string) bool) func(TagDictionary, string) bool {
	return func(t TagDictionary, name string) bool {
		for _, p := range ps {
			if !p(t, name) {
				return false
			}
		}
		return true
	}
}

// DefaultRules：内置规则表
// 背景：顺序经过刻意安排：福利/社区设施先于商业类，避免 "food bank" 这类
// 名称被误判为银行；精确标签先于名称子串兜底。
func DefaultRules() []Rule {
	return []Rule{
		{Name: "social_facility", Match: anyOf(
			tagEquals("amenity", "social_facility"),
			tagEquals("amenity", "community_centre"),
			nameHas("food bank"),
			nameHas("tafel"),
		)},
		{Name: "fuel", Match: anyOf(
			tagEquals("amenity", "fuel"),
			tagEquals("amenity", "charging_station"),
		)},
		{Name: "food", Match: anyOf(
			tagIn("amenity", "restaurant", "cafe", "fast_food", "food_court", "ice_cream", "pub", "bar", "biergarten"),
			tagEquals("cuisine", "regional"),
		)},
		{Name: "shop", Match: anyOf(
			tagIn("shop", "supermarket", "convenience", "bakery", "butcher", "greengrocer", "kiosk"),
			tagEquals("amenity", "marketplace"),
		)},
		{Name: "lodging", Match: tagIn("tourism",
			"hotel", "guest_house", "hostel", "motel", "apartment",
			"alpine_hut", "wilderness_hut", "camp_site", "camp_pitch", "caravan_site")},
		{Name: "attraction", Match: tagIn("tourism",
			"attraction", "viewpoint", "museum", "gallery", "artwork", "information", "picnic_site")},
		{Name: "water", Match: anyOf(
			tagEquals("amenity", "drinking_water"),
			tagEquals("amenity", "water_point"),
			tagIn("man_made", "water_well", "water_tap", "spring_box"),
			tagEquals("natural", "spring"),
		)},
		{Name: "health", Match: tagIn("amenity", "pharmacy", "doctors", "hospital", "clinic", "dentist")},
		{Name: "bank", Match: anyOf(
			tagIn("amenity", "bank", "atm"),
			allOf(nameHas("bank"), notName("food bank"), notName("blood bank")),
		)},
		{Name: "worship", Match: tagEquals("amenity", "place_of_worship")},
		{Name: "leisure", Match: tagIn("leisure",
			"park", "nature_reserve", "picnic_table", "playground", "sports_centre", "wildlife_hide")},
		{Name: "transport", Match: anyOf(
			tagIn("amenity", "bicycle_repair_station", "compressed_air", "parking", "bus_station"),
			tagEquals("public_transport", "station"),
		)},
		{Name: "toilets", Match: tagEquals("amenity", "toilets")},
	}
}

// 分类到图标引用的映射；未知分类使用通用标记
var categoryIcons = map[string]string{
	"social_facility": "icon-social",
	"fuel":            "icon-fuel",
	"food":            "icon-food",
	"shop":            "icon-shop",
	"lodging":         "icon-bed",
	"attraction":      "icon-star",
	"water":           "icon-water",
	"health":          "icon-health",
	"bank":            "icon-bank",
	"worship":         "icon-worship",
	"leisure":         "icon-tree",
	"transport":       "icon-bus",
	"toilets":         "icon-wc",
}

// IconFor：分类对应的图标引用
func IconFor(category string) string {
	if ic, ok := categoryIcons[category]; ok {
		return ic
	}
	return "icon-marker"
}
