package overpass

import (
	"fmt"
	"regexp"
	"strings"

	"poi-api/internal/poi"
)

// 文档注释：查询过滤条件
// 背景：对外查询接口的过滤参数在此收敛；Limit 为 0 时使用默认上限
type Filters struct {
	Categories []string
	Text       string
	Limit      int
}

// 分类到上游标签选择器的映射
// 背景：与分类规则表的词表保持一致；上游查询按标签粗筛，精确归类仍由分类器完成
var categorySelectors = map[string]string{
	"social_facility": `["amenity"~"^(social_facility|community_centre)$"]`,
	"fuel":            `["amenity"~"^(fuel|charging_station)$"]`,
	"food":            `["amenity"~"^(restaurant|cafe|fast_food|food_court|ice_cream|pub|bar|biergarten)$"]`,
	"shop":            `["shop"~"^(supermarket|convenience|bakery|butcher|greengrocer|kiosk)$"]`,
	"lodging":         `["tourism"~"^(hotel|guest_house|hostel|motel|apartment|alpine_hut|wilderness_hut|camp_site|camp_pitch|caravan_site)$"]`,
	"attraction":      `["tourism"~"^(attraction|viewpoint|museum|gallery|artwork|information|picnic_site)$"]`,
	"water":           `["amenity"~"^(drinking_water|water_point)$"]`,
	"health":          `["amenity"~"^(pharmacy|doctors|hospital|clinic|dentist)$"]`,
	"bank":            `["amenity"~"^(bank|atm)$"]`,
	"worship":         `["amenity"="place_of_worship"]`,
	"leisure":         `["leisure"~"^(park|nature_reserve|picnic_table|playground|sports_centre|wildlife_hide)$"]`,
	"transport":       `["amenity"~"^(bicycle_repair_station|compressed_air|parking|bus_station)$"]`,
	"toilets":         `["amenity"="toilets"]`,
}

// 无分类过滤时的通用选择器：任一常见 POI 主键标签存在即可
const anySelector = `["name"][~"^(amenity|tourism|shop|leisure|natural|man_made)$"~"."]`

var reQuote = regexp.MustCompile(`["\\]`)

// escapeText：转义正则与引号，避免把用户输入拼进查询语言
func escapeText(s string) string {
	s = reQuote.ReplaceAllString(s, "")
	return regexp.QuoteMeta(s)
}

// 文档注释：构造边界框查询语句
// 背景：语句形态参考常见 POI 抓取查询（按 amenity/tourism 正则粗筛 + out center）；
// way/relation 无自身坐标，统一要求上游附带中心点。
func buildBBoxQL(b poi.BBox, f Filters) string {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	bbox := fmt.Sprintf("(%g,%g,%g,%g)", b.South, b.West, b.North, b.East)
	var sels []string
	if len(f.Categories) == 0 {
		sels = append(sels, anySelector)
	} else {
		for _, c := range f.Categories {
			if s, ok := categorySelectors[c]; ok {
				sels = append(sels, s)
			}
		}
		if len(sels) == 0 {
			sels = append(sels, anySelector)
		}
	}
	text := ""
	if f.Text != "" {
		text = fmt.Sprintf(`["name"~"%s",i]`, escapeText(f.Text))
	}
	var sb strings.Builder
	sb.WriteString("[out:json][timeout:25];(")
	for _, sel := range sels {
		for _, t := range []string{"node", "way", "relation"} {
			sb.WriteString(t)
			sb.WriteString(sel)
			sb.WriteString(text)
			sb.WriteString(bbox)
			sb.WriteString(";")
		}
	}
	fmt.Fprintf(&sb, ");out tags center %d;", limit)
	return sb.String()
}

// buildDetailQL：按类型与编号取单个要素全量标签
func buildDetailQL(kind poi.SourceKind, id int64) string {
	return fmt.Sprintf("[out:json][timeout:25];%s(%d);out tags center;", kind.String(), id)
}
