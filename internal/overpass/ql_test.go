package overpass

import (
	"strings"
	"testing"

	"poi-api/internal/poi"
)

func TestBuildBBoxQL(t *testing.T) {
	b := poi.BBox{South: 52.1, West: 13.2, North: 52.9, East: 13.8}

	ql := buildBBoxQL(b, Filters{})
	if !strings.Contains(ql, "[out:json]") {
		t.Fatalf("missing out:json header: %s", ql)
	}
	if !strings.Contains(ql, "(52.1,13.2,52.9,13.8)") {
		t.Fatalf("bbox not embedded: %s", ql)
	}
	// 三类要素都要覆盖
	for _, kw := range []string{"node", "way", "relation"} {
		if !strings.Contains(ql, kw) {
			t.Fatalf("missing %s selector: %s", kw, ql)
		}
	}
	if !strings.Contains(ql, "out tags center 200;") {
		t.Fatalf("default limit not applied: %s", ql)
	}

	ql = buildBBoxQL(b, Filters{Categories: []string{"fuel"}, Limit: 50})
	if !strings.Contains(ql, "charging_station") {
		t.Fatalf("fuel selector missing: %s", ql)
	}
	if !strings.Contains(ql, "out tags center 50;") {
		t.Fatalf("explicit limit not applied: %s", ql)
	}

	// 未知分类回退为通用选择器而不是空查询
	ql = buildBBoxQL(b, Filters{Categories: []string{"nonexistent"}})
	if !strings.Contains(ql, `["name"]`) {
		t.Fatalf("unknown category must fall back to the generic selector: %s", ql)
	}

	// 超限额度钳制到默认值
	ql = buildBBoxQL(b, Filters{Limit: 9999})
	if !strings.Contains(ql, "out tags center 200;") {
		t.Fatalf("limit not clamped: %s", ql)
	}
}

func TestBuildBBoxQLTextEscaped(t *testing.T) {
	b := poi.BBox{South: 52, West: 13, North: 53, East: 14}
	ql := buildBBoxQL(b, Filters{Text: `ca"fe].*`})
	if strings.Contains(ql, `ca"fe`) {
		t.Fatalf("quote not stripped from text filter: %s", ql)
	}
	if strings.Contains(ql, `].*(`) {
		t.Fatalf("regex metacharacters leaked: %s", ql)
	}
}

func TestBuildDetailQL(t *testing.T) {
	ql := buildDetailQL(poi.KindWay, 77)
	if ql != "[out:json][timeout:25];way(77);out tags center;" {
		t.Fatalf("detail query = %s", ql)
	}
}
