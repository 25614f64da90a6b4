package importer

import (
	"testing"

	"poi-api/internal/poi"
)

func testColumnSet() map[string]bool {
	return map[string]bool{
		"id": true, "name": true, "type": true, "latitude": true, "longitude": true,
		"origin_id": true, "logo": true, "street": true, "housenumber": true,
		"address": true, "city": true, "state": true, "country": true, "postcode": true,
		"phone": true, "website": true, "email": true, "opening_hours": true,
		"operator": true, "brand": true, "wheelchair": true, "cuisine": true,
		"extra_tags": true, "owner_id": true,
	}
}

func TestValidateMapping(t *testing.T) {
	if err := ValidateMapping(testColumnSet()); err != nil {
		t.Fatalf("complete column set rejected: %v", err)
	}
	broken := testColumnSet()
	delete(broken, "phone")
	if err := ValidateMapping(broken); err == nil {
		t.Fatal("missing mapping target column must be rejected")
	}
}

func TestMapTagsExplicit(t *testing.T) {
	tags := poi.TagDictionary{
		"addr:street":      "Hauptstraße",
		"addr:housenumber": "12",
		"addr:city":        "Berlin",
		"phone":            "+49 30 1234",
		"website":          "https://example.org",
		"opening_hours":    "Mo-Fr 09:00-18:00",
	}
	cols, extra := mapTags(tags, testColumnSet())
	if cols["street"] != "Hauptstraße" || cols["city"] != "Berlin" || cols["phone"] != "+49 30 1234" {
		t.Fatalf("explicit mapping failed: %v", cols)
	}
	// 衍生地址 = street + housenumber
	if cols["address"] != "Hauptstraße 12" {
		t.Fatalf("derived address = %q", cols["address"])
	}
	if len(extra) != 0 {
		t.Fatalf("nothing should land in extra: %v", extra)
	}
}

func TestMapTagsKeyPriority(t *testing.T) {
	// 同列多候选键按声明优先级取值
	tags := poi.TagDictionary{"contact:phone": "B", "phone": "A"}
	cols, _ := mapTags(tags, testColumnSet())
	if cols["phone"] != "A" {
		t.Fatalf("phone candidate priority violated: %q", cols["phone"])
	}
}

func TestMapTagsNormalizedFallback(t *testing.T) {
	// 无显式映射的键，归一化后与列名一致则尽力入列
	tags := poi.TagDictionary{"addr:postcode": "10115"}
	cols, extra := mapTags(tags, testColumnSet())
	if cols["postcode"] != "10115" {
		t.Fatalf("normalized fallback failed: cols=%v extra=%v", cols, extra)
	}
}

func TestMapTagsExtraCatchAll(t *testing.T) {
	tags := poi.TagDictionary{
		"stars":      "4",
		"roof:shape": "flat",
	}
	cols, extra := mapTags(tags, testColumnSet())
	if len(cols) != 0 {
		t.Fatalf("unmapped keys must not produce columns: %v", cols)
	}
	// 未映射标签原样保留，绝不静默丢弃
	if extra["stars"] != "4" || extra["roof:shape"] != "flat" {
		t.Fatalf("extra catch-all lost tags: %v", extra)
	}
}

func TestMapTagsClassificationKeysSkipped(t *testing.T) {
	tags := poi.TagDictionary{"amenity": "fuel", "name": "Shell", "brand": "Shell"}
	cols, extra := mapTags(tags, testColumnSet())
	if _, ok := extra["amenity"]; ok {
		t.Fatal("classification keys must not leak into extra_tags")
	}
	if _, ok := extra["name"]; ok {
		t.Fatal("name is persisted as a first-class field, not a tag")
	}
	if cols["brand"] != "Shell" {
		t.Fatalf("brand mapping lost: %v", cols)
	}
}

func TestMapTagsCountryNormalized(t *testing.T) {
	cols, _ := mapTags(poi.TagDictionary{"addr:country": "Germany"}, testColumnSet())
	if cols["country"] != "DE" {
		t.Fatalf("country not normalized to ISO: %q", cols["country"])
	}
}

func TestNormalizeCountry(t *testing.T) {
	cases := map[string]string{
		"de":          "DE",
		"DE":          "DE",
		"Germany":     "DE",
		"deutschland": "DE",
		"France":      "FR",
		"XYZ":         "XYZ",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeCountry(in); got != want {
			t.Errorf("NormalizeCountry(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestAllowedCountriesFromEnv(t *testing.T) {
	t.Setenv("IMPORT_COUNTRY_ALLOW", "de, FR , ch")
	got := AllowedCountriesFromEnv()
	if len(got) != 3 || got[0] != "DE" || got[1] != "FR" || got[2] != "CH" {
		t.Fatalf("AllowedCountriesFromEnv = %v", got)
	}
	t.Setenv("IMPORT_COUNTRY_ALLOW", "")
	if got := AllowedCountriesFromEnv(); len(got) != 0 {
		t.Fatalf("empty env must disable the gate: %v", got)
	}
}
