package poi

import (
	"reflect"
	"testing"
)

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		name string
		f    RawFeature
		want string
		ok   bool
	}{
		{"node", RawFeature{Kind: KindNode, ID: 123}, "N:123", true},
		{"way", RawFeature{Kind: KindWay, ID: 7}, "W:7", true},
		{"relation", RawFeature{Kind: KindRelation, ID: 42}, "R:42", true},
		{"app_record", RawFeature{Kind: KindAppRecord, AppID: 9}, "A:9", true},
		{"app_with_origin", RawFeature{Kind: KindNode, ID: 123, AppID: 9}, "N:123", true},
		{"no_identity", RawFeature{Name: "unnamed"}, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := CanonicalKey(c.f)
			if got != c.want || ok != c.ok {
				t.Fatalf("CanonicalKey(%+v) = %q, %v; want %q, %v", c.f, got, ok, c.want, c.ok)
			}
		})
	}
}

// 同一要素的规范键多次计算必须一致
func TestCanonicalKeyStable(t *testing.T) {
	f := RawFeature{Kind: KindWay, ID: 4242}
	a, _ := CanonicalKey(f)
	b, _ := CanonicalKey(f)
	if a != b {
		t.Fatalf("unstable canonical key: %q vs %q", a, b)
	}
}

func TestAliasVariants(t *testing.T) {
	got := AliasVariants(RawFeature{Kind: KindNode, ID: 123})
	want := []string{"N:123", "123", "N123"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AliasVariants = %v; want %v", got, want)
	}
	if got[0] != "N:123" {
		t.Fatalf("first variant must be the canonical key, got %q", got[0])
	}
	if AliasVariants(RawFeature{}) != nil {
		t.Fatal("identity-less feature should yield no variants")
	}
}

func TestParseOrigin(t *testing.T) {
	cases := []struct {
		in   string
		kind SourceKind
		id   int64
		ok   bool
	}{
		{"N:123", KindNode, 123, true},
		{"W:7", KindWay, 7, true},
		{"r:42", KindRelation, 42, true},
		{"N123", KindNode, 123, true},
		{"W7", KindWay, 7, true},
		{"123", KindNode, 123, true},
		{" N:123 ", KindNode, 123, true},
		{"", KindNode, 0, false},
		{"N:", KindNode, 0, false},
		{"N:-5", KindNode, 0, false},
		{"abc", KindNode, 0, false},
	}
	for _, c := range cases {
		kind, id, ok := ParseOrigin(c.in)
		if kind != c.kind || id != c.id || ok != c.ok {
			t.Errorf("ParseOrigin(%q) = %v, %d, %v; want %v, %d, %v", c.in, kind, id, ok, c.kind, c.id, c.ok)
		}
	}
}

// 规范键与来源编号解析必须互逆
func TestOriginRoundTrip(t *testing.T) {
	for _, f := range []RawFeature{
		{Kind: KindNode, ID: 1},
		{Kind: KindWay, ID: 99999999},
		{Kind: KindRelation, ID: 31},
	} {
		key, _ := CanonicalKey(f)
		kind, id, ok := ParseOrigin(key)
		if !ok || kind != f.Kind || id != f.ID {
			t.Errorf("round trip failed for %q: got %v, %d, %v", key, kind, id, ok)
		}
	}
}
