package overpass

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"poi-api/internal/poi"
)

func mirrorServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(handler)
	t.Cleanup(s.Close)
	return s
}

func okBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

const shellNode = `{"elements":[{"type":"node","id":123,"lat":52.5,"lon":13.4,"tags":{"name":"Shell","amenity":"fuel"}}]}`

func TestQueryFirstMirrorWins(t *testing.T) {
	var second atomic.Int32
	m1 := mirrorServer(t, okBody(shellNode))
	m2 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		second.Add(1)
	})
	c := New([]string{m1.URL, m2.URL}, time.Second)

	got, err := c.Query(context.Background(), poi.BBox{South: 52, West: 13, North: 53, East: 14}, Filters{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Shell" || got[0].ID != 123 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !got[0].HasPos || got[0].Lat != 52.5 {
		t.Fatalf("position not carried: %+v", got[0])
	}
	if second.Load() != 0 {
		t.Fatal("second mirror must not be contacted when the first succeeds")
	}
}

func TestQueryFailover(t *testing.T) {
	m1 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	m2 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	m3 := mirrorServer(t, okBody(shellNode))
	c := New([]string{m1.URL, m2.URL, m3.URL}, time.Second)

	got, err := c.Query(context.Background(), poi.BBox{South: 52, West: 13, North: 53, East: 14}, Filters{})
	if err != nil {
		t.Fatalf("Query after failover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got))
	}
}

func TestQueryAllMirrorsFail(t *testing.T) {
	m1 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	m2 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := New([]string{m1.URL, m2.URL}, time.Second)

	_, err := c.Query(context.Background(), poi.BBox{South: 52, West: 13, North: 53, East: 14}, Filters{})
	var ue *UnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
	// 错误必须携带逐镜像轨迹
	if len(ue.Attempts) != 2 {
		t.Fatalf("attempt trail length = %d; want 2", len(ue.Attempts))
	}
	if ue.Attempts[0].Status != http.StatusBadGateway || ue.Attempts[1].Status != http.StatusTooManyRequests {
		t.Fatalf("attempt trail wrong: %+v", ue.Attempts)
	}
}

// 零结果是正常成功，与不可达严格区分
func TestQueryEmptyResultIsNotError(t *testing.T) {
	m := mirrorServer(t, okBody(`{"elements":[]}`))
	c := New([]string{m.URL}, time.Second)
	got, err := c.Query(context.Background(), poi.BBox{South: 52, West: 13, North: 53, East: 14}, Filters{})
	if err != nil {
		t.Fatalf("empty result must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d", len(got))
	}
}

func TestFetchDetailNotFound(t *testing.T) {
	m := mirrorServer(t, okBody(`{"elements":[]}`))
	c := New([]string{m.URL}, time.Second)
	_, _, err := c.FetchDetail(context.Background(), poi.KindNode, 999, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchDetailPrefetchedSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	m := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		okBody(shellNode)(w, r)
	})
	c := New([]string{m.URL}, time.Second)
	pre := &poi.RawFeature{Kind: poi.KindNode, ID: 123, Name: "Shell"}

	f, used, err := c.FetchDetail(context.Background(), poi.KindNode, 123, pre)
	if err != nil || f.Name != "Shell" {
		t.Fatalf("prefetched reuse failed: %+v, %v", f, err)
	}
	if len(used) != 0 || hits.Load() != 0 {
		t.Fatal("prefetched detail must not touch the network")
	}

	// 编号不一致的预取数据不可复用
	_, _, err = c.FetchDetail(context.Background(), poi.KindNode, 456, pre)
	if err != nil {
		t.Fatalf("mismatched prefetch must fall back to fetch: %v", err)
	}
	if hits.Load() == 0 {
		t.Fatal("expected a network fetch for mismatched prefetch")
	}
}

func TestFetchDetailUsedMirrors(t *testing.T) {
	m1 := mirrorServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	m2 := mirrorServer(t, okBody(shellNode))
	m3 := mirrorServer(t, okBody(shellNode))
	c := New([]string{m1.URL, m2.URL, m3.URL}, time.Second)

	_, used, err := c.FetchDetail(context.Background(), poi.KindNode, 123, nil)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	// 已用集合包含失败镜像与命中镜像，不含未尝试的镜像
	if len(used) != 2 || !contains(used, m1.URL) || !contains(used, m2.URL) {
		t.Fatalf("used mirrors = %v", used)
	}
	if contains(used, m3.URL) {
		t.Fatal("untried mirror must not be marked used")
	}

	// 重试轮仅允许未用过的镜像
	_, _, err = c.FetchDetailFrom(context.Background(), poi.KindNode, 123, used)
	if err != nil {
		t.Fatalf("FetchDetailFrom: %v", err)
	}
	var ue *UnreachableError
	_, _, err = c.FetchDetailFrom(context.Background(), poi.KindNode, 123, []string{m1.URL, m2.URL, m3.URL})
	if !errors.As(err, &ue) {
		t.Fatalf("exhausted mirror set must be unreachable, got %v", err)
	}
}

func TestWayUsesCenter(t *testing.T) {
	m := mirrorServer(t, okBody(`{"elements":[{"type":"way","id":7,"center":{"lat":48.1,"lon":11.5},"tags":{"name":"Marienplatz"}}]}`))
	c := New([]string{m.URL}, time.Second)
	f, _, err := c.FetchDetail(context.Background(), poi.KindWay, 7, nil)
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	if !f.HasPos || f.Lat != 48.1 || f.Lon != 11.5 {
		t.Fatalf("center coordinates not used: %+v", f)
	}
	if f.Kind != poi.KindWay {
		t.Fatalf("kind = %v; want way", f.Kind)
	}
}
