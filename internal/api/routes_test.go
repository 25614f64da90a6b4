package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"poi-api/internal/importer"
	"poi-api/internal/merge"
	"poi-api/internal/overpass"
	"poi-api/internal/poi"
	"poi-api/internal/store"
)

// fakePersisted：持久层替身
type fakePersisted struct {
	rows    []*store.Location
	err     error
	pingErr error
	queries int
}

func (f *fakePersisted) QueryBBox(ctx context.Context, b poi.BBox, q store.QueryFilters) ([]*store.Location, error) {
	return f.rows, f.err
}
func (f *fakePersisted) IncrQueryStats(ctx context.Context) error {
	f.queries++
	return nil
}
func (f *fakePersisted) IncrImportStats(ctx context.Context) error { return nil }
func (f *fakePersisted) GetTotals(ctx context.Context) (*store.Totals, error) {
	return &store.Totals{TotalQueries: 10, TotalImports: 3}, nil
}
func (f *fakePersisted) Ping(ctx context.Context) error { return f.pingErr }

// fakeUpstream：上游查询替身
type fakeUpstream struct {
	feats []poi.RawFeature
	err   error
}

func (f *fakeUpstream) Query(ctx context.Context, b poi.BBox, fl overpass.Filters) ([]poi.RawFeature, error) {
	return f.feats, f.err
}

// fakePromoter：导入管线替身
type fakePromoter struct {
	res  *importer.Result
	err  error
	kind poi.SourceKind
	id   int64
}

func (f *fakePromoter) Promote(ctx context.Context, kind poi.SourceKind, id int64, userID int64, prefetched *poi.RawFeature) (*importer.Result, error) {
	f.kind, f.id = kind, id
	return f.res, f.err
}

// fakeAuth：会话校验替身
type fakeAuth struct {
	uid     int64
	ok      bool
	csrfOK  bool
	issued  string
	checked string
}

func (f *fakeAuth) UserID(r *http.Request) (int64, bool) { return f.uid, f.ok }
func (f *fakeAuth) CheckCSRF(r *http.Request, token string) bool {
	f.checked = token
	return f.csrfOK
}
func (f *fakeAuth) IssueCSRF(sessionValue string) string { return f.issued }

func testDeps(st *fakePersisted, up *fakeUpstream, pr *fakePromoter, auth *fakeAuth) Deps {
	return Deps{
		Store:    st,
		Upstream: up,
		Importer: pr,
		Auth:     auth,
		Rules:    poi.DefaultRules(),
		MergeCfg: merge.Config{CellPrecision: 7, NameSimilarity: 0.82},
	}
}

func doPois(t *testing.T, d Deps, query string) (*httptest.ResponseRecorder, queryResponse) {
	t.Helper()
	mux := BuildRoutes(d)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pois?"+query, nil))
	var out queryResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, out
}

const bboxQuery = "south=52.4&west=13.3&north=52.6&east=13.5"

func TestPoisMergesSources(t *testing.T) {
	up := &fakeUpstream{feats: []poi.RawFeature{
		{Kind: poi.KindNode, ID: 123, Name: "Shell", Lat: 52.5, Lon: 13.4, HasPos: true,
			Tags: poi.TagDictionary{"amenity": "fuel"}},
	}}
	st := &fakePersisted{rows: []*store.Location{
		{ID: 9, Name: "Shell", Type: "fuel", Latitude: 52.5, Longitude: 13.4, OriginID: "N:123"},
	}}
	d := testDeps(st, up, &fakePromoter{}, &fakeAuth{ok: true})

	rec, out := doPois(t, d, bboxQuery)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out.Upstream != "ok" {
		t.Fatalf("upstream marker = %q", out.Upstream)
	}
	// 同一来源编号：合并为一条，应用记录胜出
	if len(out.Data) != 1 {
		t.Fatalf("expected 1 merged entry, got %d", len(out.Data))
	}
	e := out.Data[0]
	if e.Origin != "app" || e.AppID != 9 {
		t.Fatalf("app record must win: %+v", e)
	}
	if e.Key != "N:123" {
		t.Fatalf("canonical key = %q", e.Key)
	}
	if e.Category != "fuel" {
		t.Fatalf("category = %q", e.Category)
	}
	if st.queries != 1 {
		t.Fatal("query stats not recorded")
	}
}

// 上游不可达：降级为仅持久层结果并显式标注，而不是 5xx
func TestPoisUpstreamDegradation(t *testing.T) {
	up := &fakeUpstream{err: &overpass.UnreachableError{Attempts: []overpass.Attempt{{Mirror: "a", Status: 502}}}}
	st := &fakePersisted{rows: []*store.Location{
		{ID: 9, Name: "Shell", Type: "fuel", Latitude: 52.5, Longitude: 13.4},
	}}
	d := testDeps(st, up, &fakePromoter{}, &fakeAuth{ok: true})

	rec, out := doPois(t, d, bboxQuery)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; degradation must still answer", rec.Code)
	}
	if out.Upstream != "unreachable" {
		t.Fatalf("upstream marker = %q; want unreachable", out.Upstream)
	}
	if len(out.Data) != 1 || out.Data[0].Origin != "app" {
		t.Fatalf("persisted results lost in degradation: %+v", out.Data)
	}
}

func TestPoisStorageFailure(t *testing.T) {
	d := testDeps(&fakePersisted{err: errors.New("db down")}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	rec, _ := doPois(t, d, bboxQuery)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
}

func TestPoisInvalidBBox(t *testing.T) {
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	for _, q := range []string{
		"",
		"south=abc&west=13.3&north=52.6&east=13.5",
		"south=52.6&west=13.3&north=52.4&east=13.5", // 南北颠倒
		"south=99&west=13.3&north=100&east=13.5",    // 纬度越界
	} {
		rec, _ := doPois(t, d, q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d; want 400", q, rec.Code)
		}
	}
}

func doImport(t *testing.T, d Deps, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	mux := BuildRoutes(d)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/import", strings.NewReader(form.Encode()))
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	mux.ServeHTTP(rec, req)
	return rec
}

func importForm(osmType, osmID string) url.Values {
	return url.Values{"osmType": {osmType}, "osmId": {osmID}, "csrfToken": {"tok"}}
}

func TestImportSuccess(t *testing.T) {
	pr := &fakePromoter{res: &importer.Result{ID: 42, Backfill: &importer.Locality{City: "Berlin"}}}
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, pr, &fakeAuth{uid: 7, ok: true, csrfOK: true})

	rec := doImport(t, d, importForm("node", "123"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out importResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.ID != 42 || out.Existing {
		t.Fatalf("response = %+v", out)
	}
	if out.Backfill == nil || out.Backfill.City != "Berlin" {
		t.Fatalf("backfill echo missing: %+v", out.Backfill)
	}
	if pr.kind != poi.KindNode || pr.id != 123 {
		t.Fatalf("promoter called with %v/%d", pr.kind, pr.id)
	}
}

func TestImportExistingWithWarning(t *testing.T) {
	pr := &fakePromoter{res: &importer.Result{ID: 42, Existing: true, Warnings: []string{"favorite association failed"}}}
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, pr, &fakeAuth{uid: 7, ok: true, csrfOK: true})

	rec := doImport(t, d, importForm("way", "7"))
	var out importResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if rec.Code != http.StatusOK || !out.Existing {
		t.Fatalf("status=%d out=%+v", rec.Code, out)
	}
	if out.Warning == "" {
		t.Fatal("warnings must surface in the response")
	}
}

func TestImportStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"in_progress", importer.ErrInProgress, http.StatusConflict},
		{"country_mismatch", &importer.CountryMismatchError{TagSignal: "FR", Allowed: []string{"DE"}}, http.StatusConflict},
		{"not_found", overpass.ErrNotFound, http.StatusNotFound},
		{"unreachable", &overpass.UnreachableError{}, http.StatusInternalServerError},
		{"storage", errors.New("insert failed"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pr := &fakePromoter{err: c.err}
			d := testDeps(&fakePersisted{}, &fakeUpstream{}, pr, &fakeAuth{uid: 7, ok: true, csrfOK: true})
			rec := doImport(t, d, importForm("node", "123"))
			if rec.Code != c.want {
				t.Fatalf("status = %d; want %d", rec.Code, c.want)
			}
		})
	}
}

func TestImportAuthRejections(t *testing.T) {
	// 无会话
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: false})
	if rec := doImport(t, d, importForm("node", "123")); rec.Code != http.StatusForbidden {
		t.Fatalf("no session: status = %d; want 403", rec.Code)
	}
	// 防伪令牌无效
	d = testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{uid: 7, ok: true, csrfOK: false})
	if rec := doImport(t, d, importForm("node", "123")); rec.Code != http.StatusForbidden {
		t.Fatalf("bad csrf: status = %d; want 403", rec.Code)
	}
}

func TestImportMalformedInput(t *testing.T) {
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{res: &importer.Result{ID: 1}}, &fakeAuth{uid: 7, ok: true, csrfOK: true})
	for _, f := range []url.Values{
		importForm("bridge", "123"),
		importForm("node", "abc"),
		importForm("node", "-5"),
		importForm("node", ""),
	} {
		if rec := doImport(t, d, f); rec.Code != http.StatusBadRequest {
			t.Errorf("form %v: status = %d; want 400", f, rec.Code)
		}
	}
}

func TestImportMethodNotAllowed(t *testing.T) {
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	mux := BuildRoutes(d)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/import", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	mux := BuildRoutes(d)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy: status = %d", rec.Code)
	}

	d = testDeps(&fakePersisted{pingErr: errors.New("db gone")}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	rec = httptest.NewRecorder()
	BuildRoutes(d).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: status = %d; want 503", rec.Code)
	}
}

func TestStats(t *testing.T) {
	d := testDeps(&fakePersisted{}, &fakeUpstream{}, &fakePromoter{}, &fakeAuth{ok: true})
	rec := httptest.NewRecorder()
	BuildRoutes(d).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["total_queries"] != 10 || out["total_imports"] != 3 {
		t.Fatalf("stats = %v", out)
	}
}
