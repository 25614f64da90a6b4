// 包 overpass：开放地理数据查询客户端，带镜像顺序故障转移与逐镜像超时
package overpass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
	"poi-api/internal/poi"
)

// 文档注释：上游查询客户端
// 背景：公共镜像各自可用性不稳定，按固定顺序逐个尝试，首个结构有效的响应即采纳；
// 故障转移保持串行，避免对已退化的上游放大压力。
// 约束：每次镜像尝试有独立超时；超时或取消不会阻塞对下一镜像的尝试。
type Client struct {
	mirrors []string
	timeout time.Duration
	http    *http.Client
}

// 默认公共镜像列表；可通过 OVERPASS_MIRRORS 覆盖（逗号分隔）
var defaultMirrors = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
	"https://overpass.osm.ch/api/interpreter",
}

// New：显式传入镜像列表与单镜像超时
// 背景：保留直接注入能力，测试与手工场景使用
func New(mirrors []string, timeout time.Duration) *Client {
	if len(mirrors) == 0 {
		mirrors = defaultMirrors
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// 整体客户端超时略大于单镜像超时，由每次尝试的 context 控制实际边界
	return &Client{mirrors: mirrors, timeout: timeout, http: &http.Client{Timeout: timeout + time.Second}}
}

// NewFromEnv：从环境变量构建客户端
func NewFromEnv() *Client {
	var mirrors []string
	if s := os.Getenv("OVERPASS_MIRRORS"); s != "" {
		for _, m := range strings.Split(s, ",") {
			if m = strings.TrimSpace(m); m != "" {
				mirrors = append(mirrors, m)
			}
		}
	}
	timeout := 10 * time.Second
	if s := os.Getenv("OVERPASS_TIMEOUT_MS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Millisecond
		}
	}
	c := New(mirrors, timeout)
	logger.L().Debug("overpass_config", "mirrors", len(c.mirrors), "timeout_ms", timeout.Milliseconds())
	return c
}

// Mirrors：镜像列表副本（诊断用）
func (c *Client) Mirrors() []string { return append([]string{}, c.mirrors...) }

// 上游响应中的单个要素
type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Tags   map[string]string `json:"tags"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
}

type envelope struct {
	Elements []element `json:"elements"`
}

// 文档注释：按镜像顺序执行查询
// 背景：首个结构有效（HTTP 2xx 且 JSON 可解析出 elements）的镜像即胜出，后续镜像不再尝试；
// 全部失败时返回携带逐镜像轨迹的 UnreachableError，绝不与“零结果”混淆。
// 参数 skip：跳过指定镜像，用于国别确认的二次取数轮（仅尝试未用过的镜像）。
func (c *Client) execute(ctx context.Context, ql string, skip map[string]bool) ([]element, []Attempt, error) {
	var trail []Attempt
	tried := 0
	for _, mirror := range c.mirrors {
		if skip[mirror] {
			continue
		}
		tried++
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		els, status, err := c.attempt(attemptCtx, mirror, ql)
		cancel()
		if err == nil {
			metrics.MirrorAttemptsTotal.WithLabelValues(mirror, "ok").Inc()
			logger.L().Debug("overpass_mirror_ok", "mirror", mirror, "elements", len(els))
			return els, trail, nil
		}
		metrics.MirrorAttemptsTotal.WithLabelValues(mirror, "fail").Inc()
		logger.L().Warn("overpass_mirror_fail", "mirror", mirror, "status", status, "err", err)
		trail = append(trail, Attempt{Mirror: mirror, Status: status, Err: err.Error()})
		if ctx.Err() != nil {
			break
		}
	}
	if tried == 0 {
		trail = append(trail, Attempt{Err: "no mirrors left to try"})
	}
	metrics.UpstreamUnreachableTotal.Inc()
	return nil, trail, &UnreachableError{Attempts: trail}
}

// attempt：单镜像一次请求
func (c *Client) attempt(ctx context.Context, mirror, ql string) ([]element, int, error) {
	form := url.Values{}
	form.Set("data", ql)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mirror, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	t0 := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	metrics.MirrorDurationMs.WithLabelValues(mirror).Observe(float64(time.Since(t0).Milliseconds()))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &statusError{status: resp.StatusCode}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, err
	}
	return env.Elements, resp.StatusCode, nil
}

type statusError struct{ status int }

func (e *statusError) Error() string { return "unexpected status " + strconv.Itoa(e.status) }

// toFeature：上游要素转领域结构
// 约束：way/relation 使用上游附带的中心点；两者皆缺时 HasPos 为 false
func toFeature(e element) poi.RawFeature {
	f := poi.RawFeature{
		Kind: poi.ParseKind(e.Type),
		ID:   e.ID,
		Tags: poi.TagDictionary(e.Tags),
	}
	f.Name = f.Tags.First("name", "name:en", "official_name")
	switch {
	case e.Lat != 0 || e.Lon != 0:
		f.Lat, f.Lon, f.HasPos = e.Lat, e.Lon, true
	case e.Center != nil:
		f.Lat, f.Lon, f.HasPos = e.Center.Lat, e.Center.Lon, true
	}
	return f
}

// 文档注释：边界框查询
// 背景：对外列表页的上游数据来源；零结果是正常成功，返回空切片
func (c *Client) Query(ctx context.Context, b poi.BBox, f Filters) ([]poi.RawFeature, error) {
	els, _, err := c.execute(ctx, buildBBoxQL(b, f), nil)
	if err != nil {
		return nil, err
	}
	out := make([]poi.RawFeature, 0, len(els))
	for _, e := range els {
		out = append(out, toFeature(e))
	}
	return out, nil
}

// 文档注释：取单个要素全量详情
// 背景：导入管线使用；prefetched 非空且编号一致时直接复用，省去一次网络往返
// 返回：上游明确无此要素时返回 ErrNotFound；镜像全部失败返回 UnreachableError
func (c *Client) FetchDetail(ctx context.Context, kind poi.SourceKind, id int64, prefetched *poi.RawFeature) (poi.RawFeature, []string, error) {
	if prefetched != nil && prefetched.ID == id && prefetched.Kind == kind {
		return *prefetched, nil, nil
	}
	return c.fetchDetail(ctx, kind, id, nil)
}

// FetchDetailFrom：仅用未尝试过的镜像重新取数
// 背景：国别信号冲突时的一次重试轮；换镜像可规避个别镜像的陈旧数据
func (c *Client) FetchDetailFrom(ctx context.Context, kind poi.SourceKind, id int64, usedMirrors []string) (poi.RawFeature, []string, error) {
	skip := make(map[string]bool, len(usedMirrors))
	for _, m := range usedMirrors {
		skip[m] = true
	}
	return c.fetchDetail(ctx, kind, id, skip)
}

// fetchDetail：返回要素、实际命中前尝试过的镜像集合（含命中者）与错误
func (c *Client) fetchDetail(ctx context.Context, kind poi.SourceKind, id int64, skip map[string]bool) (poi.RawFeature, []string, error) {
	els, trail, err := c.execute(ctx, buildDetailQL(kind, id), skip)
	used := make([]string, 0, len(trail)+1)
	for _, a := range trail {
		if a.Mirror != "" {
			used = append(used, a.Mirror)
		}
	}
	if err != nil {
		return poi.RawFeature{}, used, err
	}
	// 命中镜像也计入已用集合
	for _, m := range c.mirrors {
		if !skip[m] && !contains(used, m) {
			used = append(used, m)
			break
		}
	}
	if len(els) == 0 {
		return poi.RawFeature{}, used, ErrNotFound
	}
	return toFeature(els[0]), used, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
