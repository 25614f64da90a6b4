// 包 nominatim：反向地理编码客户端，坐标到城市/省州/国家的解析
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TomiHiltunen/geohash-golang"
	"github.com/redis/go-redis/v9"

	"poi-api/internal/logger"
	"poi-api/internal/metrics"
)

// 文档注释：反解结果
// 背景：仅保留导入与回填需要的行政区字段；CountryCode 为 ISO 3166-1 alpha-2 大写
type Result struct {
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// Complete：三级行政区是否齐备
func (r Result) Complete() bool {
	return r.City != "" && r.State != "" && r.Country != ""
}

// 文档注释：反向地理编码客户端
// 背景：公共 Nominatim 实例有严格的速率要求，请求间隔受 minInterval 节流；
// 结果按 geohash 键进本地 LRU 与可选 Redis，两级缓存减少外呼。
// 约束：User-Agent 必须标识应用身份（公共实例使用条款要求）。
type Client struct {
	base        string
	userAgent   string
	minInterval time.Duration
	http        *http.Client
	cache       *lru
	rc          *redis.Client

	mu        sync.Mutex
	lastReqAt time.Time
}

// New：显式参数构造，测试与手工注入使用
func New(base string, rc *redis.Client) *Client {
	if base == "" {
		base = "https://nominatim.openstreetmap.org"
	}
	return &Client{
		base:        strings.TrimRight(base, "/"),
		userAgent:   "poi-api",
		minInterval: time.Second,
		http:        &http.Client{Timeout: 10 * time.Second},
		cache:       newLRU(4096, time.Hour),
		rc:          rc,
	}
}

// NewFromEnv：从环境变量构造
func NewFromEnv(rc *redis.Client) *Client {
	c := New(os.Getenv("NOMINATIM_URL"), rc)
	if ua := os.Getenv("NOMINATIM_USER_AGENT"); ua != "" {
		c.userAgent = ua
	}
	if s := os.Getenv("NOMINATIM_MIN_INTERVAL_MS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			c.minInterval = time.Duration(n) * time.Millisecond
		}
	}
	logger.L().Debug("nominatim_config", "base", c.base, "min_interval_ms", c.minInterval.Milliseconds())
	return c
}

// 对齐公共实例 /reverse 的响应字段，仅解析所需部分
type reverseResponse struct {
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
		State        string `json:"state"`
		Country      string `json:"country"`
		CountryCode  string `json:"country_code"`
	} `json:"address"`
	Err string `json:"error"`
}

// 文档注释：坐标反解行政区
// 为什么：导入时的国别确认与入库后的属地回填都依赖此能力；失败由上层降级处理，
// 本层只保证节流、缓存与字段归一。
// 约束：城市字段按 city→town→village→municipality→county 顺序兜底。
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	key := "rg:" + geohash.EncodeWithPrecision(lat, lon, 7)
	if v, ok := c.cache.get(key); ok {
		return v, nil
	}
	if c.rc != nil {
		if s, err := c.rc.Get(ctx, key).Result(); err == nil && s != "" {
			var r Result
			if json.Unmarshal([]byte(s), &r) == nil {
				metrics.RedisHitsTotal.Inc()
				c.cache.set(key, r)
				return r, nil
			}
		} else {
			metrics.RedisMissesTotal.Inc()
		}
	}
	c.throttle()
	metrics.RevGeoRequestsTotal.Inc()
	u := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%g&lon=%g&zoom=10&addressdetails=1", c.base, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	t0 := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RevGeoFailTotal.Inc()
		logger.L().Error("revgeo_http_error", "err", err)
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RevGeoFailTotal.Inc()
		logger.L().Error("revgeo_status_error", "status", resp.StatusCode)
		return Result{}, errors.New("reverse geocode status " + strconv.Itoa(resp.StatusCode))
	}
	var rr reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		metrics.RevGeoFailTotal.Inc()
		logger.L().Error("revgeo_decode_error", "err", err)
		return Result{}, err
	}
	if rr.Err != "" {
		// 服务端明确报错（如海上坐标无结果），不缓存
		return Result{}, errors.New("reverse geocode: " + rr.Err)
	}
	a := rr.Address
	city := a.City
	for _, alt := range []string{a.Town, a.Village, a.Municipality, a.County} {
		if city != "" {
			break
		}
		city = alt
	}
	r := Result{
		City:        city,
		State:       a.State,
		Country:     a.Country,
		CountryCode: strings.ToUpper(a.CountryCode),
	}
	logger.L().Debug("revgeo_resp", "lat", lat, "lon", lon,
		"city", r.City, "state", r.State, "cc", r.CountryCode,
		"duration_ms", time.Since(t0).Milliseconds())
	c.cache.set(key, r)
	if c.rc != nil {
		if b, err := json.Marshal(r); err == nil {
			c.rc.Set(ctx, key, string(b), 24*time.Hour)
		}
	}
	return r, nil
}

// throttle：请求间最小间隔节流
func (c *Client) throttle() {
	c.mu.Lock()
	wait := time.Until(c.lastReqAt.Add(c.minInterval))
	if wait > 0 {
		c.mu.Unlock()
		time.Sleep(wait)
		c.mu.Lock()
	}
	c.lastReqAt = time.Now()
	c.mu.Unlock()
}
