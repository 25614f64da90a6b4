package api

import "poi-api/internal/importer"

// 文档注释：列表查询返回结构（对外）
// 背景：字段名是与外部渲染层的边界契约，保持稳定；新增字段需评估前端依赖。
// 约束：key 为规范键（深链与导入入参来源）；count 为折叠的近似重复数量。
type featureEntry struct {
	ID       int64   `json:"id"`
	Key      string  `json:"key"`
	Name     string  `json:"name,omitempty"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Category string  `json:"category,omitempty"`
	Icon     string  `json:"icon,omitempty"`
	Origin   string  `json:"origin"`
	Count    int     `json:"count"`
	AppID    int64   `json:"app_id,omitempty"`
}

// 列表响应：data 数组 + 上游可达性标记
// 背景：上游不可达必须显式告知（空结果与故障是不同语义），前端据此展示降级原因
type queryResponse struct {
	Data     []featureEntry `json:"data"`
	Upstream string         `json:"upstream"`
}

// 导入响应
type importResponse struct {
	OK       bool               `json:"ok"`
	ID       int64              `json:"id,omitempty"`
	Existing bool               `json:"existing,omitempty"`
	Backfill *importer.Locality `json:"backfill,omitempty"`
	Warning  string             `json:"warning,omitempty"`
	Error    string             `json:"error,omitempty"`
	Detail   string             `json:"detail,omitempty"`
}
