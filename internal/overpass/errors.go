package overpass

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound：上游不存在该编号的要素
// 背景：与“镜像全部失败”严格区分；此错误表示上游明确返回了空结果
var ErrNotFound = errors.New("upstream feature not found")

// 文档注释：单次镜像尝试的诊断记录
// 背景：失败时需要能区分是网络故障、超时还是响应结构异常；逐镜像留痕供上层与日志使用
type Attempt struct {
	Mirror string `json:"mirror"`
	Status int    `json:"status"`
	Err    string `json:"err"`
}

// 文档注释：全部镜像失败
// 背景：与“查询成功但零结果”是不同语义，绝不允许以空列表掩盖；携带完整尝试轨迹
type UnreachableError struct {
	Attempts []Attempt
}

func (e *UnreachableError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s status=%d err=%s", a.Mirror, a.Status, a.Err))
	}
	return "all upstream mirrors failed: " + strings.Join(parts, "; ")
}
