package importer

import (
	"errors"
	"fmt"
)

// ErrInProgress：同一上游要素的导入正在进行
// 背景：单飞约束；并发重复请求必须短路，绝不允许双重执行网络与数据库副作用
var ErrInProgress = errors.New("import already in progress for this feature")

// 文档注释：国别不匹配
// 背景：两路信号（显式国别标签、坐标反解）经一轮换镜像重取后仍不在允许清单内；
// 携带冲突信号供诊断，区分网络瞬断与策略拒绝。
type CountryMismatchError struct {
	TagSignal string
	GeoSignal string
	Allowed   []string
}

func (e *CountryMismatchError) Error() string {
	return fmt.Sprintf("country mismatch: tag=%q revgeo=%q allowed=%v", e.TagSignal, e.GeoSignal, e.Allowed)
}
