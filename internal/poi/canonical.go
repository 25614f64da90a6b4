package poi

import (
	"strconv"
	"strings"
)

// 文档注释：规范键计算
// 背景：两个来源各自独立编号，需要一个跨来源稳定的身份串才能在合并时判定同一实体；
// 应用记录若携带上游来源编号，则其规范键与对应上游要素一致。
// 约束：纯函数，无副作用；无法推导身份时返回 false。
// 类型字母优先级：显式来源类型 → 应用记录标记（AppID 存在）→ 默认按点处理。
func CanonicalKey(f RawFeature) (string, bool) {
	if f.ID > 0 {
		return f.Kind.Letter() + ":" + strconv.FormatInt(f.ID, 10), true
	}
	if f.FromApp() {
		return "A:" + strconv.FormatInt(f.AppID, 10), true
	}
	return "", false
}

// 文档注释：别名变体
// 背景：历史数据中存在未加前缀的纯数字编号与无分隔符编码（如 N123）；
// 为兼容旧身份编码，匹配时需同时尝试这些形式。
// 约束：首个元素恒为规范键本身；结果去重且顺序稳定。
func AliasVariants(f RawFeature) []string {
	key, ok := CanonicalKey(f)
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(key)
	if f.ID > 0 {
		id := strconv.FormatInt(f.ID, 10)
		add(id)
		add(f.Kind.Letter() + id)
	}
	return out
}

// 文档注释：解析持久化记录中的来源编号文本
// 背景：origin_id 列历史上混存三种编码（N:123 / N123 / 123）；集中解析避免各处重复判断。
// 返回：来源类型与编号；无法解析时 ok 为 false。
func ParseOrigin(s string) (SourceKind, int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KindNode, 0, false
	}
	kind := KindNode
	if i := strings.IndexByte(s, ':'); i >= 0 {
		kind = kindFromLetter(s[:i])
		s = s[i+1:]
	} else if len(s) > 1 && (s[0] < '0' || s[0] > '9') {
		kind = kindFromLetter(s[:1])
		s = s[1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return KindNode, 0, false
	}
	return kind, id, true
}

func kindFromLetter(s string) SourceKind {
	switch strings.ToUpper(s) {
	case "W":
		return KindWay
	case "R":
		return KindRelation
	case "A":
		return KindAppRecord
	default:
		return KindNode
	}
}
