package poi

import (
	"encoding/json"
	"os"
	"sort"

	"poi-api/internal/logger"
)

// 文档注释：外部规则文件结构
// 背景：允许部署方通过 JSON 文件追加分类规则；格式为 分类名 → 标签匹配对列表，
// 同一分类内的多个匹配对按逻辑或生效。
type ExternalRule struct {
	K string `json:"k"`
	V string `json:"v"`
}

// LoadExternalRules：读取外部规则文件
// 约束：文件缺失不视为错误（特性未启用）；解析失败返回错误由上层决定是否中止
func LoadExternalRules(path string) (map[string][]ExternalRule, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m map[string][]ExternalRule
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// 文档注释：合并外部规则到本地规则表
// 背景：外部规则只能扩大命中范围，不能替换本地谓词；
// 同名分类以逻辑或组合，新分类追加到表尾，保持本地声明顺序不变。
func MergeRules(local []Rule, ext map[string][]ExternalRule) []Rule {
	if len(ext) == 0 {
		return local
	}
	out := make([]Rule, 0, len(local)+len(ext))
	used := map[string]bool{}
	for _, r := range local {
		pairs, ok := ext[r.Name]
		if !ok {
			out = append(out, r)
			continue
		}
		used[r.Name] = true
		extMatch := matchPairs(pairs)
		localMatch := r.Match
		out = append(out, Rule{Name: r.Name, Match: func(t TagDictionary, name string) bool {
			return localMatch(t, name) || extMatch(t, name)
		}})
		logger.L().Debug("category_rule_extended", "name", r.Name, "pairs", len(pairs))
	}
	// 新分类按名称排序后追加：首次命中语义下规则顺序必须可复现
	names := make([]string, 0, len(ext))
	for name := range ext {
		if !used[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, Rule{Name: name, Match: matchPairs(ext[name])})
		logger.L().Debug("category_rule_added", "name", name, "pairs", len(ext[name]))
	}
	return out
}

func matchPairs(pairs []ExternalRule) func(TagDictionary, string) bool {
	ps := append([]ExternalRule{}, pairs...)
	return func(t TagDictionary, _ string) bool {
		for _, p := range ps {
			if t.Get(p.K) == p.V {
				return true
			}
		}
		return false
	}
}
