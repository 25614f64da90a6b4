// 包 poi：POI 领域模型，统一承载上游要素与应用自有记录的最小公共结构
package poi

// SourceKind：要素来源类型
// 背景：上游服务区分点/线/关系三类要素；应用自有记录作为第四类参与合并
type SourceKind int

const (
	KindNode SourceKind = iota
	KindWay
	KindRelation
	KindAppRecord
)

// Letter：来源类型对应的标识字母，用于规范键编码
func (k SourceKind) Letter() string {
	switch k {
	case KindWay:
		return "W"
	case KindRelation:
		return "R"
	case KindAppRecord:
		return "A"
	default:
		return "N"
	}
}

// ParseKind：解析上游类型文本；未知时回退为点
func ParseKind(s string) SourceKind {
	switch s {
	case "way":
		return KindWay
	case "relation":
		return KindRelation
	case "app":
		return KindAppRecord
	default:
		return KindNode
	}
}

// String：上游协议中的类型文本
func (k SourceKind) String() string {
	switch k {
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	case KindAppRecord:
		return "app"
	default:
		return "node"
	}
}

// TagDictionary：自由形态的键值标签集合
// 背景：上游要素的标签无固定词表；所有兜底探测集中在本类型的方法中，避免调用方各自实现
type TagDictionary map[string]string

// Get：读取单个键，缺失返回空串
func (t TagDictionary) Get(k string) string {
	if t == nil {
		return ""
	}
	return t[k]
}

// First：按顺序探测多个候选键，返回第一个非空值
// 约束：候选键顺序即优先级；全部缺失返回空串
func (t TagDictionary) First(keys ...string) string {
	if t == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := t[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Clone：浅拷贝标签集合
// 背景：RawFeature 取得后不可变，注解需在副本上进行
func (t TagDictionary) Clone() TagDictionary {
	if t == nil {
		return nil
	}
	out := make(TagDictionary, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// RawFeature：单个 POI 要素
// 背景：上游查询结果与应用记录适配后的统一结构；取得后只读，合并与导入在副本上注解
// 约束：HasPos 为 false 时经纬度无意义；AppID 仅应用来源记录填写
type RawFeature struct {
	Kind     SourceKind
	ID       int64
	Name     string
	Lat      float64
	Lon      float64
	HasPos   bool
	Tags     TagDictionary
	Category string
	Icon     string
	AppID    int64
	OwnerID  int64
}

// FromApp：是否为应用自有记录
func (f RawFeature) FromApp() bool { return f.AppID > 0 }
