package poi

// BBox：查询边界框（南、西、北、东）
// 约束：与上游服务及持久层的参数顺序保持一致，避免各层各自转换
type BBox struct {
	South float64
	West  float64
	North float64
	East  float64
}

// Valid：基础合法性校验
func (b BBox) Valid() bool {
	if b.South < -90 || b.North > 90 || b.South >= b.North {
		return false
	}
	if b.West < -180 || b.East > 180 || b.West >= b.East {
		return false
	}
	return true
}

// Contains：坐标是否落在框内
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.South && lat <= b.North && lon >= b.West && lon <= b.East
}
