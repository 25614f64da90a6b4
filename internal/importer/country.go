package importer

import (
	"os"
	"strings"
)

// 文档注释：国别文本归一化为 ISO 3166-1 alpha-2 代码
// 背景：标签中的国别写法混乱（代码、英文名、本地名）；允许清单按 ISO 代码配置，
// 比较前必须归一。未识别的值原样大写返回，由比较自然失配。
var countryNames = map[string]string{
	"germany": "DE", "deutschland": "DE",
	"france": "FR", "frankreich": "FR",
	"austria": "AT", "österreich": "AT", "oesterreich": "AT",
	"switzerland": "CH", "schweiz": "CH", "suisse": "CH",
	"netherlands": "NL", "nederland": "NL",
	"belgium": "BE", "belgique": "BE", "belgien": "BE",
	"luxembourg": "LU", "luxemburg": "LU",
	"denmark": "DK", "danmark": "DK",
	"poland": "PL", "polska": "PL", "polen": "PL",
	"czechia": "CZ", "czech republic": "CZ",
	"italy": "IT", "italia": "IT", "italien": "IT",
	"spain": "ES", "españa": "ES",
	"united kingdom": "GB", "great britain": "GB",
	"united states": "US", "usa": "US", "united states of america": "US",
	"canada": "CA",
}

// NormalizeCountry：国别文本 → ISO 代码
func NormalizeCountry(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	if cc, ok := countryNames[strings.ToLower(s)]; ok {
		return cc
	}
	return strings.ToUpper(s)
}

// AllowedCountriesFromEnv：读取允许清单（逗号分隔 ISO 代码）
// 约束：清单为空表示停用国别闸门，这是部署策略而非特殊代码路径
func AllowedCountriesFromEnv() []string {
	s := os.Getenv("IMPORT_COUNTRY_ALLOW")
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
