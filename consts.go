package confstack

import "strings"

// 默认值
const (
	DefaultPrefix         = "confstack:"       // Redis Key 前缀
	DefaultEntityKind     = "Configuration"    // 配置条目所属的实体类型
	DefaultCacheNamespace = "confstack:cache:" // 进程内缓存 Key 的命名空间
)

// scanCount HSCAN 每批返回的字段数提示。
const scanCount = 100

// normalizePrefix 保证前缀以 ':' 结尾。
// 空前缀保持为空。
func normalizePrefix(p string) string {
	if p != "" && !strings.HasSuffix(p, ":") {
		p += ":"
	}
	return p
}

// KeyKind 返回存放某一实体类型全部条目的 Redis Hash Key。
// 该 Hash 存储 ConfigKey -> JSON 值。
func KeyKind(prefix, kind string) string {
	return normalizePrefix(prefix) + kind
}
