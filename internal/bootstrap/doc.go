// Package bootstrap 解析 confstack 进程自身的启动配置（Redis 地址、前缀、
// 日志级别等），来源优先级：命令行 > YAML 文件 > 环境变量 > 默认值。
// 结果通过 Options / RedisOptions 转换为库的构造参数。
package bootstrap
