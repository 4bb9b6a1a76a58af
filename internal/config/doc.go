// Package config 加载 nlpchaind 的配置文件（YAML 或 JSON），补全默认值，
// 并允许通过 NLPCHAIN_* 环境变量覆盖连接串与密钥。
package config
