// Package migrations 内嵌 MySQL 建表脚本，文件名前缀为版本号。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
