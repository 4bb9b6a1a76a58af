// Package mysql 提供基于 MySQL 的证明、账本与资料存储。
// 连接建立后自动执行内嵌迁移；账本追加依赖行锁串行化同一账本的写入。
package mysql
