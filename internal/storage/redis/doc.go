// Package redis 提供账本存储的 Redis 装饰器：区块读缓存与跨进程追加锁。
// 两者都包装任意 ledger.Store，适用于多个守护进程共享同一后端的部署。
package redis
