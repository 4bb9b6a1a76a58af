// Package api 暴露 NLP-Chain 的 REST 接口：证明、账本、用户资料、代币交互与相似检索。
// 写操作要求请求携带经认证的调用方身份。
package api
