// Package network 封装访问上游后端的 HTTP 客户端。所有请求都以浏览器视角的
// URL 进入，按主机名映射到配置中的 Upstream，响应被完整缓冲为 fetch.Response。
// 网络层失败（拨号、DNS、超时）以 jmgilman/go/errors 分类后返回，非 2xx 不算错误。
package network
