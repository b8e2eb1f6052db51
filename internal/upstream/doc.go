// Package upstream 封装对源站与外部主机的真实网络访问：共享连接池、HTTP/2 健康检查、
// 幂等请求的指数退避重试，以及 hop-by-hop 头过滤。
package upstream
