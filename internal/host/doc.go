// Package host 扮演浏览器宿主环境：按版本部署缓存管理器、派发生命周期事件、
// 维护页面客户端与控制者的绑定，并登记 fetch 事件遗留的后台任务。
package host
