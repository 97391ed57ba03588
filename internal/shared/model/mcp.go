// Package model 定义核心数据模型
//
// mcp.go 包含 Model Context Protocol（MCP）工具服务相关的定义：
//   - MCPServerConfig：一个 MCP 工具服务的启动配置
//   - BuiltinMCPServers：内置工具服务表
//   - ResolveBrowserServer：浏览器自动化服务的选择与降级
//
// MCP 工具服务是执行引擎可连接的外部进程，向引擎暴露一组可调用
// 工具（如浏览器控制）。分类器决定一个任务需要哪些服务（见 classify 包），
// 适配器把选中的配置传给执行引擎。
//
// 参考：https://modelcontextprotocol.io
package model

import (
	"log"
)

// ============================================================================
// MCPServerConfig - 工具服务启动配置
// ============================================================================

// MCPServerConfig 定义一个 stdio 传输的 MCP 工具服务
type MCPServerConfig struct {
	// Name 服务标识，引擎侧以此为工具命名空间
	Name string `json:"name" yaml:"name"`

	// Command 启动命令
	Command string `json:"command" yaml:"command"`

	// Args 命令参数
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env 服务进程的附加环境变量
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ============================================================================
// 内置工具服务
// ============================================================================

// 浏览器自动化服务标识
//
// headless 变体是默认选择；headed 变体保留给需要交互式登录的流程
// （运维人员通过配置切换）。
const (
	MCPServerPlaywright       = "playwright"
	MCPServerPlaywrightHeaded = "playwright-headed"
)

// BuiltinMCPServers 内置 MCP 工具服务表
//
// key 是运维配置中可选择的服务标识。
var BuiltinMCPServers = map[string]MCPServerConfig{
	MCPServerPlaywright: {
		Name:    MCPServerPlaywright,
		Command: "npx",
		Args:    []string{"-y", "@playwright/mcp@latest", "--headless"},
	},
	MCPServerPlaywrightHeaded: {
		Name:    MCPServerPlaywrightHeaded,
		Command: "npx",
		Args:    []string{"-y", "@playwright/mcp@latest"},
	},
}

// ResolveBrowserServer 按运维配置选择浏览器自动化服务
//
// 未知的服务名不报错：打印告警并回落到默认的 headless 变体，
// 保证一次配置手误不会让所有需要浏览器的任务失败。
func ResolveBrowserServer(name string) MCPServerConfig {
	if name == "" {
		return BuiltinMCPServers[MCPServerPlaywright]
	}
	if srv, ok := BuiltinMCPServers[name]; ok {
		return srv
	}
	log.Printf("WARNING: [mcp] unknown browser server %q, falling back to %s", name, MCPServerPlaywright)
	return BuiltinMCPServers[MCPServerPlaywright]
}
