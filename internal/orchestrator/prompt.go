// Package orchestrator Run 调度与执行
//
// prompt.go 负责拼装引擎调用的系统提示词和任务提示词
package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"autopilot/internal/classify"
	"autopilot/internal/shared/model"
)

// maxAnalysisExcerptLen 任务提示词中分析文本节选的长度上限
const maxAnalysisExcerptLen = 2000

// systemPrompt 所有 Run 共用的系统提示词
const systemPrompt = `You are an automation agent executing a pre-approved plan on behalf of a user.
Follow the plan step by step. If a step cannot be completed, explain what blocked it and continue with the remaining steps where possible.
Work inside the provided working directory. Never modify files outside it.
Report a short summary of what was accomplished when you finish.`

// browserGuidance 浏览器能力被选中时附加的指引
const browserGuidance = `Browser automation is available through the browser tool-server.
Prefer stable selectors over pixel coordinates. After each navigation, verify the page actually loaded before interacting.
Take a screenshot when a step's outcome is visually meaningful.`

// apiGuidance 识别到可走 API 的服务时附加的指引
const apiGuidance = `Direct API access is preferred for this task. Use the credentials provided in the environment instead of driving a browser. Check HTTP response codes and report failures explicitly.`

// BuildSystemPrompt 生成系统提示词
func BuildSystemPrompt(c classify.Classification) string {
	parts := []string{systemPrompt}
	if c.RequiresBrowser {
		parts = append(parts, browserGuidance)
	}
	if c.PreferAPIOverBrowser {
		parts = append(parts, apiGuidance)
	}
	return strings.Join(parts, "\n\n")
}

// BuildTaskPrompt 生成任务提示词
//
// credentials 只用于生成脱敏清单：URL 类的值原样展示，
// 其余值只给出长度提示，绝不输出明文。
func BuildTaskPrompt(task *model.Task, plan *model.AutomationPlan, c classify.Classification, credentials map[string]string) string {
	var b strings.Builder

	b.WriteString("# Task\n")
	b.WriteString(task.Title)
	b.WriteString("\n")

	if task.Notes != "" {
		b.WriteString("\n# Notes from the user\n")
		b.WriteString(task.Notes)
		b.WriteString("\n")
	}

	if excerpt := analysisExcerpt(task.AnalysisText); excerpt != "" {
		b.WriteString("\n# Analysis\n")
		b.WriteString(excerpt)
		b.WriteString("\n")
	}

	b.WriteString("\n# Plan\n")
	b.WriteString(plan.Serialize())
	b.WriteString("\n")

	if len(credentials) > 0 {
		b.WriteString("\n# Available environment variables\n")
		keys := make([]string, 0, len(credentials))
		for k := range credentials {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("- %s: %s\n", k, redactValue(k, credentials[k])))
		}
	}

	return b.String()
}

// analysisExcerpt 去掉内嵌计划段落后按上限截取分析文本
func analysisExcerpt(analysis string) string {
	stripped := strings.TrimSpace(model.StripPlanSection(analysis))
	if stripped == "" {
		return ""
	}
	if len(stripped) > maxAnalysisExcerptLen {
		return stripped[:maxAnalysisExcerptLen] + "..."
	}
	return stripped
}

// redactValue URL 原样展示，其余值只给长度提示
func redactValue(key, value string) string {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value
	}
	return fmt.Sprintf("<%d-character secret>", len(value))
}
