// Package model 定义核心数据模型
//
// plan.go 包含自动化计划的数据模型与解析逻辑：
//   - AutomationPlan：任务描述 + 有序步骤列表
//   - PlanStep：单个步骤（动作/目标/文本三元组）
//   - ParsePlan / FallbackPlan：解析与降级
//   - StripPlanSection：从分析文本中剥离内嵌计划段落
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// AutomationPlan - 自动化计划
// ============================================================================

// PlanStep 自动化计划中的单个步骤
//
// Action 是动作动词（click/type/navigate 等），Target 是作用对象
// （选择器、URL、文件路径），Text 是动作的文本参数（输入内容等）。
type PlanStep struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Text   string `json:"text,omitempty"`
}

// AutomationPlan 从分析文本中提取的结构化任务计划
type AutomationPlan struct {
	Task  string     `json:"task"`
	Steps []PlanStep `json:"steps"`

	// Synthesized 标记该计划是解析失败后合成的降级计划
	Synthesized bool `json:"synthesized,omitempty"`
}

// HasSteps 判断计划是否包含显式步骤
func (p *AutomationPlan) HasSteps() bool {
	return p != nil && len(p.Steps) > 0
}

// Serialize 将计划序列化为提示词中使用的 JSON 文本
func (p *AutomationPlan) Serialize() string {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"task": %q}`, p.Task)
	}
	return string(b)
}

// ============================================================================
// 解析与降级
// ============================================================================

// planSectionRe 匹配分析文本中内嵌的计划段落：
// 一个 ```json 围栏代码块，或 "AUTOMATION PLAN:" 标记之后的 JSON 对象。
var planSectionRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

var planMarkerRe = regexp.MustCompile(`(?is)automation\s+plan\s*:`)

// ParsePlan 解析任务的结构化计划
//
// 解析顺序：
//  1. Task.PlanJSON 字段（上游分析已抽取的计划）
//  2. AnalysisText 中的 ```json 围栏块
//
// 任何一步失败都不报错，统一降级为 FallbackPlan 合成的最小计划。
// 降级而非失败是有意的策略：计划缺失属于用户/计划错误，执行引擎
// 拿到任务标题和描述后仍有机会自行完成任务。
func ParsePlan(task *Task) *AutomationPlan {
	if task.PlanJSON != "" {
		if plan, err := decodePlan(task.PlanJSON); err == nil {
			return plan
		}
	}

	if m := planSectionRe.FindStringSubmatch(task.AnalysisText); m != nil {
		if plan, err := decodePlan(m[1]); err == nil {
			return plan
		}
	}

	return FallbackPlan(task)
}

// decodePlan 解码计划 JSON，空任务描述视为无效
func decodePlan(raw string) (*AutomationPlan, error) {
	var plan AutomationPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if plan.Task == "" && len(plan.Steps) == 0 {
		return nil, fmt.Errorf("decode plan: empty plan")
	}
	return &plan, nil
}

// FallbackPlan 由任务标题和描述合成最小计划
func FallbackPlan(task *Task) *AutomationPlan {
	desc := task.Title
	if task.Description != "" {
		desc = fmt.Sprintf("%s: %s", task.Title, task.Description)
	}
	if desc == "" {
		desc = "Execute the recorded workflow"
	}
	return &AutomationPlan{Task: desc, Synthesized: true}
}

// StripPlanSection 从分析文本中剥离内嵌的计划段落
//
// 提示词里分析文本和序列化计划是分开给出的，保留内嵌段落会让
// 引擎看到两份可能不一致的计划。
func StripPlanSection(analysisText string) string {
	out := planSectionRe.ReplaceAllString(analysisText, "")
	out = planMarkerRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
