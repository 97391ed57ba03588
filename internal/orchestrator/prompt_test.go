package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"autopilot/internal/classify"
	"autopilot/internal/shared/model"
)

func TestBuildSystemPromptConditioning(t *testing.T) {
	base := BuildSystemPrompt(classify.Classification{})
	assert.NotContains(t, base, "Browser automation")
	assert.NotContains(t, base, "Direct API access")

	withBrowser := BuildSystemPrompt(classify.Classification{RequiresBrowser: true})
	assert.Contains(t, withBrowser, "Browser automation")

	withAPI := BuildSystemPrompt(classify.Classification{PreferAPIOverBrowser: true})
	assert.Contains(t, withAPI, "Direct API access")
}

func TestBuildTaskPromptRedaction(t *testing.T) {
	task := &model.Task{ID: "t1", Title: "Sync issues"}
	plan := &model.AutomationPlan{Task: "Sync issues"}

	prompt := BuildTaskPrompt(task, plan, classify.Classification{}, map[string]string{
		"API_URL":      "https://api.example.com/v1",
		"GITHUB_TOKEN": "ghp_supersecretvalue",
	})

	// URL 原样展示，密钥只给长度提示
	assert.Contains(t, prompt, "https://api.example.com/v1")
	assert.NotContains(t, prompt, "ghp_supersecretvalue")
	assert.Contains(t, prompt, "GITHUB_TOKEN: <20-character secret>")
}

func TestBuildTaskPromptStripsEmbeddedPlan(t *testing.T) {
	analysis := "The task needs a spreadsheet update.\n" +
		"```json\n{\"task\":\"x\",\"steps\":[]}\n```\n" +
		"Nothing else to note."
	task := &model.Task{ID: "t1", Title: "Update sheet", AnalysisText: analysis}
	plan := &model.AutomationPlan{Task: "Update sheet"}

	prompt := BuildTaskPrompt(task, plan, classify.Classification{}, nil)

	assert.Contains(t, prompt, "The task needs a spreadsheet update.")
	assert.Contains(t, prompt, "Nothing else to note.")
	// 内嵌计划段落不重复出现在分析节选里
	assert.Equal(t, 1, strings.Count(prompt, `"steps"`))
}

func TestBuildTaskPromptExcerptCapped(t *testing.T) {
	task := &model.Task{
		ID:           "t1",
		Title:        "Long analysis",
		AnalysisText: strings.Repeat("a", maxAnalysisExcerptLen+500),
	}
	plan := &model.AutomationPlan{Task: "Long analysis"}

	prompt := BuildTaskPrompt(task, plan, classify.Classification{}, nil)
	assert.Contains(t, prompt, strings.Repeat("a", maxAnalysisExcerptLen)+"...")
	assert.NotContains(t, prompt, strings.Repeat("a", maxAnalysisExcerptLen+1))
}
