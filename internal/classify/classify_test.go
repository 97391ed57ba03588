package classify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/shared/model"
)

const defaultBrowserServer = model.MCPServerPlaywright

func TestClassifyBrowserPlan(t *testing.T) {
	plan := &model.AutomationPlan{
		Task: "Update the tracking sheet",
		Steps: []model.PlanStep{
			{Action: "click", Target: "#submit"},
		},
	}
	analysis := "Open docs.google.com/spreadsheets/d/XYZ and update column B."

	c := Classify(plan, analysis, nil, defaultBrowserServer)

	assert.True(t, c.RequiresBrowser)
	assert.Equal(t, TypeBrowser, c.PrimaryType)
	assert.Contains(t, c.SuggestedMCPServers, defaultBrowserServer)
	assert.False(t, c.PreferAPIOverBrowser)
	assert.Contains(t, c.DetectedServices, "google_sheets")
}

func TestClassifyPreferAPI(t *testing.T) {
	plan := &model.AutomationPlan{Task: "Sync issues"}
	analysis := "Pull the open issues from github.com/acme/repo and summarize them."

	c := Classify(plan, analysis, []string{"GITHUB_TOKEN"}, defaultBrowserServer)

	assert.True(t, c.PreferAPIOverBrowser)
	assert.False(t, c.RequiresBrowser)
	assert.Equal(t, TypeAPI, c.PrimaryType)
	assert.True(t, c.RequiresAPI)
	assert.Empty(t, c.SuggestedMCPServers)
}

func TestClassifyExplicitStepsBeatCredential(t *testing.T) {
	// 计划里有明确的浏览器步骤时，即使凭据可走 API 也不偏向 API
	plan := &model.AutomationPlan{
		Task: "File an issue",
		Steps: []model.PlanStep{
			{Action: "navigate", Target: "https://github.com/acme/repo/issues"},
			{Action: "click", Target: "New issue"},
		},
	}
	analysis := "Create an issue on github.com/acme/repo describing the outage."

	c := Classify(plan, analysis, []string{"GITHUB_TOKEN"}, defaultBrowserServer)

	assert.False(t, c.PreferAPIOverBrowser)
	assert.True(t, c.RequiresBrowser)
}

func TestClassifyEmptyAnalysis(t *testing.T) {
	plan := &model.AutomationPlan{Task: "Organize files"}

	c := Classify(plan, "", nil, defaultBrowserServer)

	assert.False(t, c.RequiresBrowser)
	assert.True(t, c.RequiresFiles)
	assert.Equal(t, TypeFile, c.PrimaryType)
	assert.Empty(t, c.BrowserURLs)
	assert.Empty(t, c.APIURLs)
}

func TestClassifyAPIURLs(t *testing.T) {
	plan := &model.AutomationPlan{Task: "Fetch data"}
	analysis := "Download the report from https://api.example.com/v2/reports/latest and save it locally."

	c := Classify(plan, analysis, nil, defaultBrowserServer)

	assert.True(t, c.RequiresAPI)
	require.Len(t, c.APIURLs, 1)
	assert.Equal(t, "https://api.example.com/v2/reports/latest", c.APIURLs[0])
	assert.Equal(t, TypeAPI, c.PrimaryType)
}

func TestClassifyURLPartition(t *testing.T) {
	plan := &model.AutomationPlan{Task: "Mixed links"}
	analysis := "See https://dashboard.example.com/home, https://api.example.com/v1/users and https://example.com/about."

	c := Classify(plan, analysis, nil, defaultBrowserServer)

	assert.Equal(t, []string{"https://dashboard.example.com/home"}, c.BrowserURLs)
	assert.Equal(t, []string{"https://api.example.com/v1/users"}, c.APIURLs)
	// 通用链接两边都不进
}

func TestClassifyMixedSingleSignal(t *testing.T) {
	// 只有关键词一个信号时判为 mixed 而非 browser
	plan := &model.AutomationPlan{Task: "Prepare report"}
	analysis := "Summarize the quarterly numbers from the dashboard export file."

	c := Classify(plan, analysis, nil, defaultBrowserServer)

	assert.True(t, c.RequiresBrowser)
	assert.Equal(t, TypeMixed, c.PrimaryType)
}

func TestClassifyDeterministic(t *testing.T) {
	plan := &model.AutomationPlan{
		Task: "Update sheet",
		Steps: []model.PlanStep{
			{Action: "navigate", Target: "https://docs.google.com/spreadsheets/d/abc"},
			{Action: "type", Target: "B2", Text: "done"},
		},
	}
	analysis := "Open the spreadsheet at https://docs.google.com/spreadsheets/d/abc, " +
		"then check https://api.github.com/repos/acme/repo for open issues."
	keys := []string{"GITHUB_TOKEN", "GOOGLE_SHEETS_API_KEY"}

	first := Classify(plan, analysis, keys, defaultBrowserServer)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again := Classify(plan, analysis, keys, defaultBrowserServer)
		againJSON, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}
}

func TestClassifyNilPlan(t *testing.T) {
	c := Classify(nil, "Visit the website https://app.example.com/login and take a screenshot.", nil, defaultBrowserServer)

	assert.True(t, c.RequiresBrowser)
	assert.Equal(t, TypeBrowser, c.PrimaryType)
}
