package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanFromPlanJSON(t *testing.T) {
	task := &Task{
		ID:       "t1",
		Title:    "Update sheet",
		PlanJSON: `{"task":"update the sheet","steps":[{"action":"click","target":"#cell"},{"action":"type","target":"#cell","text":"42"}]}`,
	}

	plan := ParsePlan(task)
	require.NotNil(t, plan)
	assert.False(t, plan.Synthesized)
	assert.Equal(t, "update the sheet", plan.Task)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "click", plan.Steps[0].Action)
	assert.Equal(t, "42", plan.Steps[1].Text)
}

func TestParsePlanFromFencedBlock(t *testing.T) {
	task := &Task{
		ID:    "t1",
		Title: "Update sheet",
		AnalysisText: "Here is what I found.\n" +
			"```json\n{\"task\":\"fenced plan\",\"steps\":[{\"action\":\"navigate\",\"target\":\"https://example.com\"}]}\n```\n" +
			"End of analysis.",
	}

	plan := ParsePlan(task)
	assert.False(t, plan.Synthesized)
	assert.Equal(t, "fenced plan", plan.Task)
	require.Len(t, plan.Steps, 1)
}

func TestParsePlanFallsBack(t *testing.T) {
	cases := []struct {
		name string
		task *Task
	}{
		{"no plan anywhere", &Task{ID: "t1", Title: "Organize files"}},
		{"broken plan json", &Task{ID: "t1", Title: "Organize files", PlanJSON: "{{{ nope"}},
		{"broken fenced block", &Task{ID: "t1", Title: "Organize files", AnalysisText: "```json\n{broken\n```"}},
		{"empty plan object", &Task{ID: "t1", Title: "Organize files", PlanJSON: "{}"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			plan := ParsePlan(tt.task)
			require.NotNil(t, plan)
			assert.True(t, plan.Synthesized)
			assert.Contains(t, plan.Task, "Organize files")
			assert.False(t, plan.HasSteps())
		})
	}
}

func TestFallbackPlanUsesDescription(t *testing.T) {
	plan := FallbackPlan(&Task{Title: "Sync", Description: "pull issues nightly"})
	assert.Equal(t, "Sync: pull issues nightly", plan.Task)

	plan = FallbackPlan(&Task{})
	assert.Equal(t, "Execute the recorded workflow", plan.Task)
}

func TestStripPlanSection(t *testing.T) {
	analysis := "Intro text.\n" +
		"AUTOMATION PLAN:\n" +
		"```json\n{\"task\":\"x\",\"steps\":[]}\n```\n" +
		"Trailing text."

	out := StripPlanSection(analysis)
	assert.Contains(t, out, "Intro text.")
	assert.Contains(t, out, "Trailing text.")
	assert.NotContains(t, out, "steps")
	assert.NotContains(t, out, "AUTOMATION PLAN")
}
