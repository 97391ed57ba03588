// Package classify 任务能力分类器
//
// 纯函数：输入 (plan, analysisText, credentialKeys)，输出 Classification。
// 无副作用、无 I/O，相同输入产出逐位相同的结果。
package classify

import (
	"regexp"
	"sort"
	"strings"

	"autopilot/internal/shared/model"
)

// ============================================================================
// 类型定义
// ============================================================================

// PrimaryType 任务主类型
type PrimaryType string

const (
	TypeBrowser PrimaryType = "browser"
	TypeFile    PrimaryType = "file"
	TypeMixed   PrimaryType = "mixed"
	TypeAPI     PrimaryType = "api"
)

// Classification 分类结果
type Classification struct {
	PrimaryType          PrimaryType `json:"primary_type"`
	RequiresBrowser      bool        `json:"requires_browser"`
	RequiresFiles        bool        `json:"requires_files"`
	RequiresAPI          bool        `json:"requires_api"`
	BrowserURLs          []string    `json:"browser_urls"`
	APIURLs              []string    `json:"api_urls"`
	DetectedServices     []string    `json:"detected_services"`
	SuggestedMCPServers  []string    `json:"suggested_mcp_servers"`
	PreferAPIOverBrowser bool        `json:"prefer_api_over_browser"`
}

// ============================================================================
// 固定模式表
// ============================================================================

// browserVerbs 计划步骤中的浏览器动作词汇
var browserVerbs = map[string]bool{
	"click":      true,
	"type":       true,
	"scroll":     true,
	"navigate":   true,
	"hover":      true,
	"select":     true,
	"drag":       true,
	"screenshot": true,
	"wait":       true,
}

// browserKeywords 分析文本中暗示浏览器操作的关键词
var browserKeywords = []string{
	"spreadsheet",
	"browser",
	"web page",
	"webpage",
	"website",
	"fill out the form",
	"fill in the form",
	"form submission",
	"dashboard",
	"log in to",
	"login to",
	"sign in to",
	"navigate to",
	"google sheets",
	"google docs",
}

var urlRe = regexp.MustCompile(`https?://[^\s"'<>\)\]]+`)

// browserURLRe 浏览器相关的 URL 模式
var browserURLRe = regexp.MustCompile(`(?i)(docs\.google\.com|sheets\.google\.com|notion\.so|airtable\.com|app\.|dashboard\.|admin\.|console\.)`)

// apiURLRe API 端点的 URL 模式
var apiURLRe = regexp.MustCompile(`(?i)(api\.|/api/|/v[0-9]+/|\.googleapis\.com|raw\.githubusercontent\.com)`)

// service 外部服务识别规则
//
// pattern 同时匹配分析文本和每个 URL；credKey 是对应的 API 凭据键，
// dual 表示该服务同时有浏览器和 API 两条路径。
type service struct {
	name    string
	pattern *regexp.Regexp
	credKey string
	dual    bool
}

var knownServices = []service{
	{
		name:    "google_sheets",
		pattern: regexp.MustCompile(`(?i)(docs\.google\.com/spreadsheets|sheets\.google\.com|google sheets)`),
		credKey: "GOOGLE_SHEETS_API_KEY",
		dual:    true,
	},
	{
		name:    "github",
		pattern: regexp.MustCompile(`(?i)(github\.com|github repo)`),
		credKey: "GITHUB_TOKEN",
		dual:    true,
	},
	{
		name:    "notion",
		pattern: regexp.MustCompile(`(?i)(notion\.so|notion page|notion database)`),
		credKey: "NOTION_API_KEY",
		dual:    true,
	},
}

// ============================================================================
// 分类入口
// ============================================================================

// Classify 对计划和分析文本做能力分类
//
// browserServer 是配置选定的浏览器工具服务器名，仅在 requiresBrowser 时
// 出现在 SuggestedMCPServers 中。
func Classify(plan *model.AutomationPlan, analysisText string, credentialKeys []string, browserServer string) Classification {
	text := strings.ToLower(analysisText)

	// 信号 (a)：计划步骤里的浏览器动作
	hasBrowserSteps := false
	if plan != nil {
		for _, step := range plan.Steps {
			if browserVerbs[strings.ToLower(strings.TrimSpace(step.Action))] {
				hasBrowserSteps = true
				break
			}
		}
	}

	// 信号 (b)：分析文本里的关键词
	hasBrowserKeywords := false
	for _, kw := range browserKeywords {
		if strings.Contains(text, kw) {
			hasBrowserKeywords = true
			break
		}
	}

	// URL 提取与分组
	urls := extractURLs(analysisText)
	var browserURLs, apiURLs []string
	for _, u := range urls {
		switch {
		case apiURLRe.MatchString(u):
			apiURLs = append(apiURLs, u)
		case browserURLRe.MatchString(u):
			browserURLs = append(browserURLs, u)
		}
	}

	// 信号 (c)：存在浏览器相关 URL
	hasBrowserURLs := len(browserURLs) > 0

	// 服务识别：同时扫描分析文本和所有 URL
	credSet := make(map[string]bool, len(credentialKeys))
	for _, k := range credentialKeys {
		credSet[k] = true
	}

	var detected []string
	preferAPI := false
	apiCredMatch := false
	for _, svc := range knownServices {
		matched := svc.pattern.MatchString(analysisText)
		if !matched {
			for _, u := range urls {
				if svc.pattern.MatchString(u) {
					matched = true
					break
				}
			}
		}
		if !matched {
			continue
		}
		detected = append(detected, svc.name)

		if svc.dual && credSet[svc.credKey] {
			apiCredMatch = true
			// 计划里有明确的浏览器步骤时，以计划为准，不走 API 优先
			if !hasBrowserSteps {
				preferAPI = true
			}
		}
	}
	sort.Strings(detected)

	requiresBrowser := (hasBrowserSteps || hasBrowserKeywords || hasBrowserURLs) && !preferAPI
	requiresAPI := len(apiURLs) > 0 || apiCredMatch

	// 主类型判定
	var primary PrimaryType
	switch {
	case preferAPI && requiresAPI:
		primary = TypeAPI
	case requiresBrowser:
		signals := 0
		if hasBrowserSteps {
			signals++
		}
		if hasBrowserKeywords {
			signals++
		}
		if hasBrowserURLs {
			signals++
		}
		if signals >= 2 {
			primary = TypeBrowser
		} else {
			primary = TypeMixed
		}
	case requiresAPI:
		primary = TypeAPI
	default:
		primary = TypeFile
	}

	var servers []string
	if requiresBrowser {
		servers = append(servers, browserServer)
	}

	return Classification{
		PrimaryType:          primary,
		RequiresBrowser:      requiresBrowser,
		RequiresFiles:        true,
		RequiresAPI:          requiresAPI,
		BrowserURLs:          browserURLs,
		APIURLs:              apiURLs,
		DetectedServices:     detected,
		SuggestedMCPServers:  servers,
		PreferAPIOverBrowser: preferAPI,
	}
}

// extractURLs 提取绝对 URL，去重并保持首次出现顺序
func extractURLs(text string) []string {
	raw := urlRe.FindAllString(text, -1)
	seen := make(map[string]bool, len(raw))
	var urls []string
	for _, u := range raw {
		u = strings.TrimRight(u, ".,;:")
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}
