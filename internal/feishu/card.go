package feishu

import "fmt"

// Card is an interactive card payload in the platform's v2 JSON shape.
type Card map[string]any

// MarkdownCard renders markdown body text under a colored title header.
func MarkdownCard(title, markdown string) Card {
	return Card{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": title},
			"template": "blue",
		},
		"elements": []any{
			map[string]any{
				"tag":     "markdown",
				"content": markdown,
			},
		},
	}
}

// TaskSummaryCard is the end-of-session card: working directory, tool name
// and the tail of the terminal output.
func TaskSummaryCard(cli, cwd, summary string) Card {
	if summary == "" {
		summary = "(no output captured)"
	}
	return Card{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": "Session ended"},
			"template": "turquoise",
		},
		"elements": []any{
			map[string]any{
				"tag":     "markdown",
				"content": fmt.Sprintf("**Tool:** %s\n**Directory:** %s", cli, cwd),
			},
			map[string]any{"tag": "hr"},
			map[string]any{
				"tag":     "markdown",
				"content": summary,
			},
		},
	}
}

// NoSessionCard answers a chat message that reached a bot with no active
// session bound to it.
func NoSessionCard() Card {
	return Card{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": "No active session"},
			"template": "orange",
		},
		"elements": []any{
			map[string]any{
				"tag":     "markdown",
				"content": "This bot has no running CLI session. Start one with `felay proxy -- claude` and bind it to this bot.",
			},
		},
	}
}
