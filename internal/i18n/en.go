package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// UI (TUI) - Panel titles
	"panel.sessions":   "Sessions",
	"panel.transcript": "Transcript",

	// UI (TUI sidebar)
	"sidebar.usage":        "Usage",
	"sidebar.today":        "Today: %d / %d",
	"sidebar.remaining":    "Remaining: %d",
	"sidebar.total_calls":  "All time: %d calls",
	"sidebar.tokens_today": "Tokens today: %d",
	"sidebar.tokens_total": "Tokens total: %d",
	"sidebar.unlimited":    "Today: %d (no limit)",

	// UI - Status bar
	"status.ready":   "Ready",
	"status.loading": "Loading...",
	"status.deleted": "Deleted session: %s",

	// UI - Empty states
	"browser.empty":    "No sessions yet",
	"transcript.empty": "Select a session and press enter",
	"transcript.gone":  "Session no longer exists",

	// Roles
	"role.user":      "You",
	"role.assistant": "Tutor",

	// UI - Keybindings (TUI)
	"keys.help": "enter open · d delete · r refresh · tab focus · q quit",

	// Commands
	"cmd.help":     "Show available commands",
	"cmd.new":      "Start a new session",
	"cmd.sessions": "List sessions",
	"cmd.resume":   "Resume a session by id",
	"cmd.mode":     "Switch diagnosis mode",
	"cmd.usage":    "Show usage counters",
	"cmd.exit":     "Exit application",

	// REPL
	"repl.welcome":       "quizlab chat · mode %s · session %s",
	"repl.unknown_cmd":   "Unknown command: %s (try /help)",
	"repl.mode_switched": "Mode switched to %s",
	"repl.no_sessions":   "No sessions yet",

	// Errors
	"error.provider": "Provider error: %s",
	"error.session":  "Session error: %s",
	"error.busy":     "A reply is still in progress",

	// Session
	"session.new":     "New session: %s",
	"session.loaded":  "Loaded session: %s",
	"session.deleted": "Deleted session: %s",

	// Usage
	"usage.limit_reached": "Today's AI call limit has been reached.",
	"usage.reset":         "Call counters reset (token totals kept)",
}
