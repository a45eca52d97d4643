package i18n

// ZhCNMessages 简体中文消息目录
// ZhCNMessages Simplified Chinese message catalog
var ZhCNMessages = map[string]string{
	// UI - 面板标题
	"panel.sessions":   "会话",
	"panel.transcript": "对话记录",

	// UI - 侧边栏
	"sidebar.usage":        "用量",
	"sidebar.today":        "今日: %d / %d",
	"sidebar.remaining":    "剩余: %d",
	"sidebar.total_calls":  "累计: %d 次",
	"sidebar.tokens_today": "今日 Token: %d",
	"sidebar.tokens_total": "累计 Token: %d",
	"sidebar.unlimited":    "今日: %d (不限)",

	// UI - 状态栏
	"status.ready":   "就绪",
	"status.loading": "加载中...",
	"status.deleted": "已删除会话: %s",

	// UI - 空状态
	"browser.empty":    "暂无会话",
	"transcript.empty": "选择会话后按 enter 查看",
	"transcript.gone":  "会话已不存在",

	// 角色
	"role.user":      "我",
	"role.assistant": "老师",

	// UI - 快捷键
	"keys.help": "enter 打开 · d 删除 · r 刷新 · tab 切换 · q 退出",

	// 命令
	"cmd.help":     "显示可用命令",
	"cmd.new":      "新建会话",
	"cmd.sessions": "列出会话",
	"cmd.resume":   "按 id 恢复会话",
	"cmd.mode":     "切换诊断模式",
	"cmd.usage":    "查看用量",
	"cmd.exit":     "退出",

	// REPL
	"repl.welcome":       "quizlab 对话 · 模式 %s · 会话 %s",
	"repl.unknown_cmd":   "未知命令: %s (输入 /help)",
	"repl.mode_switched": "已切换到 %s 模式",
	"repl.no_sessions":   "暂无会话",

	// 错误
	"error.provider": "AI 服务错误: %s",
	"error.session":  "会话错误: %s",
	"error.busy":     "上一条回复尚未完成",

	// 会话
	"session.new":     "新会话: %s",
	"session.loaded":  "已加载会话: %s",
	"session.deleted": "已删除会话: %s",

	// 用量
	"usage.limit_reached": "今日AI服务调用已达每日上限。",
	"usage.reset":         "调用计数已重置（Token 统计保留）",
}
