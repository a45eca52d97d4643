package diagnose

import (
	"fmt"
	"strings"
)

// Mode 对话模式 / Mode selects the assistant persona and the context attached to prompts.
type Mode string

const (
	ModeGeneral       Mode = "general"
	ModeDiagnose      Mode = "diagnose"
	ModeHint          Mode = "hint"
	ModeExplain       Mode = "explain"
	ModeEssayFeedback Mode = "essay_feedback"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeGeneral, ModeDiagnose, ModeHint, ModeExplain, ModeEssayFeedback}

var systemPrompts = map[Mode]string{
	ModeGeneral:  `你是一个乐于助人的AI学习助手，旨在以友好且信息量充足的方式回答用户关于艺术史、世界常识、英语学习等相关问题。如果问题超出你的知识范围，请礼貌地说明。`,
	ModeDiagnose: `你是一位专业的学习伙伴。你的任务是基于用户提供的学习数据报告（JSON格式）和用户的提问，进行深入分析，并提供个性化的学习反馈和建议。请使用友好、鼓励且专业的语气与用户交流。在分析数据时，请尽量具体，并结合数据中的指标进行说明。如果用户提供的JSON数据报告有无法解析的部分或不理解的字段，请礼貌地指出并请求用户澄清，或者在你能理解的范围内进行分析。你的回答应专注于帮助用户理解他们的学习状况并提供改进建议。`,
	ModeHint:     `你是一位循循诱导的辅导老师。请根据用户提供的【选择题】题目，旁敲侧击地给出启发性提示。提示应该聚焦到题目最核心的知识点或逻辑，且语言精练，长度控制在500个汉字左右。不要直接给出答案或解析。如果用户提供的信息不足以判断题目类型或内容，请礼貌地请求更多信息。`,
	ModeExplain: `你是一位专业的授课老师。请结合用户提供的【选择题】题目信息、原始解析和回答结果，提供深度且全面的解析。你的解析需要包含：
## 🎯 正确答案解析
详细解释为什么选择这个答案，包含相关的理论知识和背景信息。你需要使用准确清晰的语言写这部分，目的在于界定。
## ❌ 错误选项分析
逐一分析其他选项的问题所在，解释为什么它们不正确。（当且仅当涉及到英语语法的时候，你必须使用英语基础差的人也能理解你的解析，此时，你需要使用浅显易懂的语言来讲述，目的在于帮助用户理解）
## 💡 知识拓展
提供相关的延伸知识点，帮助更深入理解这个主题。
## 📚 学习建议
给出针对性的学习建议或记忆技巧。
如果内容不属于英语学习，请确保内容专业准确、结构清晰、语言生动。如果内容属于英语学习，必须生动形象、易于理解。`,
	ModeEssayFeedback: `你是一位博学而富有洞察力的艺术史比较研究专家。你的任务是基于用户当前正在学习的【一个特定艺术时期或主题】，进行横向的、全球范围内的知识扩展。

你会收到以下信息：
1.  用户当前学习的主题（例如，一个题目、一个时期名称或一件作品）。

你的任务是：
-   首先，简要确认用户当前学习的主题，例如“好的，我们来聊聊当xx时期在xx地区发展时，世界其他地方的艺术动态。”
-   然后，以清晰、生动、有条理的方式，介绍与用户主题【同一历史时期】，在【世界其他不同文明或地区】（例如，欧洲、中东、印度、美洲等）发生的重要的、有代表性的艺术事件、风格流派、代表人物或杰出作品。
-   你的回答应着重于建立“平行时空”的联系，帮助用户理解全球艺术的共时性与差异性。
-   你可以采用列表、小标题或段落的形式来组织内容，确保结构清晰。
-   如果用户提供的主题信息不足，请礼貌地请求更多细节，例如“为了更好地为您进行横向扩展，您能告诉我您具体在看哪个时期的哪个知识点吗？”
-   你的回答应具有启发性，激发用户对全球艺术史的兴趣。请使用引人入胜的语言，而不是干巴巴地罗列事实。`,
}

var welcomeMessages = map[Mode]string{
	ModeGeneral:       "你好！我是你的AI助手。有什么我可以帮助你的吗？",
	ModeDiagnose:      "你好！我是你的AI学情诊断师。请告诉我你希望分析什么，或者直接发送你的学习报告。",
	ModeHint:          "已进入选择题提示模式。请先设置题目信息，再发送获取提示。",
	ModeExplain:       "已进入选择题解析模式。请先设置题目信息，再发送获取完整解析。",
	ModeEssayFeedback: "你好！这里是平行时空题目的作答与反馈模式。请先设置题目，我才能为你提供反馈。",
}

// SystemPrompt 返回模式对应的系统提示，未知模式使用 general
// SystemPrompt returns the mode's system prompt; unknown modes use the general one.
func SystemPrompt(m Mode) string {
	if p, ok := systemPrompts[m]; ok {
		return p
	}
	return systemPrompts[ModeGeneral]
}

// WelcomeMessage returns the greeting shown when a mode starts.
func WelcomeMessage(m Mode) string {
	if w, ok := welcomeMessages[m]; ok {
		return w
	}
	return welcomeMessages[ModeGeneral]
}

// ParseMode 解析模式名，空字符串视为 general
// ParseMode parses a mode name; the empty string means general.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeGeneral, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// modeFromPrompt 根据已存储的系统提示反推模式
// modeFromPrompt recovers the mode from a stored system prompt.
func modeFromPrompt(prompt string) Mode {
	for _, m := range Modes {
		if strings.HasPrefix(prompt, systemPrompts[m]) {
			return m
		}
	}
	return ModeGeneral
}
