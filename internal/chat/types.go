package chat

// 消息角色 / Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是 OpenAI 兼容的对话消息
// Message is an OpenAI-compatible chat message.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Clone 返回消息切片的浅拷贝，nil 保持为 nil
// Clone returns a shallow copy of messages; nil stays nil.
func Clone(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
