package diagnose

import (
	"encoding/json"
	"strings"
)

// QuestionContext 选择题上下文，用于 hint 与 explain 模式
// QuestionContext describes a multiple-choice question for the hint and explain modes.
type QuestionContext struct {
	Question      string   `json:"question"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	UserAnswer    string   `json:"userAnswer,omitempty"`
	IsCorrect     *bool    `json:"isCorrect,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
	Section       string   `json:"section,omitempty"`
}

// EssayContext 平行时空题目上下文 / EssayContext is the open question for essay feedback.
type EssayContext struct {
	Question    string `json:"question"`
	ModelAnswer string `json:"modelAnswer"`
	Explanation string `json:"explanation"`
}

// ReportProvider 返回 JSON 格式的学习报告，空字符串表示没有
// ReportProvider returns the study report as JSON, or "" when there is none.
type ReportProvider func() string

func questionBlock(q *QuestionContext) string {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return ""
	}
	return "\n\n--- 相关题目信息 ---\n" + string(data)
}

func essayBlock(e *EssayContext) string {
	var b strings.Builder
	b.WriteString("\n\n--- 原始题目 ---\n")
	b.WriteString(e.Question)
	b.WriteString("\n\n--- AI参考答案 ---\n")
	b.WriteString(e.ModelAnswer)
	b.WriteString("\n\n--- AI参考解析/评分要点 ---\n")
	b.WriteString(e.Explanation)
	return b.String()
}

func reportBlock(report string) string {
	return "\n\n--- 我的学习数据报告 (JSON格式) ---\n" + report
}
