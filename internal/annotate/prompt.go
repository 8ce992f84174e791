package annotate

import (
	"fmt"
	"strings"

	"horse.fit/newsai/internal/reader"
)

const maxPromptTextRunes = 6000

const systemPromptZH = `你是法律资讯平台的编辑助手。请阅读新闻并输出 JSON 对象，字段如下：
- summary：一到两句话的中文摘要；
- highlights：三到五条要点，每条一句话；
- keywords：三到八个关键词；
- risk_level：内容发布风险，取值 unknown、safe、warning、danger 之一（涉及违法犯罪、暴力、色情或政治敏感内容为 danger，广告营销为 warning）。
只输出 JSON，不要额外解释。`

const systemPromptEN = `You are an editorial assistant for a legal news platform. Read the article and answer with a JSON object with these fields:
- summary: a one or two sentence summary;
- highlights: three to five key points, one sentence each;
- keywords: three to eight short keywords;
- risk_level: publication risk, one of unknown, safe, warning, danger (crime, violence, sexual or politically sensitive content is danger; advertising is warning).
Answer with the JSON object only, no extra commentary.`

// BuildPrompt returns the system and user prompts for an article. Chinese
// articles get the Chinese prompt, everything else the English one.
func BuildPrompt(title, text, language string) (string, string) {
	body, _ := reader.TruncateRunes(text, maxPromptTextRunes)
	title = strings.TrimSpace(title)

	if language == "zh" {
		return systemPromptZH, fmt.Sprintf("标题：%s\n\n正文：\n%s", title, body)
	}
	return systemPromptEN, fmt.Sprintf("Title: %s\n\nArticle:\n%s", title, body)
}
