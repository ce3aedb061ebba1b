package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"

	"otp_bot/internal/relay/models"
)

var (
	// 优先匹配 123-456 形式，其次是 4-8 位纯数字
	hyphenCodePattern = regexp.MustCompile(`\b\d{2,4}-\d{2,4}\b`)
	plainCodePattern  = regexp.MustCompile(`\b\d{4,8}\b`)
)

// 常见平台的缩写，命中不了时取服务名前两个字符
var serviceShortNames = map[string]string{
	"whatsapp":  "WA",
	"wa":        "WA",
	"telegram":  "TG",
	"tg":        "TG",
	"facebook":  "FB",
	"fb":        "FB",
	"instagram": "IG",
	"twitter":   "X",
	"google":    "GO",
	"tiktok":    "TT",
}

var serviceKeyPattern = regexp.MustCompile(`[^a-z0-9]+`)

// ExtractCode 从短信正文提取验证码，提取不到时返回空串
func ExtractCode(body string) string {
	if match := hyphenCodePattern.FindString(body); match != "" {
		return match
	}
	return plainCodePattern.FindString(body)
}

// MaskNumberMiddle 遮蔽号码中间的 hidden 位数字
// 数字位数不足 hidden+2 时原样返回，保证首尾可辨识
func MaskNumberMiddle(value string, hidden int) string {
	raw := strings.TrimSpace(value)
	if raw == "" || hidden <= 0 {
		return raw
	}

	chars := []rune(raw)
	var digitPositions []int
	for i, r := range chars {
		if r >= '0' && r <= '9' {
			digitPositions = append(digitPositions, i)
		}
	}
	if len(digitPositions) <= hidden+2 {
		return raw
	}

	start := (len(digitPositions) - hidden) / 2
	for _, pos := range digitPositions[start : start+hidden] {
		chars[pos] = '•'
	}
	return string(chars)
}

// ServiceShort 业务平台缩写
func ServiceShort(serviceName string) string {
	key := serviceKeyPattern.ReplaceAllString(strings.ToLower(serviceName), "")
	if short, ok := serviceShortNames[key]; ok {
		return short
	}
	for known, short := range serviceShortNames {
		if len(known) > 2 && strings.Contains(key, known) {
			return short
		}
	}
	if serviceName == "" {
		return "NA"
	}
	runes := []rune(serviceName)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToUpper(string(runes))
}

// escapeCodeBlock 保证正文放进 MarkdownV2 代码块后仍然合法
func escapeCodeBlock(text string) string {
	return strings.ReplaceAll(text, "```", "'''")
}

// FormatMessage 渲染一条转发消息（MarkdownV2）
// 布局：引用行 = 平台缩写 + 国旗 + 加粗头部（缩写 ISO2 打码号码），正文放代码块便于复制
func FormatMessage(msg *models.Message) string {
	digits := digitsOnly(msg.Number)
	display := msg.Number
	if digits != "" {
		display = "+" + digits
	}
	display = MaskNumberMiddle(display, 2)

	country := DetectCountry(msg.Number)
	flag := ISOToFlag(country.ISO2)
	head := bot.EscapeMarkdown(fmt.Sprintf("%s %s %s", ServiceShort(msg.ServiceName), country.ISO2, display))
	body := escapeCodeBlock(strings.TrimSpace(msg.Body))

	return fmt.Sprintf("> ✨ %s *%s*\n```\n%s\n```", flag, head, body)
}
