package segment

import (
	"regexp"
	"strings"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reControl    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
	)
)

// CleanText 规范化待切分文本：包括换行在内的空白都折叠为单个空格，
// 去掉控制字符，弯引号替换为直引号，最后去掉首尾空白。
func CleanText(text string) string {
	text = reWhitespace.ReplaceAllString(text, " ")
	text = reControl.ReplaceAllString(text, "")
	text = quoteReplacer.Replace(text)
	return strings.TrimSpace(text)
}
