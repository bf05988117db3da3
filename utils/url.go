package utils

import (
	"fmt"
	"html"
	"strings"
)

// LinkFormats 上传成功后返回给客户端的常用引用格式
type LinkFormats struct {
	URL      string `json:"url"`
	HTML     string `json:"html"`
	Markdown string `json:"markdown"`
	BBCode   string `json:"bbcode"`
}

// BuildLinkFormats 根据完整链接与原文件名生成各类引用文本
func BuildLinkFormats(url, name string) LinkFormats {
	if name == "" {
		name = "image"
	}
	return LinkFormats{
		URL:      url,
		HTML:     fmt.Sprintf(`<img src="%s" alt="%s" />`, html.EscapeString(url), html.EscapeString(name)),
		Markdown: fmt.Sprintf("![%s](%s)", escapeMarkdown(name), url),
		BBCode:   fmt.Sprintf("[img]%s[/img]", url),
	}
}

// JoinURL 拼接基础地址与相对路径，已是绝对地址时原样返回
func JoinURL(base, p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

var markdownEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
