package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildLinkFormats(t *testing.T) {
	links := BuildLinkFormats("https://img.example.com/abc", "cat.png")

	assert.Equal(t, "https://img.example.com/abc", links.URL)
	assert.Equal(t, `<img src="https://img.example.com/abc" alt="cat.png" />`, links.HTML)
	assert.Equal(t, "![cat.png](https://img.example.com/abc)", links.Markdown)
	assert.Equal(t, "[img]https://img.example.com/abc[/img]", links.BBCode)
}

func TestBuildLinkFormats_Escaping(t *testing.T) {
	links := BuildLinkFormats("https://x/a?b=1&c=2", `a"[b].png`)

	assert.Equal(t, `<img src="https://x/a?b=1&amp;c=2" alt="a&#34;[b].png" />`, links.HTML)
	assert.Equal(t, `![a"\[b\].png](https://x/a?b=1&c=2)`, links.Markdown)
}

func TestBuildLinkFormats_EmptyName(t *testing.T) {
	links := BuildLinkFormats("https://x/a", "")
	assert.Equal(t, "![image](https://x/a)", links.Markdown)
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name, base, path, expected string
	}{
		{"relative", "http://localhost:8080", "/abc", "http://localhost:8080/abc"},
		{"trailing slash", "https://example.com/", "view/tok", "https://example.com/view/tok"},
		{"absolute https", "https://example.com", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png"},
		{"absolute http", "https://example.com", "http://cdn/a.png", "http://cdn/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinURL(tt.base, tt.path))
		})
	}
}
