package generator

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPathGenerator_GenerateOriginalIdentifiers(t *testing.T) {
	pg := NewPathGenerator()
	pg.suffix = func() string { return "1a2b3c4d" }
	uploadTime := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name            string
		hash            string
		ext             string
		wantIdentifier  string
		wantStoragePath string
	}{
		{
			name:            "full sha3 hash",
			hash:            "ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef0123456789",
			ext:             ".jpg",
			wantIdentifier:  "abcdef0123456789_1705314600000_1a2b3c4d",
			wantStoragePath: "2024/01/abcdef0123456789_1705314600000_1a2b3c4d.jpg",
		},
		{
			name:            "short hash no ext",
			hash:            "abc",
			ext:             "",
			wantIdentifier:  "abc_1705314600000_1a2b3c4d",
			wantStoragePath: "2024/01/abc_1705314600000_1a2b3c4d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pg.GenerateOriginalIdentifiers(tt.hash, tt.ext, uploadTime)
			assert.Equal(t, tt.wantIdentifier, got.Identifier)
			assert.Equal(t, tt.wantStoragePath, got.StoragePath)
			assert.Equal(t, tt.wantIdentifier+tt.ext, got.Filename)
		})
	}
}

func TestPathGenerator_RandomSuffix(t *testing.T) {
	pg := NewPathGenerator()
	now := time.Now()
	hash := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	a := pg.GenerateOriginalIdentifiers(hash, ".png", now)
	b := pg.GenerateOriginalIdentifiers(hash, ".png", now)
	assert.NotEqual(t, a.StoragePath, b.StoragePath)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}/\d{2}/[0-9a-f]{16}_\d+_[0-9a-f]{8}\.png$`), a.StoragePath)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		name, format, mime, filename, want string
	}{
		{"format wins", "jpeg", "image/png", "a.png", ".jpg"},
		{"mime fallback", "", "image/webp", "a.bin", ".webp"},
		{"filename fallback", "", "image/x-icon", "Favicon.ICO", ".ico"},
		{"unsafe filename ext", "", "image/x-unknown", "a.p/ng", ""},
		{"nothing", "", "", "noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtensionFor(tt.format, tt.mime, tt.filename))
		})
	}
}
