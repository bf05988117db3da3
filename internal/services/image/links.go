package image

import (
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/hash"
)

// ShareLinks 一条记录的全部对外链接
type ShareLinks struct {
	Token     string `json:"token"`
	ViewURL   string `json:"view_url"`
	SecureURL string `json:"secure_url"`
	ShortCode string `json:"short_code,omitempty"`
	ShortURL  string `json:"short_url,omitempty"`
}

// LinkBuilder 生成指向本服务检索路由的链接
type LinkBuilder struct {
	baseURL string
	codec   *crypto.LinkCodec
	share   *crypto.ShareCode
}

// NewLinkBuilder 创建链接生成器
func NewLinkBuilder(baseURL string, codec *crypto.LinkCodec, share *crypto.ShareCode) *LinkBuilder {
	return &LinkBuilder{baseURL: baseURL, codec: codec, share: share}
}

// SecureURL /{hash} 路由，使用地址哈希的前 32 位
func (b *LinkBuilder) SecureURL(img *models.Image) string {
	return utils.JoinURL(b.baseURL, hash.SecureLink(img.AddressHash))
}

// ViewURL /view/{token} 路由
func (b *LinkBuilder) ViewURL(img *models.Image) string {
	return utils.JoinURL(b.baseURL, "view/"+b.codec.Encode(img.ID))
}

// Share 生成分享链接，短码生成失败时省略短链
func (b *LinkBuilder) Share(img *models.Image, now time.Time) ShareLinks {
	token := b.codec.Encode(img.ID)
	links := ShareLinks{
		Token:     token,
		ViewURL:   utils.JoinURL(b.baseURL, "view/"+token),
		SecureURL: b.SecureURL(img),
	}
	if b.share != nil {
		if code, err := b.share.Encode(img.ID, img.UserID, now.Unix()); err == nil {
			links.ShortCode = code
			links.ShortURL = utils.JoinURL(b.baseURL, "s/"+code)
		}
	}
	return links
}

// DecodeToken 解码 view token
func (b *LinkBuilder) DecodeToken(token string) (uint, bool) {
	return b.codec.Decode(token)
}

// DecodeShareCode 解码短码
func (b *LinkBuilder) DecodeShareCode(code string) (imageID, ownerID uint, ok bool) {
	if b.share == nil {
		return 0, 0, false
	}
	return b.share.Decode(code)
}
