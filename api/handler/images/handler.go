package images

import (
	"strconv"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	imagesvc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/image"
	"github.com/gin-gonic/gin"
)

// Handler 图片处理器
type Handler struct {
	upload         *imagesvc.UploadService
	deleter        *imagesvc.DeleteService
	resolver       *imagesvc.Resolver
	manage         *imagesvc.ManageService
	maxUploadBytes int64
}

// NewHandler 图片处理器
func NewHandler(
	upload *imagesvc.UploadService,
	deleter *imagesvc.DeleteService,
	resolver *imagesvc.Resolver,
	manage *imagesvc.ManageService,
	maxUploadBytes int64,
) *Handler {
	return &Handler{
		upload:         upload,
		deleter:        deleter,
		resolver:       resolver,
		manage:         manage,
		maxUploadBytes: maxUploadBytes,
	}
}

// requester 由认证中间件写入的身份
func requester(c *gin.Context) imagesvc.Requester {
	id, ok := middleware.GetUserID(c)
	return imagesvc.Requester{UserID: id, Authenticated: ok}
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func parseOptionalID(raw string) (*uint, bool) {
	if raw == "" {
		return nil, true
	}
	id, ok := parseID(raw)
	if !ok {
		return nil, false
	}
	return &id, true
}
