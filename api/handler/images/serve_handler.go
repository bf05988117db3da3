package images

import (
	"log"
	"net/http"
	"strconv"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	imagesvc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/image"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/gin-gonic/gin"
)

// 内容寻址的字节不会变化
const immutableCacheControl = "public, max-age=31536000, immutable"

// ServeByHash 按地址哈希读取
// @Summary      Get image by address hash
// @Tags         images
// @Produce      octet-stream
// @Param        hash  path  string  true  "32 or 64 hex chars"
// @Success      200
// @Success      304
// @Failure      400  {object}  common.Response  "InvalidInput"
// @Failure      403  {object}  common.Response  "AccessDenied"
// @Failure      404  {object}  common.Response  "NotFound or FileMissingOnDisk"
// @Router       /{hash} [get]
func (h *Handler) ServeByHash(c *gin.Context) {
	resolved, err := h.resolver.ByHash(c.Request.Context(), c.Param("hash"), requester(c))
	h.serve(c, resolved, err)
}

// ServeByToken 按加密 token 读取
// @Summary      Get image by opaque token
// @Tags         images
// @Produce      octet-stream
// @Param        token  path  string  true  "Encrypted image id"
// @Success      200
// @Failure      403  {object}  common.Response  "AccessDenied"
// @Failure      404  {object}  common.Response  "InvalidOrExpiredLink"
// @Router       /view/{token} [get]
func (h *Handler) ServeByToken(c *gin.Context) {
	resolved, err := h.resolver.ByToken(c.Request.Context(), c.Param("token"), requester(c))
	h.serve(c, resolved, err)
}

// ServeByShareCode 按短码读取
// @Summary      Get image by share code
// @Tags         images
// @Produce      octet-stream
// @Param        code  path  string  true  "Share code"
// @Success      200
// @Failure      404  {object}  common.Response  "InvalidOrExpiredLink"
// @Router       /s/{code} [get]
func (h *Handler) ServeByShareCode(c *gin.Context) {
	resolved, err := h.resolver.ByShareCode(c.Request.Context(), c.Param("code"), requester(c))
	h.serve(c, resolved, err)
}

// ServeByID 按主键读取
// @Summary      Get image by id
// @Tags         images
// @Produce      octet-stream
// @Param        id  path  int  true  "Image id"
// @Success      200
// @Failure      403  {object}  common.Response  "AccessDenied"
// @Failure      404  {object}  common.Response  "NotFound"
// @Router       /images/{id} [get]
func (h *Handler) ServeByID(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid image id"))
		return
	}
	resolved, err := h.resolver.ByID(c.Request.Context(), id, requester(c))
	h.serve(c, resolved, err)
}

// ServeByPath 按存储相对路径读取
// @Summary      Get image by stored path
// @Tags         images
// @Produce      octet-stream
// @Param        path  path  string  true  "Relative storage path, e.g. 2026/01/<name>.png"
// @Success      200
// @Success      304
// @Failure      400  {object}  common.Response  "InvalidInput"
// @Failure      403  {object}  common.Response  "AccessDenied"
// @Failure      404  {object}  common.Response  "NotFound or FileMissingOnDisk"
// @Router       /uploads/{path} [get]
func (h *Handler) ServeByPath(c *gin.Context) {
	resolved, err := h.resolver.ByPath(c.Request.Context(), c.Param("path"), requester(c))
	h.serve(c, resolved, err)
}

// serve 条件请求命中时不读取后端
func (h *Handler) serve(c *gin.Context, resolved *imagesvc.Resolved, err error) {
	if err != nil {
		common.RespondErr(c, err)
		return
	}

	header := c.Writer.Header()
	header.Set("ETag", resolved.ETag)
	header.Set("Cache-Control", immutableCacheControl)
	header.Set("Last-Modified", resolved.LastModified.Format(http.TimeFormat))

	if imagesvc.NotModified(c.GetHeader("If-None-Match"), resolved.ETag) {
		c.Status(http.StatusNotModified)
		return
	}

	payload, err := h.resolver.Open(c.Request.Context(), resolved)
	if err != nil {
		header.Del("ETag")
		header.Del("Cache-Control")
		header.Del("Last-Modified")
		common.RespondErr(c, err)
		return
	}

	header.Set("Content-Type", payload.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(payload.Data)))
	c.Status(http.StatusOK)
	if _, err := c.Writer.Write(payload.Data); err != nil && !utils.IsClientDisconnect(err) {
		log.Printf("[Retrieval] WARN: write image %d response failed: %v", resolved.Image.ID, err)
	}
}
