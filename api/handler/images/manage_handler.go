package images

import (
	"strconv"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	imagesvc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/image"
	"github.com/gin-gonic/gin"
)

// UpdateRequestBody PATCH 请求体
type UpdateRequestBody struct {
	Action  string `json:"action" binding:"required"`
	AlbumID *uint  `json:"albumId"`
}

// ImageInfo 图片详情
// @Summary      Get image record
// @Tags         images
// @Produce      json
// @Param        id  path  int  true  "Image id"
// @Success      200  {object}  common.Response{data=imagesvc.ImageView}
// @Failure      403  {object}  common.Response  "AccessDenied"
// @Failure      404  {object}  common.Response  "NotFound"
// @Router       /images/{id}/info [get]
func (h *Handler) ImageInfo(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid image id"))
		return
	}
	view, err := h.manage.Info(c.Request.Context(), id, requester(c))
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, view)
}

// ListImages 当前用户的图片列表
// @Summary      List own images
// @Tags         images
// @Produce      json
// @Param        page       query  int  false  "Page, default 1"
// @Param        page_size  query  int  false  "Page size, default 20, max 100"
// @Param        album_id   query  int  false  "Only images in this album"
// @Success      200  {object}  common.Response{data=imagesvc.ListResult}
// @Failure      401  {object}  common.Response  "Unauthenticated"
// @Security     BearerAuth
// @Router       /images [get]
func (h *Handler) ListImages(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	albumID, ok := parseOptionalID(c.Query("album_id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid album id"))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.manage.List(c.Request.Context(), userID, albumID, page, pageSize)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, result)
}

// UpdateImage 切换可见性或移动相册
// @Summary      Update image
// @Tags         images
// @Accept       json
// @Produce      json
// @Param        id       path  int                true  "Image id"
// @Param        request  body  UpdateRequestBody  true  "toggle_visibility or move_to_album"
// @Success      200  {object}  common.Response{data=models.Image}
// @Failure      400  {object}  common.Response  "InvalidInput"
// @Failure      404  {object}  common.Response  "NotFound"
// @Security     BearerAuth
// @Router       /images/{id} [patch]
func (h *Handler) UpdateImage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	id, ok := parseID(c.Param("id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid image id"))
		return
	}

	var body UpdateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.RespondErr(c, errs.InvalidInput("request body must contain an 'action'"))
		return
	}

	updated, err := h.manage.Update(c.Request.Context(), id, userID, imagesvc.UpdateRequest{
		Action:  body.Action,
		AlbumID: body.AlbumID,
	})
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, updated)
}

// ShareImage 生成分享链接
// @Summary      Create share links
// @Tags         images
// @Produce      json
// @Param        id  path  int  true  "Image id"
// @Success      200  {object}  common.Response{data=imagesvc.ShareLinks}
// @Failure      404  {object}  common.Response  "NotFound"
// @Security     BearerAuth
// @Router       /images/{id}/share [post]
func (h *Handler) ShareImage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	id, ok := parseID(c.Param("id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid image id"))
		return
	}
	links, err := h.manage.Share(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, links)
}

// StorageUsage 存储用量
// @Summary      Storage usage
// @Tags         storage
// @Produce      json
// @Success      200  {object}  common.Response{data=imagesvc.UsageReport}
// @Security     BearerAuth
// @Router       /storage/usage [get]
func (h *Handler) StorageUsage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	report, err := h.manage.Usage(c.Request.Context(), userID)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, report)
}

// TestStrategyRequest 存储检查请求
type TestStrategyRequest struct {
	StrategyID uint   `json:"strategy_id"`
	Mode       string `json:"mode"`
}

// TestStrategy 检查存储策略是否可用
// @Summary      Test a storage strategy
// @Description  mode=connection runs the backend health check, mode=upload writes and removes a small object.
// @Description  Backend failures are reported in the body with ok=false.
// @Tags         storage
// @Accept       json
// @Produce      json
// @Param        body  body      TestStrategyRequest  true  "Strategy and mode"
// @Success      200   {object}  common.Response{data=imagesvc.StrategyCheck}
// @Failure      400   {object}  common.Response  "InvalidInput or StrategyNotFound"
// @Security     BearerAuth
// @Router       /storage/test [post]
func (h *Handler) TestStrategy(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var body TestStrategyRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.StrategyID == 0 {
		common.RespondErr(c, errs.InvalidInput("request body must contain a 'strategy_id'"))
		return
	}
	check, err := h.manage.TestStrategy(c.Request.Context(), userID, body.StrategyID, body.Mode)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, check)
}
