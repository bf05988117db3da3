package images

import (
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/gin-gonic/gin"
)

type DeleteRequestBody struct {
	IDs []uint `json:"ids" binding:"required"`
}

// DeleteImages 批量删除图片
// @Summary      Delete images
// @Tags         images
// @Accept       json
// @Produce      json
// @Param        request  body  DeleteRequestBody  true  "Image ids"
// @Success      200  {object}  common.Response{data=imagesvc.DeleteResult}
// @Failure      400  {object}  common.Response  "InvalidInput"
// @Failure      404  {object}  common.Response  "NotFound"
// @Security     BearerAuth
// @Router       /images [delete]
func (h *Handler) DeleteImages(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var body DeleteRequestBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.IDs) == 0 {
		common.RespondErr(c, errs.InvalidInput("request body must contain a non-empty 'ids' list"))
		return
	}

	result, err := h.deleter.DeleteBatch(c.Request.Context(), body.IDs, userID)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccessMessage(c, "Delete request processed successfully.", result)
}

// DeleteSingleImage 删除单张图片
// @Summary      Delete image
// @Tags         images
// @Produce      json
// @Param        id  path  int  true  "Image id"
// @Success      200  {object}  common.Response{data=imagesvc.DeleteResult}
// @Failure      404  {object}  common.Response  "NotFound"
// @Security     BearerAuth
// @Router       /images/{id} [delete]
func (h *Handler) DeleteSingleImage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	id, ok := parseID(c.Param("id"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid image id"))
		return
	}

	result, err := h.deleter.DeleteOne(c.Request.Context(), id, userID)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	common.RespondSuccess(c, result)
}
