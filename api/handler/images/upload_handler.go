package images

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	imagesvc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/image"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/format"
	"github.com/gin-gonic/gin"
)

// UploadResponse 上传成功返回的数据
type UploadResponse struct {
	ID       uint              `json:"id"`
	Hash     string            `json:"hash"`
	Filename string            `json:"filename"`
	Size     int64             `json:"size"`
	MimeType string            `json:"mime_type"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	IsPublic bool              `json:"is_public"`
	URL      string            `json:"url"`
	Links    utils.LinkFormats `json:"links"`
	Warnings []string          `json:"warnings,omitempty"`
}

// maxFilesPerRequest 单次请求最多上传的文件数
const maxFilesPerRequest = 10

// BatchUploadItem 多文件上传中单个文件的结果
type BatchUploadItem struct {
	Filename string          `json:"filename"`
	Success  bool            `json:"success"`
	Data     *UploadResponse `json:"data,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchUploadResponse 多文件上传结果
type BatchUploadResponse struct {
	Results   []BatchUploadItem `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// UploadImage 处理图片上传，单文件直接返回记录，多文件返回逐个结果
// @Summary      Upload image
// @Description  Store one or more images on the caller's storage strategy.
// @Description  A single file returns UploadResponse; several files return BatchUploadResponse.
// @Tags         images
// @Accept       multipart/form-data
// @Produce      json
// @Param        file       formData  file    true   "Image file, repeat the key for several files (max 10)"
// @Param        storage    formData  int     false  "Storage strategy id"
// @Param        albumId    formData  int     false  "Album id owned by the caller"
// @Param        isPrivate  formData  bool    false  "Only the owner can read the image"
// @Param        compress   formData  bool    false  "Resize and re-encode before storing"
// @Param        quality    formData  int     false  "Encode quality 1-100"
// @Success      200  {object}  common.Response{data=UploadResponse}
// @Failure      400  {object}  common.Response  "InvalidInput or StrategyNotFound"
// @Failure      401  {object}  common.Response  "Unauthenticated"
// @Failure      413  {object}  common.Response  "QuotaExceeded"
// @Failure      500  {object}  common.Response  "StorageWriteFailed"
// @Security     BearerAuth
// @Router       /upload [post]
func (h *Handler) UploadImage(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		common.RespondErr(c, errs.Unauthenticated("authentication required"))
		return
	}

	files, err := uploadedFiles(c)
	if err != nil {
		common.RespondErr(c, err)
		return
	}
	if len(files) == 1 {
		if err := h.checkSize(files[0]); err != nil {
			common.RespondErr(c, err)
			return
		}
	}

	strategyID, ok := parseOptionalID(c.PostForm("storage"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid storage id"))
		return
	}
	albumID, ok := parseOptionalID(c.PostForm("albumId"))
	if !ok {
		common.RespondErr(c, errs.InvalidInput("invalid album id"))
		return
	}
	quality := 0
	if raw := c.PostForm("quality"); raw != "" {
		if quality, err = strconv.Atoi(raw); err != nil {
			common.RespondErr(c, errs.InvalidInput("invalid quality"))
			return
		}
	}

	base := imagesvc.UploadRequest{
		UserID:     userID,
		AlbumID:    albumID,
		IsPrivate:  formBool(c.PostForm("isPrivate")),
		Compress:   formBool(c.PostForm("compress")),
		Quality:    quality,
		StrategyID: strategyID,
		ClientIP:   c.ClientIP(),
	}

	if len(files) == 1 {
		resp, err := h.uploadOne(c, files[0], base)
		if err != nil {
			common.RespondErr(c, err)
			return
		}
		common.RespondSuccess(c, resp)
		return
	}

	batch := BatchUploadResponse{Results: make([]BatchUploadItem, 0, len(files))}
	for _, fh := range files {
		item := BatchUploadItem{Filename: fh.Filename}
		err := h.checkSize(fh)
		var resp *UploadResponse
		if err == nil {
			resp, err = h.uploadOne(c, fh, base)
		}
		if err != nil {
			log.Printf("[Upload] WARN: batch item %q failed for user %d: %v", fh.Filename, userID, err)
			item.Kind = string(errs.KindOf(err))
			item.Error = common.PublicMessage(err)
			batch.Failed++
		} else {
			item.Success = true
			item.Data = resp
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, item)

		if c.Request.Context().Err() != nil {
			break
		}
	}
	common.RespondSuccess(c, batch)
}

// uploadedFiles 收集 file 与 files 键下的全部文件
func uploadedFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, errs.InvalidInput("a file is required under the 'file' key")
	}
	var files []*multipart.FileHeader
	for _, key := range []string{"file", "files"} {
		files = append(files, form.File[key]...)
	}
	switch {
	case len(files) == 0:
		return nil, errs.InvalidInput("a file is required under the 'file' key")
	case len(files) > maxFilesPerRequest:
		return nil, errs.InvalidInput(fmt.Sprintf("at most %d files per request", maxFilesPerRequest))
	}
	return files, nil
}

func (h *Handler) checkSize(fh *multipart.FileHeader) error {
	if h.maxUploadBytes > 0 && fh.Size > h.maxUploadBytes {
		return errs.InvalidInput(fmt.Sprintf("file exceeds the maximum upload size of %s",
			format.HumanReadableSize(h.maxUploadBytes)))
	}
	return nil
}

func (h *Handler) uploadOne(c *gin.Context, fh *multipart.FileHeader, req imagesvc.UploadRequest) (*UploadResponse, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, errs.InvalidInput("failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errs.InvalidInput("failed to read uploaded file")
	}

	req.Filename = fh.Filename
	req.MimeType = fh.Header.Get("Content-Type")
	req.Data = data
	result, err := h.upload.Upload(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}

	img := result.Image
	return &UploadResponse{
		ID:       img.ID,
		Hash:     img.AddressHash,
		Filename: img.OriginalName,
		Size:     img.Size,
		MimeType: img.MimeType,
		Width:    img.Width,
		Height:   img.Height,
		IsPublic: img.IsPublic,
		URL:      result.URL,
		Links:    result.Links,
		Warnings: result.Warnings,
	}, nil
}

func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
