package common

import (
	"errors"
	"log"
	"net/http"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/gin-gonic/gin"
)

type Response struct {
	Status string      `json:"status"`
	Kind   string      `json:"kind,omitempty"`
	Msg    string      `json:"msg"`
	Data   interface{} `json:"data,omitempty"`
}

func Respond(c *gin.Context, httpStatus int, status string, message string, data interface{}) {
	c.JSON(httpStatus, Response{
		Status: status,
		Msg:    message,
		Data:   data,
	})
}

// RespondSuccess sends a success response with data.
func RespondSuccess(c *gin.Context, data interface{}) {
	Respond(c, http.StatusOK, "success", "", data)
}

// RespondSuccessMessage sends a success response with message and data.
func RespondSuccessMessage(c *gin.Context, message string, data interface{}) {
	Respond(c, http.StatusOK, "success", message, data)
}

// RespondError sends an error response with message.
func RespondError(c *gin.Context, httpStatus int, message string) {
	Respond(c, httpStatus, "error", message, nil)
}

// PublicMessage 返回可展示给客户端的错误信息，未分类错误统一为通用提示
func PublicMessage(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind == errs.KindInternal {
		return "internal server error"
	}
	return e.Message
}

// RespondErr 按错误分类输出响应，未分类错误一律返回 500，不暴露内部细节
func RespondErr(c *gin.Context, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		log.Printf("[API] ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
		e = errs.New(errs.KindInternal, "internal server error")
	} else if e.Kind == errs.KindInternal || e.Err != nil {
		log.Printf("[API] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}

	c.JSON(e.Status(), Response{
		Status: "error",
		Kind:   e.Kind.String(),
		Msg:    e.Message,
	})
}

// RespondErrAbort 输出错误响应并终止后续处理链
func RespondErrAbort(c *gin.Context, err error) {
	RespondErr(c, err)
	c.Abort()
}

// RespondErrorAbort 输出指定状态码的错误响应并终止处理链
func RespondErrorAbort(c *gin.Context, httpStatus int, message string) {
	RespondError(c, httpStatus, message)
	c.Abort()
}
