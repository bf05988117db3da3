package middleware

import (
	"strconv"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics 记录请求数与耗时，route 使用注册时的模板避免标签基数膨胀
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		metrics.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(startTime).Seconds())
	}
}
