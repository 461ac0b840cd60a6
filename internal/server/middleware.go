package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obsmetrics "github.com/smallbiznis/imagegen/internal/observability/metrics"
)

const contextCrawlerKey = "crawler"

var crawlerPatterns = []string{"Googlebot", "bingbot", "Baiduspider", "YandexBot", "DuckDuckBot"}

// CrawlerDetection counts search engine visits by user agent. The first
// matching pattern wins.
func CrawlerDetection(reg *obsmetrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bot := detectCrawler(c.GetHeader("User-Agent")); bot != "" {
			c.Set(contextCrawlerKey, bot)
			reg.RecordCrawlerVisit(bot)
		}
		c.Next()
	}
}

func detectCrawler(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return ""
	}
	for _, bot := range crawlerPatterns {
		if strings.Contains(ua, strings.ToLower(bot)) {
			return bot
		}
	}
	return ""
}

func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if allowAll || ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
				c.Header("Access-Control-Max-Age", "3600")
				c.Header("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
