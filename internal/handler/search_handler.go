package handler

import (
	"net/http"
	"strings"
	"voxchat-go/internal/service"
	"voxchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了知识库检索的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchRequest 是检索接口的请求体。
type SearchRequest struct {
	Query string `json:"query"`
}

// Search 在知识库中检索与问题最相近的答案。
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		fail(c, http.StatusBadRequest, "query 参数不能为空")
		return
	}
	log.Infof("[SearchHandler] 收到检索请求, query: %s", req.Query)
	success(c, h.searchService.Search(req.Query))
}
