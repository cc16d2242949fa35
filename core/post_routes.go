package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPostLen = 140

func (h *handlers) registerPostRoutes(g *gin.RouterGroup) {
	g.POST("", IsLoggedIn(), h.createPost)
}

func (h *handlers) createPost(c *gin.Context) {
	rc := RequestFrom(c)
	content := strings.TrimSpace(rc.Field("content"))
	if content == "" {
		fail(c, BadRequest("content is required"))
		return
	}
	if tooLong(content, maxPostLen) {
		fail(c, BadRequest("content must be at most %d characters", maxPostLen))
		return
	}
	img := strings.TrimSpace(rc.Field("img"))
	if tooLong(img, maxImgLen) {
		fail(c, BadRequest("img must be at most %d characters", maxImgLen))
		return
	}
	post, err := h.posts.Create(c.Request.Context(), rc.User.ID, content, img)
	if err != nil {
		fail(c, Internal(fmt.Errorf("create post: %w", err)))
		return
	}
	h.logger.Info("post created",
		zap.Int64("post_id", post.ID),
		zap.Int64("user_id", rc.User.ID),
		zap.Strings("hashtags", ParseHashtags(content)))
	c.Redirect(http.StatusFound, "/")
}
