package core

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// bcrypt only looks at the first 72 bytes.
const maxPasswordBytes = 72

func (h *handlers) registerAuthRoutes(g *gin.RouterGroup) {
	g.POST("/register", IsNotLoggedIn(), h.register)
	g.POST("/login", IsNotLoggedIn(), h.login)
	g.GET("/logout", IsLoggedIn(), h.logout)
}

func (h *handlers) register(c *gin.Context) {
	rc := RequestFrom(c)
	email := strings.TrimSpace(rc.Field("email"))
	nick := strings.TrimSpace(rc.Field("nick"))
	password := rc.Field("password")
	if email == "" || nick == "" || password == "" {
		fail(c, BadRequest("email, nick and password are required"))
		return
	}
	if len(password) > maxPasswordBytes {
		fail(c, BadRequest("password must be at most %d bytes", maxPasswordBytes))
		return
	}
	if tooLong(email, maxEmailLen) || tooLong(nick, maxNickLen) {
		fail(c, BadRequest("email must be at most %d and nick at most %d characters", maxEmailLen, maxNickLen))
		return
	}

	id, err := h.accounts.Register(c.Request.Context(), email, nick, password)
	if errors.Is(err, ErrUserExists) {
		c.Redirect(http.StatusFound, "/join?error=exist")
		return
	}
	if err != nil {
		fail(c, Internal(fmt.Errorf("register: %w", err)))
		return
	}
	h.logger.Info("user registered", zap.Int64("user_id", id), zap.String("request_id", rc.RequestID))
	c.Redirect(http.StatusFound, "/")
}

func (h *handlers) login(c *gin.Context) {
	rc := RequestFrom(c)
	email := strings.TrimSpace(rc.Field("email"))
	password := rc.Field("password")
	if email == "" || password == "" {
		fail(c, BadRequest("email and password are required"))
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), LocalStrategyName, Credentials{Identifier: email, Secret: password})
	var failure *AuthFailure
	if errors.As(err, &failure) {
		h.metrics.ObserveLogin("failure")
		c.Redirect(http.StatusFound, "/?loginError="+url.QueryEscape(failure.Reason))
		return
	}
	if err != nil {
		h.metrics.ObserveLogin("error")
		fail(c, Internal(fmt.Errorf("login: %w", err)))
		return
	}

	if err := rc.Session.Regenerate(); err != nil {
		fail(c, Internal(err))
		return
	}
	rc.Session.SetUserID(h.auth.Serialize(user))
	rc.User = &user
	h.metrics.ObserveLogin("success")
	c.Redirect(http.StatusFound, "/")
}

func (h *handlers) logout(c *gin.Context) {
	rc := RequestFrom(c)
	rc.Session.ClearUser()
	rc.Session.Destroy()
	rc.User = nil
	c.Redirect(http.StatusFound, "/")
}
