package core

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// PageData is embedded by every view's data.
type PageData struct {
	Title     string
	User      *User
	RequestID string
}

func newPageData(rc *RequestContext, title string) PageData {
	return PageData{Title: title, User: rc.User, RequestID: rc.RequestID}
}

// Pagination describes one page of a post listing.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

func newPagination(page, perPage, total int) Pagination {
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: calcTotalPages(total, perPage)}
}

func (p Pagination) HasPrev() bool { return p.Page > 1 }
func (p Pagination) HasNext() bool { return p.Page < p.TotalPages }
func (p Pagination) PrevPage() int { return p.Page - 1 }
func (p Pagination) NextPage() int { return p.Page + 1 }

// TimelinePage feeds the main view: the timeline and hashtag search.
type TimelinePage struct {
	PageData
	Posts      []Post
	Pagination Pagination
	Hashtag    string
	LoginError string
	Error      string
}

type ProfilePage struct {
	PageData
	Posts      []Post
	Pagination Pagination
}

type JoinPage struct {
	PageData
	Error string
}

func (h *handlers) registerPageRoutes(r gin.IRoutes) {
	r.GET("/", h.timeline)
	r.GET("/profile", IsLoggedIn(), h.profile)
	r.GET("/join", IsNotLoggedIn(), h.join)
	r.GET("/hashtag", h.hashtag)
}

func (h *handlers) timeline(c *gin.Context) {
	rc := RequestFrom(c)
	page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
	if err != nil {
		fail(c, err)
		return
	}
	posts, total, err := h.posts.Timeline(c.Request.Context(), page, perPage)
	if err != nil {
		fail(c, Internal(err))
		return
	}
	c.HTML(http.StatusOK, "main", TimelinePage{
		PageData:   newPageData(rc, "NodeBird"),
		Posts:      posts,
		Pagination: newPagination(page, perPage, total),
		LoginError: c.Query("loginError"),
		Error:      c.Query("error"),
	})
}

func (h *handlers) profile(c *gin.Context) {
	rc := RequestFrom(c)
	page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
	if err != nil {
		fail(c, err)
		return
	}
	posts, total, err := h.posts.ListByUser(c.Request.Context(), rc.User.ID, page, perPage)
	if err != nil {
		fail(c, Internal(err))
		return
	}
	c.HTML(http.StatusOK, "profile", ProfilePage{
		PageData:   newPageData(rc, "My profile - NodeBird"),
		Posts:      posts,
		Pagination: newPagination(page, perPage, total),
	})
}

func (h *handlers) join(c *gin.Context) {
	rc := RequestFrom(c)
	c.HTML(http.StatusOK, "join", JoinPage{
		PageData: newPageData(rc, "Join - NodeBird"),
		Error:    c.Query("error"),
	})
}

func (h *handlers) hashtag(c *gin.Context) {
	rc := RequestFrom(c)
	tag := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Query("hashtag")), "#"))
	if tag == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
	if err != nil {
		fail(c, err)
		return
	}
	posts, total, err := h.posts.ListByHashtag(c.Request.Context(), tag, page, perPage)
	if err != nil {
		fail(c, Internal(err))
		return
	}
	c.HTML(http.StatusOK, "main", TimelinePage{
		PageData:   newPageData(rc, "#"+tag+" - NodeBird"),
		Posts:      posts,
		Pagination: newPagination(page, perPage, total),
		Hashtag:    tag,
	})
}

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, BadRequest("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, BadRequest("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
