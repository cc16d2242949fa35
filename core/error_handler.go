package core

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ErrorPage is the data of the error view.
type ErrorPage struct {
	PageData
	Message string
	Status  int
	Detail  string
}

// ErrorRenderer is the terminal error handler: it turns an error into the
// error view and never passes control on.
type ErrorRenderer struct {
	views  *Views
	cfg    Config
	logger *zap.Logger
}

func NewErrorRenderer(views *Views, cfg Config, logger *zap.Logger) *ErrorRenderer {
	return &ErrorRenderer{views: views, cfg: cfg, logger: logger}
}

// Render writes the error page for err. Detail is only included outside
// production.
func (r *ErrorRenderer) Render(rc *RequestContext, err error) {
	he := AsHTTPError(err)
	status := he.StatusCode()
	c := rc.Gin

	fields := []zap.Field{
		zap.String("request_id", rc.RequestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.String("kind", string(he.Kind)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		if len(he.Stack) > 0 {
			fields = append(fields, zap.ByteString("stack", he.Stack))
		}
		r.logger.Error("request failed", fields...)
	} else {
		r.logger.Info("request rejected", fields...)
	}

	// a handler may have prepared a redirect before failing
	c.Writer.Header().Del("Location")

	page := ErrorPage{
		PageData: newPageData(rc, "Error"),
		Message:  he.Message,
		Status:   status,
	}
	if !r.cfg.Production() {
		page.Detail = he.Detail()
	}

	if r.views != nil {
		body, rerr := r.views.Execute("error", page)
		if rerr == nil {
			c.Data(status, "text/html; charset=utf-8", body)
			return
		}
		r.logger.Error("error view failed", zap.Error(rerr))
	}
	text := fmt.Sprintf("%d %s\n", status, he.Message)
	if page.Detail != "" {
		text += "\n" + page.Detail + "\n"
	}
	c.Data(status, "text/plain; charset=utf-8", []byte(text))
}
