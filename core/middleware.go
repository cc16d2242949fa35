package core

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBodyLimit caps parsed request bodies.
const DefaultBodyLimit int64 = 1 << 20

const requestIDHeader = "X-Request-ID"

// NewStages returns the request pipeline in its fixed order.
func NewStages(cfg Config, logger *zap.Logger, metrics *Metrics, codec *CookieCodec, sessions *SessionManager, auth *Authenticator) []Stage {
	return []Stage{
		&LoggingStage{logger: logger, metrics: metrics},
		&StaticStage{dir: cfg.PublicDir},
		&BodyParserStage{limit: DefaultBodyLimit},
		&CookieParserStage{codec: codec},
		&SessionStage{manager: sessions},
		&AuthStage{auth: auth, logger: logger},
	}
}

// LoggingStage assigns the request id and logs the request once it is done.
type LoggingStage struct {
	logger  *zap.Logger
	metrics *Metrics
}

func (s *LoggingStage) Name() string { return "logging" }

func (s *LoggingStage) Handle(rc *RequestContext) Outcome {
	c := rc.Gin
	id := c.GetHeader(requestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	rc.RequestID = id
	c.Header(requestIDHeader, id)

	rc.Defer(func() {
		elapsed := time.Since(rc.Start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.Int("size", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
		}
		if rc.User != nil {
			fields = append(fields, zap.Int64("user_id", rc.User.ID))
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
		s.metrics.ObserveRequest(c.Request.Method, route, status, elapsed)
	})
	return Continue()
}

// StaticStage serves regular files under dir for GET and HEAD requests.
type StaticStage struct {
	dir string
}

func (s *StaticStage) Name() string { return "static" }

func (s *StaticStage) Handle(rc *RequestContext) Outcome {
	req := rc.Gin.Request
	if s.dir == "" || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return Continue()
	}
	// Clean on a rooted path drops every ".." element.
	name := path.Clean("/" + req.URL.Path)
	if name == "/" {
		return Continue()
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		return Continue()
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return Continue()
	}
	http.ServeContent(rc.Gin.Writer, req, info.Name(), info.ModTime(), f)
	return Respond()
}

// BodyParserStage decodes JSON and urlencoded bodies into rc.Body.
type BodyParserStage struct {
	limit int64
}

func (s *BodyParserStage) Name() string { return "body" }

func (s *BodyParserStage) Handle(rc *RequestContext) Outcome {
	c := rc.Gin
	req := c.Request
	if req.Body == nil || req.Body == http.NoBody {
		return Continue()
	}
	switch c.ContentType() {
	case binding.MIMEJSON:
		req.Body = http.MaxBytesReader(c.Writer, req.Body, s.limit)
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return Fail(s.readError(err))
		}
		if len(raw) == 0 {
			return Continue()
		}
		var fields map[string]any
		if err := binding.JSON.BindBody(raw, &fields); err != nil {
			return Fail(BadRequest("malformed JSON body"))
		}
		for k, v := range fields {
			if str, ok := jsonScalar(v); ok {
				rc.Body[k] = str
			}
		}
	case binding.MIMEPOSTForm:
		req.Body = http.MaxBytesReader(c.Writer, req.Body, s.limit)
		if err := req.ParseForm(); err != nil {
			return Fail(s.readError(err))
		}
		for k, vs := range req.PostForm {
			if len(vs) > 0 {
				rc.Body[k] = vs[0]
			}
		}
	}
	return Continue()
}

func (s *BodyParserStage) readError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return PayloadTooLarge(s.limit)
	}
	he := BadRequest("malformed request body")
	he.Err = err
	return he
}

// jsonScalar flattens a decoded JSON value; objects, arrays and null are skipped.
func jsonScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// CookieParserStage splits request cookies into plain and verified signed ones.
// A signed cookie that fails verification is dropped.
type CookieParserStage struct {
	codec *CookieCodec
}

func (s *CookieParserStage) Name() string { return "cookies" }

func (s *CookieParserStage) Handle(rc *RequestContext) Outcome {
	for _, ck := range rc.Gin.Request.Cookies() {
		if !isSigned(ck.Value) {
			if _, seen := rc.Cookies[ck.Name]; !seen {
				rc.Cookies[ck.Name] = ck.Value
			}
			continue
		}
		if _, seen := rc.SignedCookies[ck.Name]; seen {
			continue
		}
		if v, ok := s.codec.Verify(ck.Name, ck.Value); ok {
			rc.SignedCookies[ck.Name] = v
		}
	}
	return Continue()
}

// SessionStage attaches the session and schedules its commit.
type SessionStage struct {
	manager *SessionManager
}

func (s *SessionStage) Name() string { return "session" }

func (s *SessionStage) Handle(rc *RequestContext) Outcome {
	ctx := rc.Gin.Request.Context()
	sess, err := s.manager.Load(ctx, rc.SignedCookies[sessionCookieName])
	if err != nil {
		return Fail(Internal(fmt.Errorf("load session: %w", err)))
	}
	rc.Session = sess
	rc.OnCommit(func() error {
		return s.manager.Commit(ctx, rc.Gin.Writer, rc.Session)
	})
	return Continue()
}

// AuthStage resolves the session's user reference into rc.User.
type AuthStage struct {
	auth   *Authenticator
	logger *zap.Logger
}

func (s *AuthStage) Name() string { return "auth" }

func (s *AuthStage) Handle(rc *RequestContext) Outcome {
	sess := rc.Session
	if sess == nil || sess.UserID() == 0 {
		return Continue()
	}
	user, err := s.auth.Deserialize(rc.Gin.Request.Context(), sess.UserID())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Info("session references unknown user", zap.Int64("user_id", sess.UserID()))
		} else {
			s.logger.Error("deserialize user", zap.Int64("user_id", sess.UserID()), zap.Error(err))
		}
		sess.ClearUser()
		sess.Destroy()
		return Continue()
	}
	rc.User = user
	return Continue()
}

// SecureHeaders sets the browser hardening headers.
func SecureHeaders(cfg Config) gin.HandlerFunc {
	sc := secure.Config{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; img-src 'self' data:",
		IsDevelopment:         !cfg.Production(),
	}
	if cfg.CookieSecure {
		sc.STSSeconds = 31536000
		sc.STSIncludeSubdomains = true
	}
	return secure.New(sc)
}

// IsLoggedIn rejects anonymous requests with 403.
func IsLoggedIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		if RequestFrom(c).User == nil {
			fail(c, Forbidden("login required"))
			return
		}
		c.Next()
	}
}

// IsNotLoggedIn sends authenticated users back to the main page.
func IsNotLoggedIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		if RequestFrom(c).User != nil {
			c.Redirect(http.StatusFound, "/?error=already-logged-in")
			c.Abort()
			return
		}
		c.Next()
	}
}
