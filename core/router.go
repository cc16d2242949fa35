package core

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	DB        *DB
	Users     UserRepository
	Posts     PostRepository
	Sessions  SessionStore
	Views     *Views
	Metrics   *Metrics
	Logger    *zap.Logger
	StartedAt time.Time
}

type handlers struct {
	cfg       Config
	logger    *zap.Logger
	db        *DB
	sessions  SessionStore
	posts     PostRepository
	accounts  *AccountService
	auth      *Authenticator
	metrics   *Metrics
	startedAt time.Time
}

// NewRouter constructs the Gin engine with the request pipeline and routes wired.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	r := gin.New()
	r.HTMLRender = deps.Views
	if cfg.SecureHeaders {
		r.Use(SecureHeaders(cfg))
	}

	auth := NewAuthenticator(deps.Users).Use(NewLocalStrategy(deps.Users))
	codec := NewCookieCodec(cfg.CookieSecret)
	manager := NewSessionManager(cfg, deps.Sessions, codec, deps.Logger)
	terminal := NewErrorRenderer(deps.Views, cfg, deps.Logger)
	pipeline := NewPipeline(terminal, deps.Logger, NewStages(cfg, deps.Logger, deps.Metrics, codec, manager, auth)...)
	r.Use(pipeline.Handler())

	h := &handlers{
		cfg:       cfg,
		logger:    deps.Logger,
		db:        deps.DB,
		sessions:  deps.Sessions,
		posts:     deps.Posts,
		accounts:  NewAccountService(deps.Users),
		auth:      auth,
		metrics:   deps.Metrics,
		startedAt: deps.StartedAt,
	}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	h.registerPageRoutes(r)
	h.registerAuthRoutes(r.Group("/auth"))
	h.registerPostRoutes(r.Group("/post"))

	r.NoRoute(func(c *gin.Context) {
		fail(c, NotFound(c.Request.Method, c.Request.URL.Path))
	})
	return r
}

func (h *handlers) health(c *gin.Context) {
	st := CollectHealth(c.Request.Context(), h.db, h.sessions, h.startedAt, h.logger)
	status := http.StatusOK
	if st.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, st)
}
