package core

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const requestContextKey = "nodebird.request"

// RequestContext is the per-request state shared by pipeline stages and
// route handlers. It is private to one request.
type RequestContext struct {
	Gin           *gin.Context
	RequestID     string
	Start         time.Time
	Body          map[string]string
	Cookies       map[string]string
	SignedCookies map[string]string
	Session       *Session
	User          *User

	finishers  []func()
	commitOnce sync.Once
	commits    []func() error
}

func newRequestContext(c *gin.Context) *RequestContext {
	rc := &RequestContext{
		Gin:           c,
		Start:         time.Now(),
		Body:          map[string]string{},
		Cookies:       map[string]string{},
		SignedCookies: map[string]string{},
	}
	c.Set(requestContextKey, rc)
	return rc
}

// RequestFrom returns the RequestContext attached by the pipeline.
func RequestFrom(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*RequestContext); ok {
			return rc
		}
	}
	return newRequestContext(c)
}

// Field returns the parsed body value for name, or "" when absent.
func (rc *RequestContext) Field(name string) string {
	return rc.Body[name]
}

// Defer registers fn to run after the response has been handled.
// Finishers run in reverse registration order.
func (rc *RequestContext) Defer(fn func()) {
	rc.finishers = append(rc.finishers, fn)
}

// OnCommit registers fn to run once, right before response headers are flushed.
func (rc *RequestContext) OnCommit(fn func() error) {
	rc.commits = append(rc.commits, fn)
}

// commit runs the commit hooks; only the first call can report an error.
func (rc *RequestContext) commit() (err error) {
	rc.commitOnce.Do(func() {
		for _, fn := range rc.commits {
			if err = fn(); err != nil {
				return
			}
		}
	})
	return err
}

func (rc *RequestContext) finish() {
	for i := len(rc.finishers) - 1; i >= 0; i-- {
		rc.finishers[i]()
	}
}

// OutcomeKind tags the result of a pipeline stage.
type OutcomeKind uint8

const (
	// OutcomeContinue passes the (possibly mutated) context to the next stage.
	OutcomeContinue OutcomeKind = iota
	// OutcomeRespond means the stage completed the response itself.
	OutcomeRespond
	// OutcomeFail skips every remaining stage and route handler.
	OutcomeFail
)

type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Continue() Outcome      { return Outcome{Kind: OutcomeContinue} }
func Respond() Outcome       { return Outcome{Kind: OutcomeRespond} }
func Fail(err error) Outcome { return Outcome{Kind: OutcomeFail, Err: err} }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeRespond:
		return "respond"
	case OutcomeFail:
		return fmt.Sprintf("fail(%v)", o.Err)
	default:
		return "continue"
	}
}

// Stage is one step of the request pipeline.
type Stage interface {
	Name() string
	Handle(rc *RequestContext) Outcome
}

// Pipeline runs its stages in order before gin's route handlers and owns the
// error fallthrough: any failure, from a stage, a handler or a panic, ends in
// the terminal error renderer.
type Pipeline struct {
	stages   []Stage
	terminal *ErrorRenderer
	logger   *zap.Logger
}

func NewPipeline(terminal *ErrorRenderer, logger *zap.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, terminal: terminal, logger: logger}
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Handler adapts the pipeline to a gin middleware. It must be the first
// application middleware so that route handlers and NoRoute run inside it.
func (p *Pipeline) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := newRequestContext(c)
		c.Writer = &commitWriter{ResponseWriter: c.Writer, rc: rc, logger: p.logger}
		defer rc.finish()
		defer p.recoverPanic(rc)

		if err := p.run(rc); err != nil {
			p.fail(rc, err)
			return
		}
		if err := rc.commit(); err != nil {
			p.fail(rc, err)
		}
	}
}

func (p *Pipeline) run(rc *RequestContext) error {
	for _, st := range p.stages {
		out := st.Handle(rc)
		switch out.Kind {
		case OutcomeRespond:
			rc.Gin.Abort()
			return nil
		case OutcomeFail:
			rc.Gin.Abort()
			return out.Err
		}
	}
	rc.Gin.Next()
	if len(rc.Gin.Errors) > 0 {
		return rc.Gin.Errors[0].Err
	}
	return nil
}

func (p *Pipeline) fail(rc *RequestContext, err error) {
	if rc.Gin.Writer.Written() {
		p.logger.Error("error after response started",
			zap.String("path", rc.Gin.Request.URL.Path), zap.Error(err))
		return
	}
	p.terminal.Render(rc, err)
}

func (p *Pipeline) recoverPanic(rc *RequestContext) {
	r := recover()
	if r == nil {
		return
	}
	rc.Gin.Abort()
	he := Internal(fmt.Errorf("panic: %v", r))
	he.Stack = debug.Stack()
	p.fail(rc, he)
}

// commitWriter runs the request's commit hooks before the first byte or
// header reaches the client.
type commitWriter struct {
	gin.ResponseWriter
	rc     *RequestContext
	logger *zap.Logger
}

func (w *commitWriter) commit() {
	if err := w.rc.commit(); err != nil {
		w.logger.Error("commit before write failed", zap.Error(err))
	}
}

func (w *commitWriter) WriteHeaderNow() {
	w.commit()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *commitWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *commitWriter) WriteString(s string) (int, error) {
	w.commit()
	return w.ResponseWriter.WriteString(s)
}

func (w *commitWriter) Flush() {
	w.commit()
	w.ResponseWriter.Flush()
}
