package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"
)

const (
	layoutFile = "layout.html"
	viewExt    = ".html"
)

var htmlContentType = []string{"text/html; charset=utf-8"}

// Views renders the templates of one directory. Every page file is parsed
// together with layout.html and executed through it. The parsed set is
// swapped atomically, so Reload is safe while requests render.
type Views struct {
	dir    string
	funcs  template.FuncMap
	logger *zap.Logger
	set    atomic.Pointer[map[string]*template.Template]
}

// NewViews parses dir once and fails when any template is invalid.
func NewViews(dir string, logger *zap.Logger) (*Views, error) {
	v := &Views{dir: dir, logger: logger, funcs: viewFuncs()}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

func viewFuncs() template.FuncMap {
	return template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
		"hashtagLinks": hashtagLinks,
	}
}

// hashtagLinks escapes content and turns each #tag into a search link.
// Tags are matched on the raw text so entities never look like tags.
func hashtagLinks(content string) template.HTML {
	var b strings.Builder
	last := 0
	for _, loc := range hashtagPattern.FindAllStringIndex(content, -1) {
		tag := content[loc[0]:loc[1]]
		b.WriteString(template.HTMLEscapeString(content[last:loc[0]]))
		fmt.Fprintf(&b, `<a class="hashtag" href="/hashtag?hashtag=%s">%s</a>`,
			template.URLQueryEscaper(strings.TrimPrefix(tag, "#")), template.HTMLEscapeString(tag))
		last = loc[1]
	}
	b.WriteString(template.HTMLEscapeString(content[last:]))
	return template.HTML(b.String())
}

// Reload re-parses the directory. On error the previous set stays active.
func (v *Views) Reload() error {
	layout := filepath.Join(v.dir, layoutFile)
	if _, err := os.Stat(layout); err != nil {
		return fmt.Errorf("views: %w", err)
	}
	pages, err := filepath.Glob(filepath.Join(v.dir, "*"+viewExt))
	if err != nil {
		return err
	}
	set := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		base := filepath.Base(page)
		if base == layoutFile {
			continue
		}
		t, err := template.New(layoutFile).Funcs(v.funcs).ParseFiles(layout, page)
		if err != nil {
			return fmt.Errorf("views: parse %s: %w", base, err)
		}
		set[strings.TrimSuffix(base, viewExt)] = t
	}
	v.set.Store(&set)
	return nil
}

// Has reports whether a page named name is loaded.
func (v *Views) Has(name string) bool {
	_, ok := (*v.set.Load())[name]
	return ok
}

// Instance implements gin's render.HTMLRender.
func (v *Views) Instance(name string, data any) render.Render {
	return &viewRender{tmpl: (*v.set.Load())[name], name: name, data: data}
}

// Execute renders page name into a byte slice.
func (v *Views) Execute(name string, data any) ([]byte, error) {
	t := (*v.set.Load())[name]
	if t == nil {
		return nil, fmt.Errorf("views: unknown view %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutFile, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// viewRender buffers the whole page so a failing template never leaves a
// half-written response behind.
type viewRender struct {
	tmpl *template.Template
	name string
	data any
}

func (r *viewRender) Render(w http.ResponseWriter) error {
	if r.tmpl == nil {
		return fmt.Errorf("views: unknown view %q", r.name)
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, layoutFile, r.data); err != nil {
		return err
	}
	r.WriteContentType(w)
	_, err := w.Write(buf.Bytes())
	return err
}

func (r *viewRender) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if val := header["Content-Type"]; len(val) == 0 {
		header["Content-Type"] = htmlContentType
	}
}

// Watch reloads the views whenever a template file changes, until ctx is
// done. Bursts of events are coalesced into one reload.
func (v *Views) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(v.dir); err != nil {
		return err
	}
	v.logger.Info("watching views", zap.String("dir", v.dir))

	const settle = 100 * time.Millisecond
	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != viewExt || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(settle)
				continue
			}
			v.logger.Warn("views watcher error", zap.Error(err))
		case <-timer.C:
			if err := v.Reload(); err != nil {
				v.logger.Error("views reload failed; keeping previous templates", zap.Error(err))
				continue
			}
			v.logger.Info("views reloaded", zap.String("dir", v.dir))
		}
	}
}
