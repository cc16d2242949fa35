package core

import (
	"context"
	"html/template"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testLayout = `<html><title>{{.Title}}</title>{{template "content" .}}</html>`

func writeView(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestViewsRenderThroughLayout(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "layout.html", testLayout)
	writeView(t, dir, "hello.html", `{{define "content"}}<p>{{.Title}} &amp; {{hashtagLinks "see #go"}}</p>{{end}}`)

	v, err := NewViews(dir, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, v.Has("hello"))
	assert.False(t, v.Has("layout"))

	out, err := v.Execute("hello", PageData{Title: "<Hi>"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>&lt;Hi&gt;</title>")
	assert.Contains(t, string(out), `<a class="hashtag" href="/hashtag?hashtag=go">#go</a>`)

	_, err = v.Execute("missing", nil)
	assert.Error(t, err)
}

func TestHashtagLinksEscapesAroundTags(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"it's #go", `it&#39;s <a class="hashtag" href="/hashtag?hashtag=go">#go</a>`},
		{`say "hi" #go, ok`, `say &#34;hi&#34; <a class="hashtag" href="/hashtag?hashtag=go">#go</a>, ok`},
		{"<b>#x</b>", `&lt;b&gt;<a class="hashtag" href="/hashtag?hashtag=x">#x</a>&lt;/b&gt;`},
		{"#노드", `<a class="hashtag" href="/hashtag?hashtag=%eb%85%b8%eb%93%9c">#노드</a>`},
		{"no tags & more", "no tags &amp; more"},
	}
	for _, tt := range tests {
		assert.Equal(t, template.HTML(tt.want), hashtagLinks(tt.content), tt.content)
	}
}

func TestViewsInstanceBuffersFailures(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "layout.html", testLayout)
	writeView(t, dir, "broken.html", `{{define "content"}}{{.Missing.Field}}{{end}}`)
	v, err := NewViews(dir, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = v.Instance("broken", PageData{Title: "x"}).Render(rec)
	assert.Error(t, err)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	assert.Error(t, v.Instance("nope", nil).Render(rec))
}

func TestViewsReloadKeepsPreviousSetOnError(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "layout.html", testLayout)
	writeView(t, dir, "page.html", `{{define "content"}}v1{{end}}`)
	v, err := NewViews(dir, zap.NewNop())
	require.NoError(t, err)

	writeView(t, dir, "page.html", `{{define "content"}}v2{{end}}`)
	require.NoError(t, v.Reload())
	out, err := v.Execute("page", PageData{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "v2")

	writeView(t, dir, "page.html", `{{define "content"}}{{if}}{{end}}`)
	assert.Error(t, v.Reload())
	out, err = v.Execute("page", PageData{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "v2")
}

func TestNewViewsRequiresLayout(t *testing.T) {
	_, err := NewViews(t.TempDir(), zap.NewNop())
	assert.Error(t, err)
}

func TestViewsWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeView(t, dir, "layout.html", testLayout)
	writeView(t, dir, "page.html", `{{define "content"}}before{{end}}`)
	v, err := NewViews(dir, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool {
		// keep writing until the watcher has been registered and picked it up
		_ = os.WriteFile(filepath.Join(dir, "page.html"), []byte(`{{define "content"}}after{{end}}`), 0o644)
		out, err := v.Execute("page", PageData{})
		return err == nil && strings.Contains(string(out), "after")
	}, 5*time.Second, 150*time.Millisecond)

	writeView(t, dir, "added.html", `{{define "content"}}new page{{end}}`)
	require.Eventually(t, func() bool { return v.Has("added") }, 5*time.Second, 50*time.Millisecond)
}
