package render

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/market"
)

type fakeShot struct {
	doc string
	img []byte
	err error
}

func (f *fakeShot) Screenshot(_ context.Context, document string) ([]byte, error) {
	f.doc = document
	return f.img, f.err
}

func newRenderer(t *testing.T, opt Options) *Renderer {
	t.Helper()
	r, err := New(opt)
	require.NoError(t, err)
	return r
}

func TestCardTitle(t *testing.T) {
	t.Parallel()

	en := LookupLocale("en")
	zh := LookupLocale("zh")
	add := market.Change{Kind: market.KindAdded, Name: "a", Version: "1.0.0"}
	upd := market.Change{Kind: market.KindUpdated, Name: "b", OldVersion: "1", NewVersion: "2"}
	rem := market.Change{Kind: market.KindRemoved, Name: "c"}

	assert.Equal(t, "Added: a (1.0.0)", CardTitle(en, add))
	assert.Equal(t, "Updated: b (1 → 2)", CardTitle(en, upd))
	assert.Equal(t, "Removed: c", CardTitle(en, rem))
	assert.Equal(t, "新增：a (1.0.0)", CardTitle(zh, add))
	assert.Equal(t, "删除：c", CardTitle(zh, rem))

	assert.Equal(t, "en", LookupLocale("fr").Code)
	assert.True(t, ValidLocale(" ZH "))
	assert.False(t, ValidLocale("fr"))
}

func TestDocumentOrderAndEscaping(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, Options{})
	changes := []market.Change{
		{Kind: market.KindRemoved, Name: "gone"},
		{Kind: market.KindAdded, Name: "<script>x</script>", Version: "1", Publisher: "eve\"", Description: "# Title\n\nline1\nline2 <img src=x onerror=alert(1)> [l](javascript:alert(1))\n\n- item"},
		{Kind: market.KindUpdated, Name: "upd", OldVersion: "1", NewVersion: "2"},
	}
	doc, err := r.Document(changes)
	require.NoError(t, err)

	iGone := strings.Index(doc, "Removed: gone")
	iAdd := strings.Index(doc, "Added: &lt;script&gt;")
	iUpd := strings.Index(doc, "Updated: upd (1 → 2)")
	require.True(t, iGone > 0 && iAdd > iGone && iUpd > iAdd, "cards out of order")

	assert.NotContains(t, doc, "<script>x</script>")
	assert.NotContains(t, doc, "onerror=alert")
	assert.NotContains(t, doc, "javascript:alert")
	assert.Contains(t, doc, "<h1>Title</h1>")
	assert.Contains(t, doc, "line1<br />")
	assert.Contains(t, doc, "<li>item</li>")
	assert.Contains(t, doc, "@eve&#34;")
	assert.Contains(t, doc, "#2e3440")
	assert.Equal(t, 3, strings.Count(doc, `<div class="card `))
}

func TestRenderWithScreenshotter(t *testing.T) {
	t.Parallel()

	shot := &fakeShot{img: []byte("PNG")}
	r := newRenderer(t, Options{Locale: "zh", Screenshotter: shot})

	art, err := r.Render(context.Background(), DemoChanges())
	require.NoError(t, err)
	assert.True(t, art.IsImage())
	assert.Equal(t, []byte("PNG"), art.Image)
	assert.True(t, strings.HasSuffix(art.Name, ".png"))
	assert.Contains(t, shot.doc, "[插件市场更新]")
	assert.Contains(t, shot.doc, "新增：koishi-plugin-test (1.0.0)")
}

func TestRenderFailureIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser down")
	r := newRenderer(t, Options{Screenshotter: &fakeShot{err: boom}})

	_, err := r.Render(context.Background(), DemoChanges())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = r.Render(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoChanges)
}

func TestRenderTextFallback(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, Options{})
	art, err := r.Render(context.Background(), []market.Change{
		{Kind: market.KindAdded, Name: "a<b", Version: "1", Publisher: "bob", Description: "multi\nline   text"},
		{Kind: market.KindUpdated, Name: "u", OldVersion: "1", NewVersion: "2"},
	})
	require.NoError(t, err)
	assert.False(t, art.IsImage())
	assert.Equal(t, "HTML", art.ParseMode)

	want := strings.Join([]string{
		"<b>[Market updates]</b>",
		"• Added: a&lt;b (1)",
		"   <i>publisher: @bob</i>",
		"   multi line text",
		"• Updated: u (1 → 2)",
	}, "\n")
	assert.Equal(t, want, art.Text)
}

func TestScreenshotClient(t *testing.T) {
	t.Parallel()

	var got screenshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screenshot", r.URL.Path)
		assert.Equal(t, "s3cr3t", r.URL.Query().Get("token"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	c := NewScreenshotClient(srv.URL+"/", "s3cr3t", 0, time.Second)
	img, err := c.Screenshot(context.Background(), "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img)
	assert.Equal(t, "<p>hi</p>", got.HTML)
	assert.Equal(t, "png", got.Options.Type)
	assert.True(t, got.Options.FullPage)
	assert.Equal(t, 1280, got.Viewport.Width)
}

func TestScreenshotClientErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no chrome", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewScreenshotClient(srv.URL, "", 800, time.Second).Screenshot(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScreenshot)
	assert.Contains(t, err.Error(), "http=503")
}

func TestScreenshotClientDefaults(t *testing.T) {
	t.Parallel()
	c := NewScreenshotClient(" http://shot.local/ ", "", 0, 0)
	assert.Equal(t, "http://shot.local", c.Endpoint)
	assert.Equal(t, 1280, c.Width)
	assert.Equal(t, DefaultScreenshotTimeout, c.HTTP.Timeout)
}
