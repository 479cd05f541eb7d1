package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/config"
	"marketwatch/internal/market"
	"marketwatch/internal/storage"
	"marketwatch/pkg/logx"
)

type fakeFetcher struct {
	mu  sync.Mutex
	cat market.Catalog
}

func (f *fakeFetcher) set(pkgs map[string]string) {
	var cat market.Catalog
	for name, ver := range pkgs {
		cat.Objects = append(cat.Objects, market.CatalogObject{
			ShortName: name,
			Package:   market.CatalogPackage{Version: ver},
		})
	}
	f.mu.Lock()
	f.cat = cat
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(context.Context) (market.Catalog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cat, nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const dirConfig = `{
  "market": {"interval": "1h", "show_deletion": true},
  "broadcast": {"rules": [
    {"platform": "dir", "bot_id": "archive", "channel_id": "news"},
    {"platform": "dir", "bot_id": "ghost", "channel_id": "void"}
  ]},
  "bots": [{"platform": "dir", "id": "archive", "path": "/out"}],
  "logging": {"level": "error"},
  "storage": {"driver": "file", "path": "%s"}
}`

func TestAppPollsAndDelivers(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetch := &fakeFetcher{}
	fetch.set(map[string]string{"a": "1.0.0", "b": "1.0.0"})

	auditPath := filepath.Join(t.TempDir(), "deliveries.jsonl")
	a, err := NewWithOptions(writeConfig(t, fmt.Sprintf(dirConfig, auditPath)), Options{Fs: fs, Fetcher: fetch})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	snap, ok := a.Watcher().Current()
	require.True(t, ok, "Start should set the baseline")
	assert.Len(t, snap, 2)

	fetch.set(map[string]string{"a": "1.1.0", "c": "0.1.0"})
	require.NoError(t, a.poll(ctx))

	var files []string
	require.NoError(t, afero.Walk(fs, "/out", func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0], filepath.Join("/out", "news")+string(filepath.Separator)), files[0])

	body, err := afero.ReadFile(fs, files[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), a.renderer.Locale().Header)

	recs, err := a.store.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, storage.OutcomeSkipped, recs[0].Outcome)
	assert.Equal(t, "ghost", recs[0].BotID)
	assert.Equal(t, storage.OutcomeSent, recs[1].Outcome)

	// No changes: nothing new is written.
	require.NoError(t, a.poll(ctx))
	entries, err := afero.ReadDir(fs, filepath.Join("/out", "news"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, a.Stop(stopCtx, StopSignal))
}

func TestNewRejectsBadLocale(t *testing.T) {
	path := writeConfig(t, `{"render": {"locale": "fr"}}`)
	_, err := NewWithOptions(path, Options{Fs: afero.NewMemMapFs(), Fetcher: &fakeFetcher{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render.locale")
}

func TestWiringHelpers(t *testing.T) {
	t.Parallel()
	cfg, err := config.Decode("c.json", []byte(`{
	  "market": {"show_publisher": true},
	  "broadcast": {"rules": [{"platform": "Telegram", "bot_id": "main", "channel_id": -100, "guild_id": 7}]},
	  "bots": [
	    {"platform": "telegram", "id": "main", "token": "x", "owner_user_ids": [1, 2]},
	    {"platform": "telegram", "id": "alt", "token": "y", "owner_user_ids": [2, 3]}
	  ]
	}`))
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, owners(cfg))
	assert.Equal(t, []market.Destination{{Platform: "telegram", BotID: "main", ChannelID: "-100", GuildID: "7"}}, destinations(cfg))
	assert.True(t, diffOptions(cfg).ShowPublisher)
	assert.False(t, diffOptions(cfg).ShowDeletion)
}

func TestOpenStoreDisabled(t *testing.T) {
	t.Parallel()
	st, err := OpenStore(&config.Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestAppLogLinesCarryOneComponent(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetch := &fakeFetcher{}
	fetch.set(map[string]string{"a": "1.0.0"})

	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	body := strings.Replace(fmt.Sprintf(dirConfig, filepath.Join(dir, "deliveries.jsonl")),
		`"logging": {"level": "error"}`,
		fmt.Sprintf(`"logging": {"level": "debug", "file": {"enabled": true, "path": %q}}`, logPath), 1)
	a, err := NewWithOptions(writeConfig(t, body), Options{Fs: fs, Fetcher: fetch})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	fetch.set(map[string]string{"a": "1.1.0", "b": "0.1.0"})
	require.NoError(t, a.poll(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	out := string(raw)
	for _, comp := range []string{"app", "watch", "render", "broadcast", "dirsink"} {
		assert.Contains(t, out, `"comp":"`+comp+`"`)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"comp":`), 1, line)
	}
}

func TestNewRendererScreenshotTimeout(t *testing.T) {
	t.Parallel()
	cfg, err := config.Decode("c.json", []byte(`{"render": {"screenshot": {"endpoint": "http://shot.local"}}}`))
	require.NoError(t, err)
	_, err = NewRenderer(cfg, logx.Nop())
	require.NoError(t, err)

	cfg.Render.Screenshot.Timeout = "soon"
	_, err = NewRenderer(cfg, logx.Nop())
	assert.ErrorContains(t, err, "render.screenshot.timeout")
}
