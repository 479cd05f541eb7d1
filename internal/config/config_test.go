package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/pkg/logx"
)

const sampleYAML = `
market:
  interval: 1800000
  show_deletion: true
broadcast:
  delay: 1s
  rules:
    - { platform: telegram, bot_id: main, channel_id: -1001234 }
    - { platform: dir, bot_id: archive, channel_id: news, guild_id: g1 }
bots:
  - { platform: telegram, id: main, token: "${MW_TEST_TOKEN}", owner_user_ids: [1] }
  - { platform: dir, id: archive, path: /tmp/artifacts }
logging:
  level: debug
  operator: { enabled: true, bot_id: main, chat_id: -100999 }
storage:
  driver: sqlite
  path: ./mw.db
`

func TestDecodeYAML(t *testing.T) {
	t.Setenv("MW_TEST_TOKEN", "123:abc")

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, Schedule("1800000"), cfg.Market.Interval)
	assert.Equal(t, DefaultEndpoint, cfg.Market.Endpoint)
	assert.True(t, cfg.Market.ShowDeletion)
	assert.Equal(t, DefaultLocale, cfg.Render.Locale)
	assert.Equal(t, 1280, cfg.Render.Screenshot.Width)
	require.Len(t, cfg.Broadcast.Rules, 2)
	assert.Equal(t, ID("-1001234"), cfg.Broadcast.Rules[0].ChannelID)
	assert.Equal(t, ID("g1"), cfg.Broadcast.Rules[1].GuildID)
	assert.Equal(t, "123:abc", cfg.Bots[0].Token)
	assert.Equal(t, "warn", cfg.Logging.Operator.MinLevel)
	assert.Equal(t, 1, cfg.Logging.Operator.RatePerSec)
	assert.Empty(t, cfg.UnboundRules())
}

func TestDecodeJSONDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(`{"market":{"show_hidden":true}}`))
	require.NoError(t, err)
	assert.Equal(t, Schedule(DefaultInterval), cfg.Market.Interval)
	assert.True(t, cfg.Market.ShowHidden)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "unknown field", path: "c.json", body: `{"market":{"intervl":"30m"}}`},
		{name: "trailing data", path: "c.json", body: `{} {}`},
		{name: "bad yaml", path: "c.yml", body: "market: [\n"},
		{name: "bad interval", path: "c.json", body: `{"market":{"interval":"soon"}}`},
		{name: "bad delay", path: "c.json", body: `{"broadcast":{"delay":"-1s"}}`},
		{name: "rule without channel", path: "c.json", body: `{"broadcast":{"rules":[{"platform":"telegram","bot_id":"main"}]}}`},
		{name: "telegram without token", path: "c.json", body: `{"bots":[{"platform":"telegram","id":"main"}]}`},
		{name: "unknown platform", path: "c.json", body: `{"bots":[{"platform":"irc","id":"x"}]}`},
		{name: "duplicate bot", path: "c.json", body: `{"bots":[{"platform":"dir","id":"a","path":"x"},{"platform":"dir","id":"a","path":"y"}]}`},
		{name: "operator without bot", path: "c.json", body: `{"logging":{"operator":{"enabled":true,"chat_id":1}}}`},
		{name: "unknown storage", path: "c.json", body: `{"storage":{"driver":"redis"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.path, []byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestUnboundRules(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(`{"broadcast":{"rules":[{"platform":"telegram","bot_id":"ghost","channel_id":"1"}]}}`))
	require.NoError(t, err)
	require.Len(t, cfg.UnboundRules(), 1)
	assert.Equal(t, "ghost", cfg.UnboundRules()[0].BotID)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	a.ApplyDefaults()
	b := *a
	b.Logging.Level = "debug"
	b.Bots = []BotConfig{{Platform: "dir", ID: "x", Path: "p"}}

	changed, attrs := SummarizeConfigChange(a, &b)
	assert.Equal(t, []string{"bots", "logging"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600))

	m := NewConfigManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory, then keep
	// rewriting until an update arrives.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-sub:
			assert.Equal(t, "debug", got.Logging.Level)
			assert.Equal(t, "debug", m.Get().Logging.Level)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
		case <-deadline:
			t.Fatal("reload not published")
		}
	}
}

func TestManagerRejectsInvalidReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	m := NewConfigManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)

	require.NoError(t, os.WriteFile(path, []byte(`{"nope":1}`), 0o600))
	m.reload(context.Background())
	assert.Empty(t, sub)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600))
	m.reload(context.Background())
	assert.Empty(t, sub)
	assert.Equal(t, "info", m.Get().Logging.Level)
}
