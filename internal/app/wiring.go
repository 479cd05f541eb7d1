package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"marketwatch/internal/config"
	"marketwatch/internal/market"
	"marketwatch/internal/render"
	"marketwatch/internal/storage"
	"marketwatch/internal/transport"
	"marketwatch/internal/transport/dirsink"
	telegram "marketwatch/internal/transport/telegram/adapter"
	"marketwatch/pkg/logx"
)

// newTelegram is swapped in tests so no network handshake happens.
var newTelegram = func(cfg telegram.Config, log logx.Logger) (transport.Bot, error) {
	return telegram.New(cfg, log)
}

// buildBots registers one transport per configured bot, in config order.
func buildBots(cfg *config.Config, fs afero.Fs, log logx.Logger) (*transport.Registry, error) {
	reg := transport.NewRegistry()
	for i, bc := range cfg.Bots {
		var (
			b   transport.Bot
			err error
		)
		switch strings.ToLower(bc.Platform) {
		case telegram.Platform:
			var poll time.Duration
			poll, err = config.Duration(fmt.Sprintf("bots[%d].poll_timeout", i), bc.PollTimeout, 10*time.Second)
			if err != nil {
				return nil, err
			}
			b, err = newTelegram(telegram.Config{ID: bc.ID, Token: bc.Token, PollTimeout: poll}, log)
		case dirsink.Platform:
			b, err = dirsink.New(dirsink.Config{ID: bc.ID, Path: bc.Path}, fs, log)
		default:
			err = fmt.Errorf("unsupported platform %q", bc.Platform)
		}
		if err != nil {
			return nil, fmt.Errorf("bot %s/%s: %w", bc.Platform, bc.ID, err)
		}
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// owners merges the owner ids of every telegram bot.
func owners(cfg *config.Config) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, b := range cfg.Bots {
		for _, id := range b.OwnerUserIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    l.Operator.Enabled,
			MinLevel:   l.Operator.MinLevel,
			RatePerSec: l.Operator.RatePerSec,
		},
	}
}

// applyOperatorTarget points operator logs at the configured chat, or
// clears the target when the bot is missing or cannot send text.
func applyOperatorTarget(logs *logx.Service, reg *transport.Registry, cfg *config.Config) {
	op := cfg.Logging.Operator
	if !op.Enabled {
		logs.SetOperatorTarget(nil, transport.ChatTarget{})
		return
	}
	b, ok := reg.Lookup(telegram.Platform, op.BotID)
	ts, canText := b.(transport.TextSender)
	if !ok || !canText {
		logs.SetOperatorTarget(nil, transport.ChatTarget{})
		return
	}
	logs.SetOperatorTarget(ts, transport.ChatTarget{ChatID: op.ChatID, ThreadID: op.ThreadID})
}

// OpenStore opens the configured audit store; nil means disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
}

// NewRenderer builds the card renderer. Without a screenshot endpoint the
// renderer produces the text fallback.
func NewRenderer(cfg *config.Config, log logx.Logger) (*render.Renderer, error) {
	opt := render.Options{Locale: cfg.Render.Locale, Log: log}
	sc := cfg.Render.Screenshot
	if strings.TrimSpace(sc.Endpoint) != "" {
		timeout, err := config.Duration("render.screenshot.timeout", sc.Timeout, render.DefaultScreenshotTimeout)
		if err != nil {
			return nil, err
		}
		opt.Screenshotter = render.NewScreenshotClient(sc.Endpoint, sc.Token, sc.Width, timeout)
	}
	return render.New(opt)
}

func diffOptions(cfg *config.Config) market.DiffOptions {
	return market.DiffOptions{
		ShowPublisher:   cfg.Market.ShowPublisher,
		ShowDescription: cfg.Market.ShowDescription,
		ShowDeletion:    cfg.Market.ShowDeletion,
	}
}

func destinations(cfg *config.Config) []market.Destination {
	out := make([]market.Destination, 0, len(cfg.Broadcast.Rules))
	for _, r := range cfg.Broadcast.Rules {
		out = append(out, market.Destination{
			Platform:  strings.ToLower(r.Platform),
			BotID:     r.BotID,
			ChannelID: string(r.ChannelID),
			GuildID:   string(r.GuildID),
		})
	}
	return out
}

// validate holds the checks config cannot do on its own.
func validate(_ context.Context, cfg *config.Config) error {
	var errs []error
	if !render.ValidLocale(cfg.Render.Locale) {
		errs = append(errs, fmt.Errorf("render.locale: unsupported %q", cfg.Render.Locale))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	return errors.Join(errs...)
}
