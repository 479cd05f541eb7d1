package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"marketwatch/internal/task/scheduler"
)

// Duration parses a non-negative Go duration field; empty yields def.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references; unset variables expand to "".
func expandEnv(s string) string {
	return reEnvRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// ExpandEnv resolves ${VAR} references in the fields that may carry secrets
// or host-specific paths.
func (c *Config) ExpandEnv() {
	c.Market.Endpoint = expandEnv(c.Market.Endpoint)
	c.Render.Screenshot.Endpoint = expandEnv(c.Render.Screenshot.Endpoint)
	c.Render.Screenshot.Token = expandEnv(c.Render.Screenshot.Token)
	c.Logging.File.Path = expandEnv(c.Logging.File.Path)
	for i := range c.Bots {
		c.Bots[i].Token = expandEnv(c.Bots[i].Token)
		c.Bots[i].Path = expandEnv(c.Bots[i].Path)
	}
	for i := range c.Broadcast.Rules {
		c.Broadcast.Rules[i].ChannelID = ID(expandEnv(string(c.Broadcast.Rules[i].ChannelID)))
	}
	if c.Storage != nil {
		c.Storage.Path = expandEnv(c.Storage.Path)
	}
}

// Validate reports every structural problem it finds.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }
	dur := func(field, raw string) {
		if _, err := Duration(field, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := scheduler.ParseSchedule(string(c.Market.Interval)); err != nil {
		add("market.interval: %w", err)
	}
	dur("market.fetch_timeout", c.Market.FetchTimeout)
	dur("broadcast.delay", c.Broadcast.Delay)
	dur("broadcast.send_timeout", c.Broadcast.SendTimeout)
	dur("render.screenshot.timeout", c.Render.Screenshot.Timeout)

	for i, r := range c.Broadcast.Rules {
		if strings.TrimSpace(r.Platform) == "" || strings.TrimSpace(r.BotID) == "" || strings.TrimSpace(string(r.ChannelID)) == "" {
			add("broadcast.rules[%d]: platform, bot_id and channel_id are required", i)
		}
	}

	seen := map[string]bool{}
	for i, b := range c.Bots {
		key := strings.ToLower(b.Platform) + "/" + b.ID
		if strings.TrimSpace(b.ID) == "" {
			add("bots[%d]: id is required", i)
		} else if seen[key] {
			add("bots[%d]: duplicate bot %s", i, key)
		}
		seen[key] = true
		switch strings.ToLower(strings.TrimSpace(b.Platform)) {
		case "telegram":
			if strings.TrimSpace(b.Token) == "" {
				add("bots[%d]: telegram token is required", i)
			}
			dur(fmt.Sprintf("bots[%d].poll_timeout", i), b.PollTimeout)
		case "dir":
			if strings.TrimSpace(b.Path) == "" {
				add("bots[%d]: dir path is required", i)
			}
		default:
			add("bots[%d]: unknown platform %q", i, b.Platform)
		}
	}

	if op := c.Logging.Operator; op.Enabled {
		if _, ok := c.Bot("telegram", op.BotID); !ok {
			add("logging.operator.bot_id: no telegram bot %q", op.BotID)
		}
		if op.ChatID == 0 {
			add("logging.operator.chat_id is required")
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", s.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	return errors.Join(errs...)
}

// UnboundRules lists rules that do not name a configured bot. They are
// not an error: the dispatcher skips them at send time.
func (c *Config) UnboundRules() []RuleConfig {
	var out []RuleConfig
	for _, r := range c.Broadcast.Rules {
		if _, ok := c.Bot(r.Platform, r.BotID); !ok {
			out = append(out, r)
		}
	}
	return out
}
